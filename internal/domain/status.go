package domain

// Status — статус выполнения task и action (общий enum).
//
// Жизненный цикл:
//
//	waiting → running → waiting (следующий шаг, только для task)
//	                  ↘ completed
//	                  ↘ failed
//	                  ↘ canceled
//
// completed, failed и canceled — финальные: после установки
// они не перезаписываются.
type Status string

const (
	// StatusWaiting — ждёт dispatcher'а (task) или воркера (action).
	StatusWaiting Status = "waiting"

	// StatusRunning — action выполняется воркером.
	StatusRunning Status = "running"

	// StatusFailed — завершено с ошибкой.
	StatusFailed Status = "failed"

	// StatusCompleted — успешно завершено.
	StatusCompleted Status = "completed"

	// StatusCanceled — отменено оператором.
	StatusCanceled Status = "canceled"
)

// IsTerminal возвращает true, если статус финальный.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус входит в enum.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusFailed, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление Status.
func (s Status) String() string {
	return string(s)
}

// Repeat — политика повторного запуска workflow.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// ParseRepeat парсит строку в Repeat. Неизвестные значения — RepeatNone.
func ParseRepeat(s string) Repeat {
	switch Repeat(s) {
	case RepeatDaily, RepeatWeekly, RepeatMonthly:
		return Repeat(s)
	default:
		return RepeatNone
	}
}

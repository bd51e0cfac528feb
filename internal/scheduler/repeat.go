package scheduler

import (
	"time"

	"github.com/shaiso/actionflow/internal/domain"
)

// maxMonthDay — день месяца, который есть в любом месяце.
const maxMonthDay = 28

// NextRunAt вычисляет следующий запуск workflow после prev.
//
// none → nil; daily → +24h; weekly → +7d; monthly → тот же день
// следующего месяца (не позже 28-го) с тем же временем суток.
// Пропущенные запуски не догоняются: результат всегда строго после now.
func NextRunAt(repeat domain.Repeat, prev, now time.Time) *time.Time {
	step := stepFunc(repeat)
	if step == nil {
		return nil
	}

	next := step(prev)
	for !next.After(now) {
		next = step(next)
	}
	return &next
}

func stepFunc(repeat domain.Repeat) func(time.Time) time.Time {
	switch repeat {
	case domain.RepeatDaily:
		return func(t time.Time) time.Time { return t.Add(24 * time.Hour) }
	case domain.RepeatWeekly:
		return func(t time.Time) time.Time { return t.Add(7 * 24 * time.Hour) }
	case domain.RepeatMonthly:
		return nextMonth
	default:
		return nil
	}
}

func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, min(t.Day(), maxMonthDay),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

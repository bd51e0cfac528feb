package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Task — один запуск workflow.
//
// Task владеет курсором шагов: в любой момент заполнено не больше
// одного из CurrentActionID / NextAction. Сразу после создания
// заполнен только NextAction.
//
// Task создаётся Scheduler'ом, дальше им владеют Dispatcher и Executor.
type Task struct {
	ID             uuid.UUID `json:"id"`
	WorkflowID     uuid.UUID `json:"workflow_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ProjectID      uuid.UUID `json:"project_id"`

	Status Status `json:"status"`

	// Actions — неизменяемый снапшот шагов workflow на момент создания.
	Actions []ActionCommand `json:"actions"`

	// CurrentActionID — action, который сейчас выполняется.
	CurrentActionID *uuid.UUID `json:"current_action_id,omitempty"`

	// NextAction — шаг, который dispatcher материализует следующим.
	// У failed/canceled task указывает на шаг, на котором остановились.
	NextAction *ActionCommand `json:"next_action,omitempty"`

	Error *ActionError `json:"error,omitempty"`

	Prompt    string         `json:"prompt,omitempty"`
	Materials map[string]any `json:"materials,omitempty"`
	Results   map[string]any `json:"results,omitempty"`
	Assets    map[string]any `json:"assets,omitempty"`

	// Usage — накопленная стоимость всех шагов.
	Usage float64 `json:"usage"`

	// Version растёт с каждой записью task. Хранилище сравнивает её при
	// CAS, так что запись по устаревшему снимку проигрывает.
	Version int64 `json:"version"`

	// IdempotencyKey — "{workflow_id}_{next_run_at_unix}", защищает от
	// повторного создания task при ретрае тика.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewTaskFromWorkflow создаёт task в статусе waiting с курсором на первом шаге.
func NewTaskFromWorkflow(wf *Workflow, idempotencyKey string, now time.Time) *Task {
	actions := cloneCommands(wf.Actions)
	for i := range actions {
		actions[i].Index = i
	}

	t := &Task{
		ID:             uuid.New(),
		WorkflowID:     wf.ID,
		OrganizationID: wf.OrganizationID,
		ProjectID:      wf.ProjectID,
		Status:         StatusWaiting,
		Actions:        actions,
		Prompt:         wf.Prompt,
		Materials:      maps.Clone(wf.Materials),
		Results:        map[string]any{},
		Assets:         map[string]any{},
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(actions) > 0 {
		t.NextAction = actions[0].Clone()
	}
	return t
}

// CursorValid проверяет инвариант курсора.
func (t *Task) CursorValid() bool {
	return t.CurrentActionID == nil || t.NextAction == nil
}

// IsLastStep возвращает true, если cmd — последний шаг снапшота.
func (t *Task) IsLastStep(cmd *ActionCommand) bool {
	return cmd.Index >= len(t.Actions)-1
}

// CommandAt возвращает копию шага по индексу.
func (t *Task) CommandAt(index int) (*ActionCommand, error) {
	if index < 0 || index >= len(t.Actions) {
		return nil, fmt.Errorf("command index %d out of range [0, %d)", index, len(t.Actions))
	}
	return t.Actions[index].Clone(), nil
}

// MarkDispatched переводит task в running с текущим action.
func (t *Task) MarkDispatched(actionID uuid.UUID, now time.Time) {
	id := actionID
	t.Status = StatusRunning
	t.CurrentActionID = &id
	t.NextAction = nil
	if t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	t.UpdatedAt = now
}

// Advance возвращает task в waiting и ставит курсор на шаг после cmd.
func (t *Task) Advance(cmd *ActionCommand, results, assets map[string]any, cost float64, now time.Time) error {
	next, err := t.CommandAt(cmd.Index + 1)
	if err != nil {
		return err
	}
	t.Status = StatusWaiting
	t.CurrentActionID = nil
	t.NextAction = next
	t.MergeOutputs(results, assets)
	t.Usage += cost
	t.UpdatedAt = now
	return nil
}

// Complete завершает task после последнего шага.
func (t *Task) Complete(results, assets map[string]any, cost float64, now time.Time) {
	t.Status = StatusCompleted
	t.CurrentActionID = nil
	t.NextAction = nil
	t.MergeOutputs(results, assets)
	t.Usage += cost
	t.finish(now)
}

// CancelAt фиксирует отмену, замеченную при расчёте шага cmd.
// NextAction указывает на cmd, чтобы шаг не потерялся.
func (t *Task) CancelAt(cmd *ActionCommand, cost float64, now time.Time) {
	t.Status = StatusCanceled
	t.CurrentActionID = nil
	t.NextAction = cmd.Clone()
	t.Usage += cost
	t.finish(now)
}

// Fail переводит task в failed. NextAction указывает на упавший шаг,
// чтобы повтор продолжил с него.
func (t *Task) Fail(cmd *ActionCommand, actionErr *ActionError, cost float64, now time.Time) {
	t.Status = StatusFailed
	t.CurrentActionID = nil
	t.NextAction = cmd.Clone()
	t.Error = actionErr
	t.Usage += cost
	t.finish(now)
}

// Reap принудительно фейлит зависший task и очищает курсор.
func (t *Task) Reap(actionErr *ActionError, now time.Time) {
	t.Status = StatusFailed
	t.CurrentActionID = nil
	t.NextAction = nil
	t.Error = actionErr
	t.finish(now)
}

// Cancel отменяет task по запросу оператора.
// Курсор не трогаем: executor увидит отмену при расчёте текущего шага.
func (t *Task) Cancel(now time.Time) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", ErrTerminalState, t.ID, t.Status)
	}
	t.Status = StatusCanceled
	t.UpdatedAt = now
	return nil
}

// MergeOutputs добавляет results/assets шага в task.
// При совпадении ключей остаётся значение task (первый записавший).
func (t *Task) MergeOutputs(results, assets map[string]any) {
	t.Results = mergeKeepExisting(t.Results, results)
	t.Assets = mergeKeepExisting(t.Assets, assets)
}

// Clone возвращает копию task.
func (t *Task) Clone() *Task {
	out := *t
	out.Actions = cloneCommands(t.Actions)
	out.NextAction = t.NextAction.Clone()
	if t.CurrentActionID != nil {
		id := *t.CurrentActionID
		out.CurrentActionID = &id
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	out.Materials = maps.Clone(t.Materials)
	out.Results = maps.Clone(t.Results)
	out.Assets = maps.Clone(t.Assets)
	out.StartedAt = cloneTime(t.StartedAt)
	out.FinishedAt = cloneTime(t.FinishedAt)
	return &out
}

func (t *Task) finish(now time.Time) {
	finished := now
	t.FinishedAt = &finished
	t.UpdatedAt = now
}

func mergeKeepExisting(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}

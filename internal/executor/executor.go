// Package executor — машина состояний одного шага: проверяет work item,
// выполняет handler команды, считает стоимость и переводит action и task.
package executor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/actionflow/internal/actions"
	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
	"github.com/shaiso/actionflow/internal/usage"
)

// maxTaskAttempts — попытки CAS-записи task при гонке с отменой.
const maxTaskAttempts = 3

// ActionStore — то, что executor'у нужно от хранилища actions.
type ActionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Action, error)
	Update(ctx context.Context, a *domain.Action, expect domain.Status) error
}

// TaskStore — то, что executor'у нужно от хранилища tasks.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task, expect domain.Status) error
}

// Ledger — допуск и списание расходов. Реализация — *usage.Ledger.
type Ledger interface {
	Admit(ctx context.Context, orgID uuid.UUID, now time.Time) error
	Record(ctx context.Context, orgID uuid.UUID, cost float64, now time.Time) error
}

// Commands — реестр handler'ов. Реализация — *actions.Registry.
type Commands interface {
	Get(command string) (actions.Handler, error)
}

// Outcome — итог обработки work item.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // последний шаг, task completed
	OutcomeAdvanced  Outcome = "advanced"  // task вернулась в waiting со следующим шагом
	OutcomeCanceled  Outcome = "canceled"  // task отменили, пока шаг выполнялся
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped" // дубликат доставки, ничего не изменено
)

// Result — что произошло с action.
type Result struct {
	Outcome  Outcome
	TaskID   uuid.UUID
	ActionID uuid.UUID
	Command  string
	Cost     float64
	Error    *domain.ActionError
}

// Executor выполняет work items.
type Executor struct {
	actions  ActionStore
	tasks    TaskStore
	ledger   Ledger
	commands Commands
	pricing  usage.Pricing
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	Actions  ActionStore
	Tasks    TaskStore
	Ledger   Ledger
	Commands Commands
	Pricing  usage.Pricing    // default: usage.DefaultPricing
	Timeout  time.Duration    // таймаут handler'а (default: 15m)
	Now      func() time.Time // default: time.Now
	Logger   *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	e := &Executor{
		actions:  cfg.Actions,
		tasks:    cfg.Tasks,
		ledger:   cfg.Ledger,
		commands: cfg.Commands,
		pricing:  cfg.Pricing,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if e.pricing == (usage.Pricing{}) {
		e.pricing = usage.DefaultPricing
	}
	if e.timeout <= 0 {
		e.timeout = 15 * time.Minute
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// run — состояние одной обработки.
type run struct {
	action *domain.Action
	expect domain.Status // текущий сохранённый статус action
	start  time.Time
	log    *slog.Logger
}

// Execute обрабатывает work item (actionPath, token).
//
//  1. проверяет аргументы и загружает action
//  2. повторная доставка уже завершённого action ничего не выполняет
//  3. проверяет токен и допуск ledger'а
//  4. захватывает action (waiting → running, CAS) и вызывает handler
//  5. считает стоимость и списывает её в ledger
//  6. перечитывает task и переводит её: completed, waiting со следующим
//     шагом или canceled, если task отменили во время выполнения
//
// Ошибки шагов 3-6 записываются в action и task как ActionError, Execute
// возвращает их в Result. Ошибка возвращается только если ничего не было
// записано: некорректный work item (IsPermanent) или сбой хранилища до
// захвата action (можно повторить).
func (e *Executor) Execute(ctx context.Context, actionPath, token string) (*Result, error) {
	if actionPath == "" || token == "" {
		return nil, fmt.Errorf("%w: action path and token are required", ErrInvalidArgument)
	}
	taskID, actionID, err := domain.ParseActionPath(actionPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	action, err := e.actions.GetByID(ctx, actionID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, actionPath)
	case err != nil:
		return nil, fmt.Errorf("load action: %w", err)
	}
	if action.TaskID != taskID || action.Command.Command == "" || action.OrganizationID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s is incomplete", ErrActionNotFound, actionPath)
	}

	r := &run{
		action: action,
		expect: action.Status,
		start:  e.now(),
		log:    telemetry.ForAction(e.logger, action.TaskID.String(), action.ID.String(), action.Command.Command),
	}
	tokenOK := subtle.ConstantTimeCompare([]byte(token), []byte(action.Token)) == 1

	if action.Status != domain.StatusWaiting {
		if action.Status.IsTerminal() && tokenOK {
			return e.repair(ctx, r)
		}
		r.log.Info("duplicate delivery skipped", "status", action.Status)
		return e.result(r, OutcomeSkipped), nil
	}

	if action.TokenExpired(r.start) {
		return e.fail(ctx, r, ErrTokenExpired)
	}
	if !tokenOK {
		return e.fail(ctx, r, ErrInvalidToken)
	}

	if err := e.ledger.Admit(ctx, action.OrganizationID, r.start); err != nil {
		if usage.IsDenied(err) {
			return e.fail(ctx, r, err)
		}
		return nil, fmt.Errorf("admission check: %w", err)
	}

	if _, err := e.tasks.GetByID(ctx, action.TaskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.fail(ctx, r, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("load task: %w", err)
	}

	// Захват: конкурентная доставка того же action проиграет CAS
	action.MarkRunning(r.start)
	if err := e.actions.Update(ctx, action, domain.StatusWaiting); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			r.log.Info("action claimed by another worker, skipped")
			return e.result(r, OutcomeSkipped), nil
		}
		return nil, fmt.Errorf("claim action: %w", err)
	}
	r.expect = domain.StatusRunning

	handler, err := e.commands.Get(action.Command.Command)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	out, err := e.invoke(ctx, handler, action)
	if err != nil {
		if out != nil {
			action.Results, action.Assets = out.Results, out.Assets
		}
		return e.fail(ctx, r, err)
	}
	return e.complete(ctx, r, out)
}

// invoke вызывает handler на копии action с таймаутом и перехватом паники.
func (e *Executor) invoke(ctx context.Context, h actions.Handler, action *domain.Action) (out *domain.Action, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		telemetry.ActionDuration.WithLabelValues(action.Command.Command).Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()

	out, err = h(ctx, action.Clone())
	if err == nil && out == nil {
		out = action.Clone()
	}
	return out, err
}

// complete записывает успешный шаг.
func (e *Executor) complete(ctx context.Context, r *run, out *domain.Action) (*Result, error) {
	a := r.action
	now := e.now()
	cost := e.cost(r, now, max(out.Usage, 0))

	a.Results, a.Assets = out.Results, out.Assets
	a.Usage = cost

	// Статус action зависит от task на момент расчёта
	status := domain.StatusCompleted
	task, err := e.tasks.GetByID(ctx, a.TaskID)
	if err != nil {
		r.log.Error("failed to reload task", "error", err)
		status = domain.StatusFailed
		a.Error = classify(fmt.Errorf("reload task: %w", err))
	} else if !owns(task, a) || task.Status.IsTerminal() {
		status = domain.StatusCanceled
	}

	a.Finish(status, a.Error, now)
	if err := e.actions.Update(ctx, a, r.expect); err != nil {
		return e.lostAction(r, err), nil
	}

	outcome := OutcomeFailed
	if task != nil {
		outcome = e.applyToTask(ctx, r, task, now)
		if outcome == OutcomeSkipped {
			outcome = OutcomeCanceled
		}
	}
	res := e.result(r, outcome)
	res.Error = a.Error
	return res, nil
}

// fail записывает ошибку шага в action и task.
func (e *Executor) fail(ctx context.Context, r *run, cause error) (*Result, error) {
	a := r.action
	now := e.now()
	actionErr := classify(cause)

	// Отказ ledger'а: шаг не выполнялся, списывать нечего
	a.Usage = 0
	if !usage.IsDenied(cause) {
		a.Usage = e.cost(r, now, 0)
	}
	a.Finish(domain.StatusFailed, actionErr, now)

	r.log.Warn("action failed", "code", actionErr.Code, "error", cause)

	if err := e.actions.Update(ctx, a, r.expect); err != nil {
		return e.lostAction(r, err), nil
	}

	outcome := OutcomeFailed
	task, err := e.tasks.GetByID(ctx, a.TaskID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		r.log.Error("failed to load task for failure", "error", err)
	default:
		// Отмена task важнее ошибки шага
		if e.applyToTask(ctx, r, task, now) == OutcomeCanceled {
			outcome = OutcomeCanceled
		}
	}

	res := e.result(r, outcome)
	res.Error = actionErr
	return res, nil
}

// repair доводит task до состояния уже завершённого action. Нужен, если
// прошлый воркер упал между записью action и записью task.
func (e *Executor) repair(ctx context.Context, r *run) (*Result, error) {
	task, err := e.tasks.GetByID(ctx, r.action.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.result(r, OutcomeSkipped), nil
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task.Status != domain.StatusRunning || !owns(task, r.action) {
		r.log.Info("duplicate delivery skipped", "status", r.action.Status)
		return e.result(r, OutcomeSkipped), nil
	}

	r.log.Warn("repairing task left running by a finished action", "status", r.action.Status)
	res := e.result(r, e.applyToTask(ctx, r, task, e.now()))
	res.Cost = r.action.Usage
	res.Error = r.action.Error
	return res, nil
}

// applyToTask переводит task по итогу action. При проигранном CAS task
// перечитывается, чтобы увидеть конкурентную отмену.
func (e *Executor) applyToTask(ctx context.Context, r *run, task *domain.Task, now time.Time) Outcome {
	a := r.action

	for attempt := 1; ; attempt++ {
		outcome, expect, write := transition(task, a, now)
		if !write {
			r.log.Info("task moved on, left untouched", "task_status", task.Status)
			return outcome
		}

		err := e.tasks.Update(ctx, task, expect)
		if err == nil {
			r.log.Info("action settled",
				"outcome", outcome,
				"index", a.Command.Index,
				"usage", a.Usage,
			)
			return outcome
		}
		if !errors.Is(err, repo.ErrConflict) || attempt == maxTaskAttempts {
			r.log.Error("failed to update task", "attempt", attempt, "error", err)
			return outcome
		}

		task, err = e.tasks.GetByID(ctx, a.TaskID)
		if err != nil {
			r.log.Error("failed to reload task", "error", err)
			return outcome
		}
	}
}

// transition применяет итог action к task. write=false (OutcomeSkipped) —
// task не наша: завершена или курсор ушёл, её не трогаем.
func transition(task *domain.Task, a *domain.Action, now time.Time) (Outcome, domain.Status, bool) {
	cmd := &a.Command

	if !owns(task, a) || (task.Status.IsTerminal() && task.Status != domain.StatusCanceled) {
		return OutcomeSkipped, "", false
	}

	if task.Status == domain.StatusCanceled {
		task.CancelAt(cmd, a.Usage, now)
		return OutcomeCanceled, domain.StatusCanceled, true
	}

	switch a.Status {
	case domain.StatusCompleted:
		if task.IsLastStep(cmd) {
			task.Complete(a.Results, a.Assets, a.Usage, now)
			return OutcomeCompleted, domain.StatusRunning, true
		}
		if err := task.Advance(cmd, a.Results, a.Assets, a.Usage, now); err != nil {
			task.Fail(cmd, domain.NewActionError(domain.CodeInternal, err.Error()), a.Usage, now)
			return OutcomeFailed, domain.StatusRunning, true
		}
		return OutcomeAdvanced, domain.StatusRunning, true

	case domain.StatusCanceled:
		task.CancelAt(cmd, a.Usage, now)
		return OutcomeCanceled, domain.StatusRunning, true

	default:
		task.Fail(cmd, a.Error, a.Usage, now)
		return OutcomeFailed, domain.StatusRunning, true
	}
}

// owns — курсор task указывает на этот action.
func owns(task *domain.Task, a *domain.Action) bool {
	return task.CurrentActionID != nil && *task.CurrentActionID == a.ID
}

// cost считает стоимость попытки и списывает её в ledger.
// Ошибка списания только логируется.
func (e *Executor) cost(r *run, now time.Time, domainCost float64) float64 {
	cost := e.pricing.Overhead(now.Sub(r.start)) + domainCost

	// Списание не должно зависеть от отмены контекста доставки
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.ledger.Record(ctx, r.action.OrganizationID, cost, now); err != nil {
		r.log.Error("failed to settle usage", "organization_id", r.action.OrganizationID, "cost", cost, "error", err)
	}
	return cost
}

func (e *Executor) lostAction(r *run, err error) *Result {
	if errors.Is(err, repo.ErrConflict) {
		r.log.Info("action changed concurrently, result dropped")
	} else {
		r.log.Error("failed to save action", "error", err)
	}
	return e.result(r, OutcomeSkipped)
}

func (e *Executor) result(r *run, outcome Outcome) *Result {
	telemetry.ActionsExecuted.WithLabelValues(r.action.Command.Command, string(outcome)).Inc()
	return &Result{
		Outcome:  outcome,
		TaskID:   r.action.TaskID,
		ActionID: r.action.ID,
		Command:  r.action.Command.Command,
		Cost:     r.action.Usage,
	}
}

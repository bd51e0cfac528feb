// Package dispatcher материализует следующий шаг waiting tasks в action
// и ставит work item в очередь воркеров.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/payload"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
)

// TaskStore — то, что dispatcher'у нужно от хранилища tasks.
type TaskStore interface {
	ListWaiting(ctx context.Context, limit int) ([]domain.Task, error)
	Update(ctx context.Context, task *domain.Task, expect domain.Status) error
}

// ActionStore — то, что dispatcher'у нужно от хранилища actions.
type ActionStore interface {
	Create(ctx context.Context, a *domain.Action) error
	Update(ctx context.Context, a *domain.Action, expect domain.Status) error
}

// Enqueuer ставит work item в очередь. Реализация — mq.Publisher.
type Enqueuer interface {
	PublishActionDispatch(ctx context.Context, actionPath, token string) error
}

// Dispatcher — см. Tick.
type Dispatcher struct {
	tasks       TaskStore
	actions     ActionStore
	queue       Enqueuer
	logger      *slog.Logger
	batchSize   int
	parallelism int
	tokenTTL    time.Duration
}

// Config — конфигурация Dispatcher.
type Config struct {
	Tasks       TaskStore
	Actions     ActionStore
	Queue       Enqueuer
	Logger      *slog.Logger
	BatchSize   int           // tasks за один тик (default: 100)
	Parallelism int           // default: 8
	TokenTTL    time.Duration // срок жизни токена action (default: 1h)
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		tasks:       cfg.Tasks,
		actions:     cfg.Actions,
		queue:       cfg.Queue,
		logger:      cfg.Logger,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		tokenTTL:    cfg.TokenTTL,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatcher")
	if d.batchSize <= 0 {
		d.batchSize = 100
	}
	if d.parallelism <= 0 {
		d.parallelism = 8
	}
	if d.tokenTTL <= 0 {
		d.tokenTTL = time.Hour
	}
	return d
}

type outcome string

const (
	outcomeDispatched outcome = "dispatched"
	outcomeSkipped    outcome = "skipped"
	outcomeLost       outcome = "lost"
	outcomeRejected   outcome = "rejected"
	outcomeFailed     outcome = "failed"
)

// Tick выполняет один тик dispatcher'а.
//
// Для каждой waiting task (по updated_at, не больше BatchSize):
//  1. пропускает task без корректного NextAction
//  2. рендерит payload шага по данным task
//  3. создаёт action с новым токеном
//  4. переводит task waiting → running (CAS)
//  5. публикует {action_path, token} в очередь
//
// Tasks обрабатываются параллельно, ошибка одной не прерывает тик.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		telemetry.TickDuration.WithLabelValues("dispatcher").Observe(time.Since(start).Seconds())
	}()

	tasks, err := d.tasks.ListWaiting(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("list waiting tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	counts := map[outcome]*atomic.Int64{
		outcomeDispatched: {},
		outcomeSkipped:    {},
		outcomeLost:       {},
		outcomeRejected:   {},
		outcomeFailed:     {},
	}

	var g errgroup.Group
	g.SetLimit(d.parallelism)

	for i := range tasks {
		task := &tasks[i]
		g.Go(func() error {
			res, err := d.dispatch(ctx, task, now)
			if err != nil {
				res = outcomeFailed
				d.logger.Error("failed to dispatch task",
					"task_id", task.ID,
					"workflow_id", task.WorkflowID,
					"error", err,
				)
			}
			counts[res].Add(1)
			return nil
		})
	}
	_ = g.Wait()

	attrs := []any{"waiting", len(tasks)}
	for res, n := range counts {
		telemetry.TickItems.WithLabelValues("dispatcher", string(res)).Add(float64(n.Load()))
		attrs = append(attrs, string(res), n.Load())
	}
	d.logger.Info("dispatcher tick completed", attrs...)
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task *domain.Task, now time.Time) (outcome, error) {
	cmd := task.NextAction
	if err := validCursor(task); err != nil {
		d.logger.Warn("skipping task with corrupt cursor",
			"task_id", task.ID,
			"error", err,
		)
		return outcomeSkipped, nil
	}

	rendered, err := payload.RenderCommand(cmd, payload.NewContext(task, cmd))
	if err != nil {
		return d.reject(ctx, task, cmd, err, now)
	}

	token, err := NewToken()
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}

	action := domain.NewAction(task, rendered, token, now.Add(d.tokenTTL), now)
	if err := d.actions.Create(ctx, action); err != nil {
		return "", fmt.Errorf("create action: %w", err)
	}

	task.MarkDispatched(action.ID, now)
	if err := d.tasks.Update(ctx, task, domain.StatusWaiting); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Другой экземпляр dispatcher'а (или отмена) успел раньше
			d.cancelOrphan(ctx, action, now)
			return outcomeLost, nil
		}
		return "", fmt.Errorf("mark task running: %w", err)
	}

	if err := d.queue.PublishActionDispatch(ctx, action.Path(), token); err != nil {
		// Task остаётся running, её подберёт reaper
		return "", fmt.Errorf("enqueue action %s: %w", action.ID, err)
	}

	telemetry.ActionsDispatched.WithLabelValues(rendered.Command).Inc()
	d.logger.Debug("dispatched action",
		"task_id", task.ID,
		"action_id", action.ID,
		"command", rendered.Command,
		"index", rendered.Index,
	)
	return outcomeDispatched, nil
}

// reject фейлит task, шаг которой нельзя отрендерить: без этого она
// возвращалась бы в каждый тик.
func (d *Dispatcher) reject(ctx context.Context, task *domain.Task, cmd *domain.ActionCommand, cause error, now time.Time) (outcome, error) {
	task.Fail(cmd, domain.NewActionError(domain.CodeInvalidPayload, cause.Error()), 0, now)
	if err := d.tasks.Update(ctx, task, domain.StatusWaiting); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return outcomeLost, nil
		}
		return "", fmt.Errorf("fail task: %w", err)
	}
	d.logger.Warn("task failed: payload render error",
		"task_id", task.ID,
		"command", cmd.Command,
		"index", cmd.Index,
		"error", cause,
	)
	return outcomeRejected, nil
}

func (d *Dispatcher) cancelOrphan(ctx context.Context, action *domain.Action, now time.Time) {
	action.Finish(domain.StatusCanceled, nil, now)
	if err := d.actions.Update(ctx, action, domain.StatusWaiting); err != nil {
		d.logger.Warn("failed to cancel orphan action",
			"task_id", action.TaskID,
			"action_id", action.ID,
			"error", err,
		)
	}
}

func validCursor(task *domain.Task) error {
	cmd := task.NextAction
	if cmd == nil {
		return errors.New("next action is empty")
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Index >= len(task.Actions) {
		return fmt.Errorf("next action index %d out of range [0, %d)", cmd.Index, len(task.Actions))
	}
	return nil
}

// Package reaper переводит в failed tasks, зависшие в running дольше
// окна устаревания (воркер не вернулся), вместе с их running actions.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
)

// TaskStore — то, что reaper'у нужно от хранилища tasks.
type TaskStore interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Task, error)
	Update(ctx context.Context, task *domain.Task, expect domain.Status) error
}

// ActionStore — то, что reaper'у нужно от хранилища actions.
type ActionStore interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Action, error)
	Update(ctx context.Context, a *domain.Action, expect domain.Status) error
}

// Reaper — см. Tick.
type Reaper struct {
	tasks       TaskStore
	actions     ActionStore
	logger      *slog.Logger
	staleAfter  time.Duration
	batchSize   int
	parallelism int
}

// Config — конфигурация Reaper.
type Config struct {
	Tasks       TaskStore
	Actions     ActionStore
	Logger      *slog.Logger
	StaleAfter  time.Duration // default: 24h
	BatchSize   int           // default: 100
	Parallelism int           // default: 4
}

// New создаёт новый Reaper.
func New(cfg Config) *Reaper {
	r := &Reaper{
		tasks:       cfg.Tasks,
		actions:     cfg.Actions,
		logger:      cfg.Logger,
		staleAfter:  cfg.StaleAfter,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "reaper")
	if r.staleAfter <= 0 {
		r.staleAfter = 24 * time.Hour
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	if r.parallelism <= 0 {
		r.parallelism = 4
	}
	return r
}

// Tick находит running tasks с updated_at < now - StaleAfter и переводит
// их в failed с ошибкой timeout. Running actions этих tasks получают ту же
// ошибку, завершённые actions не трогаются.
func (r *Reaper) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		telemetry.TickDuration.WithLabelValues("reaper").Observe(time.Since(start).Seconds())
	}()

	stale, err := r.tasks.ListStale(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return fmt.Errorf("list stale tasks: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var reaped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for i := range stale {
		task := &stale[i]
		g.Go(func() error {
			ok, err := r.reap(ctx, task, now)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.Error("failed to reap task", "task_id", task.ID, "error", err)
			case ok:
				reaped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	telemetry.TasksReaped.Add(float64(reaped.Load()))
	telemetry.TickItems.WithLabelValues("reaper", "reaped").Add(float64(reaped.Load()))
	telemetry.TickItems.WithLabelValues("reaper", "failed").Add(float64(failed.Load()))

	r.logger.Info("reaper tick completed",
		"stale", len(stale),
		"reaped", reaped.Load(),
		"failed", failed.Load(),
	)
	return nil
}

func (r *Reaper) reap(ctx context.Context, task *domain.Task, now time.Time) (bool, error) {
	actionErr := domain.NewActionError(domain.CodeTimeout,
		fmt.Sprintf("task was running without progress for more than %s", r.staleAfter))

	task.Reap(actionErr, now)
	if err := r.tasks.Update(ctx, task, domain.StatusRunning); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Executor успел завершить шаг
			return false, nil
		}
		return false, fmt.Errorf("fail task: %w", err)
	}

	r.logger.Warn("reaped stale task",
		"task_id", task.ID,
		"workflow_id", task.WorkflowID,
		"organization_id", task.OrganizationID,
	)

	list, err := r.actions.ListByTask(ctx, task.ID)
	if err != nil {
		return true, fmt.Errorf("list actions: %w", err)
	}

	var errs []error
	for i := range list {
		a := &list[i]
		if a.Status != domain.StatusRunning {
			continue
		}
		a.Finish(domain.StatusFailed, actionErr, now)
		if err := r.actions.Update(ctx, a, domain.StatusRunning); err != nil && !errors.Is(err, repo.ErrConflict) {
			errs = append(errs, fmt.Errorf("fail action %s: %w", a.ID, err))
		}
	}
	return true, errors.Join(errs...)
}

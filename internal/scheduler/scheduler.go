package scheduler

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

// WorkflowStore — то, что scheduler'у нужно от хранилища workflows.
type WorkflowStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error)
	SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time, now time.Time) error
}

// TaskCreator создаёт tasks. Повтор idempotency key — repo.ErrAlreadyExists.
type TaskCreator interface {
	Create(ctx context.Context, task *domain.Task) error
}

// Scheduler превращает due workflows в tasks.
type Scheduler struct {
	workflows   WorkflowStore
	tasks       TaskCreator
	logger      *slog.Logger
	batchSize   int
	parallelism int
}

// Config — конфигурация Scheduler.
type Config struct {
	Workflows   WorkflowStore
	Tasks       TaskCreator
	Logger      *slog.Logger
	BatchSize   int // workflows за один тик (default: 100)
	Parallelism int // одновременно обрабатываемых workflows (default: 8)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		workflows:   cfg.Workflows,
		tasks:       cfg.Tasks,
		logger:      logger.With("component", "scheduler"),
		batchSize:   batchSize,
		parallelism: parallelism,
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeDuplicate
	outcomeCleared
)

// Tick выполняет один тик планировщика.
//
// 1. Находит workflows с next_run_at <= now
// 2. Для каждого создаёт task (курсор на первом шаге)
// 3. Сдвигает next_run_at по repeat
//
// Workflows обрабатываются параллельно и независимо: ошибка одного
// логируется и не трогает next_run_at, следующий тик попробует снова.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		telemetry.TickDuration.WithLabelValues("scheduler").Observe(time.Since(start).Seconds())
	}()

	due, err := s.workflows.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due workflows: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Debug("found due workflows", "count", len(due))

	var created, duplicates, cleared, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.parallelism)

	for i := range due {
		wf := &due[i]
		g.Go(func() error {
			res, err := s.processWorkflow(ctx, wf, now)
			if err != nil {
				failed.Add(1)
				s.logger.Error("failed to process workflow",
					"workflow_id", wf.ID,
					"organization_id", wf.OrganizationID,
					"error", err,
				)
				return nil
			}
			switch res {
			case outcomeCreated:
				created.Add(1)
			case outcomeDuplicate:
				duplicates.Add(1)
			case outcomeCleared:
				cleared.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	telemetry.TickItems.WithLabelValues("scheduler", "created").Add(float64(created.Load()))
	telemetry.TickItems.WithLabelValues("scheduler", "duplicate").Add(float64(duplicates.Load()))
	telemetry.TickItems.WithLabelValues("scheduler", "cleared").Add(float64(cleared.Load()))
	telemetry.TickItems.WithLabelValues("scheduler", "failed").Add(float64(failed.Load()))

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"tasks_created", created.Load(),
		"duplicates", duplicates.Load(),
		"cleared", cleared.Load(),
		"failed", failed.Load(),
	)
	return nil
}

func (s *Scheduler) processWorkflow(ctx context.Context, wf *domain.Workflow, now time.Time) (outcome, error) {
	if wf.NextRunAt == nil {
		return outcomeCleared, nil
	}

	// Без шагов запускать нечего, снимаем с расписания
	if len(wf.Actions) == 0 {
		if err := s.workflows.SetNextRunAt(ctx, wf.ID, nil, now); err != nil {
			return 0, fmt.Errorf("clear next_run_at: %w", err)
		}
		s.logger.Warn("workflow has no actions, unscheduled", "workflow_id", wf.ID)
		return outcomeCleared, nil
	}

	res := outcomeCreated
	task := domain.NewTaskFromWorkflow(wf, IdempotencyKey(wf.ID, *wf.NextRunAt), now)

	switch err := s.tasks.Create(ctx, task); {
	case errors.Is(err, repo.ErrAlreadyExists):
		// Прошлый тик успел создать task, но не сдвинул next_run_at
		s.logger.Debug("task already exists (idempotency)",
			"workflow_id", wf.ID,
			"idempotency_key", task.IdempotencyKey,
		)
		res = outcomeDuplicate
	case err != nil:
		return 0, fmt.Errorf("create task: %w", err)
	default:
		telemetry.TasksCreated.Inc()
		s.logger.Info("created task from workflow",
			"task_id", task.ID,
			"workflow_id", wf.ID,
			"organization_id", wf.OrganizationID,
			"steps", len(task.Actions),
		)
	}

	next := NextRunAt(wf.Repeat, *wf.NextRunAt, now)
	if err := s.workflows.SetNextRunAt(ctx, wf.ID, next, now); err != nil {
		return res, fmt.Errorf("update next_run_at: %w", err)
	}
	return res, nil
}

// IdempotencyKey — "{workflow_id}_{next_run_at_unix}": один task на
// конкретный запуск workflow.
func IdempotencyKey(workflowID uuid.UUID, due time.Time) string {
	return fmt.Sprintf("%s_%d", workflowID, due.Unix())
}

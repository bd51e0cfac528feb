package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/actionflow/internal/config"
	"github.com/shaiso/actionflow/internal/dispatcher"
	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/mq"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/repo/memrepo"
	"github.com/shaiso/actionflow/internal/usage"
)

// WorkflowStore — операции над workflows, нужные CLI.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error)
	SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time, now time.Time) error
}

// TaskStore — операции над tasks, нужные CLI.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListWaiting(ctx context.Context, limit int) ([]domain.Task, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Task, error)
	Update(ctx context.Context, task *domain.Task, expect domain.Status) error
}

// ActionStore — операции над actions, нужные CLI.
type ActionStore interface {
	Create(ctx context.Context, a *domain.Action) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Action, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Action, error)
	Update(ctx context.Context, a *domain.Action, expect domain.Status) error
}

// Stores — открытое хранилище и очередь.
type Stores struct {
	Workflows WorkflowStore
	Tasks     TaskStore
	Actions   ActionStore
	Usage     usage.Store
	Billing   usage.BillingSource

	// Migrate применяет миграции схемы. nil — схемы нет (memrepo).
	Migrate func(ctx context.Context) (int, error)

	// Queue открывает очередь work-items. Вызывается только командами,
	// которые публикуют, и возвращает функцию закрытия.
	Queue func(ctx context.Context) (dispatcher.Enqueuer, func() error, error)

	Close func()
}

// Opener открывает хранилище по загруженной конфигурации.
type Opener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error)

// OpenPostgres открывает пул Postgres; RabbitMQ подключается по требованию.
func OpenPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	pool, err := repo.NewPool(ctx, repo.PoolConfig{URL: cfg.DB.URL, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &Stores{
		Workflows: repo.NewWorkflowRepo(pool),
		Tasks:     repo.NewTaskRepo(pool),
		Actions:   repo.NewActionRepo(pool),
		Usage:     repo.NewUsageRepo(pool),
		Billing:   repo.NewOrganizationRepo(pool),
		Migrate: func(ctx context.Context) (int, error) {
			return repo.Migrate(ctx, pool)
		},
		Queue: func(ctx context.Context) (dispatcher.Enqueuer, func() error, error) {
			conn, err := mq.NewConnection(cfg.RabbitMQ.URL, "actionflow-cli", logger)
			if err != nil {
				return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
			}
			if err := mq.SetupTopology(ctx, conn); err != nil {
				return nil, nil, errors.Join(err, conn.Close())
			}
			return mq.NewPublisher(conn, logger), conn.Close, nil
		},
		Close: pool.Close,
	}, nil
}

// OpenMemory возвращает Opener поверх memrepo.Store. queue получает
// work-items команды tick dispatcher.
func OpenMemory(store *memrepo.Store, queue dispatcher.Enqueuer) Opener {
	return func(context.Context, *config.Config, *slog.Logger) (*Stores, error) {
		return &Stores{
			Workflows: store.Workflows(),
			Tasks:     store.Tasks(),
			Actions:   store.Actions(),
			Usage:     store.Usage(),
			Billing:   store.Organizations(),
			Queue: func(context.Context) (dispatcher.Enqueuer, func() error, error) {
				if queue == nil {
					return nil, nil, errors.New("no queue configured")
				}
				return queue, func() error { return nil }, nil
			},
			Close: func() {},
		}, nil
	}
}

package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shaiso/actionflow/internal/domain"
)

// startPostgres поднимает Postgres в контейнере и применяет миграции.
// Без Docker тест пропускается.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("actionflow"),
		postgres.WithUsername("actionflow"),
		postgres.WithPassword("actionflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{URL: connStr})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	version, err := Migrate(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, len(migrations), version)

	// Повторный запуск — no-op
	version, err = Migrate(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, len(migrations), version)

	return pool
}

func TestPostgresRepos(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	workflows := NewWorkflowRepo(pool)
	tasks := NewTaskRepo(pool)
	actions := NewActionRepo(pool)
	usage := NewUsageRepo(pool)
	orgs := NewOrganizationRepo(pool)

	wf := &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		ProjectID:      uuid.New(),
		Repeat:         domain.RepeatDaily,
		Actions: domain.NewCommands(
			domain.ActionCommand{Command: "http", Payload: map[string]any{"url": "http://example.com"}},
			domain.ActionCommand{Command: "transform"},
		),
		Prompt:    "p",
		Materials: map[string]any{"k": "v"},
		NextRunAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.Run("workflow due and reschedule", func(t *testing.T) {
		require.NoError(t, workflows.Create(ctx, wf))

		due, err := workflows.ListDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, wf.Actions, due[0].Actions)
		assert.Equal(t, "v", due[0].Materials["k"])

		require.NoError(t, workflows.SetNextRunAt(ctx, wf.ID, nil, now))
		due, err = workflows.ListDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	task := domain.NewTaskFromWorkflow(wf, "wf_key", now)

	t.Run("task create and conditional update", func(t *testing.T) {
		require.NoError(t, tasks.Create(ctx, task))
		assert.ErrorIs(t, tasks.Create(ctx, domain.NewTaskFromWorkflow(wf, "wf_key", now)), ErrAlreadyExists)

		waiting, err := tasks.ListWaiting(ctx, 10)
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		require.NotNil(t, waiting[0].NextAction)
		assert.Equal(t, "http", waiting[0].NextAction.Command)

		stale := task.Clone()
		task.MarkDispatched(uuid.New(), now)
		require.NoError(t, tasks.Update(ctx, task, domain.StatusWaiting))
		assert.Equal(t, int64(1), task.Version)
		assert.ErrorIs(t, tasks.Update(ctx, task, domain.StatusWaiting), ErrConflict)

		// Статус снова waiting, но снимок устарел по версии
		require.NoError(t, task.Advance(&task.Actions[0], nil, nil, 0, now))
		require.NoError(t, tasks.Update(ctx, task, domain.StatusRunning))
		stale.MarkDispatched(uuid.New(), now)
		assert.ErrorIs(t, tasks.Update(ctx, stale, domain.StatusWaiting), ErrConflict)
		task.MarkDispatched(uuid.New(), now)
		require.NoError(t, tasks.Update(ctx, task, domain.StatusWaiting))

		staleTasks, err := tasks.ListStale(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, staleTasks, 1)
	})

	t.Run("action create and update", func(t *testing.T) {
		cmd := task.Actions[0]
		a := domain.NewAction(task, &cmd, "token", now.Add(time.Hour), now)
		require.NoError(t, actions.Create(ctx, a))

		a.MarkRunning(now)
		require.NoError(t, actions.Update(ctx, a, domain.StatusWaiting))

		a.Results = map[string]any{"out": 1.0}
		a.Finish(domain.StatusCompleted, nil, now)
		require.NoError(t, actions.Update(ctx, a, domain.StatusRunning))

		got, err := actions.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, "token", got.Token)
		assert.Equal(t, 1.0, got.Results["out"])
		assert.Equal(t, "http://example.com", got.Command.Payload["url"])

		list, err := actions.ListByTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("usage apply serializes", func(t *testing.T) {
		org := uuid.New()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := usage.Apply(ctx, org, "202601", func(rec *domain.UsageRecord) error {
					rec.Usage++
					rec.LastCheckedAt = now
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		rec, err := usage.Get(ctx, org, "202601")
		require.NoError(t, err)
		assert.Equal(t, 10.0, rec.Usage)

		_, err = usage.Get(ctx, org, "202602")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("billing", func(t *testing.T) {
		org := uuid.New()
		_, err := pool.Exec(ctx, `INSERT INTO plans (id, usage_limit, burst) VALUES ('pro', 100, 0.2)`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO organizations (id, plan_id, campaign_limit) VALUES ($1, 'pro', -1)`, org)
		require.NoError(t, err)

		b, err := orgs.GetBilling(ctx, org)
		require.NoError(t, err)
		require.NotNil(t, b.Plan)
		assert.Equal(t, 100.0, b.Plan.Limit)
		assert.True(t, b.Campaign.Unmetered(now))

		_, err = orgs.GetBilling(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

package memrepo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
)

func TestTaskRepo_UpdateIsConditional(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()

	task := &domain.Task{ID: uuid.New(), Status: domain.StatusWaiting}
	require.NoError(t, tasks.Create(ctx, task))

	task.Status = domain.StatusRunning
	require.NoError(t, tasks.Update(ctx, task, domain.StatusWaiting))

	// Второй захват с тем же ожиданием проигрывает
	err := tasks.Update(ctx, task, domain.StatusWaiting)
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestTaskRepo_UpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()

	task := &domain.Task{ID: uuid.New(), Status: domain.StatusWaiting}
	require.NoError(t, tasks.Create(ctx, task))
	stale := task.Clone()

	// waiting → running → waiting: статус тот же, версия другая
	task.Status = domain.StatusRunning
	require.NoError(t, tasks.Update(ctx, task, domain.StatusWaiting))
	task.Status = domain.StatusWaiting
	require.NoError(t, tasks.Update(ctx, task, domain.StatusRunning))
	assert.Equal(t, int64(2), task.Version)

	stale.Status = domain.StatusRunning
	assert.ErrorIs(t, tasks.Update(ctx, stale, domain.StatusWaiting), repo.ErrConflict)

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestTaskRepo_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()

	require.NoError(t, tasks.Create(ctx, &domain.Task{ID: uuid.New(), IdempotencyKey: "wf_1"}))
	err := tasks.Create(ctx, &domain.Task{ID: uuid.New(), IdempotencyKey: "wf_1"})
	assert.ErrorIs(t, err, repo.ErrAlreadyExists)
}

func TestTaskRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()

	task := &domain.Task{ID: uuid.New(), Status: domain.StatusWaiting, Results: map[string]any{}}
	require.NoError(t, tasks.Create(ctx, task))

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	got.Results["x"] = 1

	again, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.Results, "x")
}

func TestTaskRepo_ListWaitingAndStale(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	for i, st := range []domain.Status{domain.StatusWaiting, domain.StatusRunning, domain.StatusWaiting, domain.StatusRunning} {
		require.NoError(t, tasks.Create(ctx, &domain.Task{
			ID:        uuid.New(),
			Status:    st,
			UpdatedAt: base.Add(time.Duration(-i) * time.Hour),
		}))
	}

	waiting, err := tasks.ListWaiting(ctx, 10)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.True(t, waiting[0].UpdatedAt.Before(waiting[1].UpdatedAt), "oldest first")

	stale, err := tasks.ListStale(ctx, base.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, base.Add(-3*time.Hour), stale[0].UpdatedAt)

	limited, err := tasks.ListWaiting(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestWorkflowRepo_ListDue(t *testing.T) {
	ctx := context.Background()
	wfs := New().Workflows()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	early, late, future := now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(time.Hour)
	for _, next := range []*time.Time{&late, &future, nil, &early} {
		require.NoError(t, wfs.Create(ctx, &domain.Workflow{ID: uuid.New(), NextRunAt: next}))
	}

	due, err := wfs.ListDue(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early, *due[0].NextRunAt)
	assert.Equal(t, late, *due[1].NextRunAt)

	require.NoError(t, wfs.SetNextRunAt(ctx, due[0].ID, nil, now))
	due, err = wfs.ListDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestUsageRepo_ApplySerializes(t *testing.T) {
	ctx := context.Background()
	usage := New().Usage()
	org := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = usage.Apply(ctx, org, "202601", func(rec *domain.UsageRecord) error {
				rec.Usage++
				return nil
			})
		}()
	}
	wg.Wait()

	rec, err := usage.Get(ctx, org, "202601")
	require.NoError(t, err)
	assert.Equal(t, 50.0, rec.Usage)
}

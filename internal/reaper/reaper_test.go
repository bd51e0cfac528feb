package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo/memrepo"
)

var now = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

// runningTask создаёт task, застрявшую на втором шаге: первый action
// completed, второй running.
func runningTask(t *testing.T, store *memrepo.Store, updatedAt time.Time) (*domain.Task, *domain.Action, *domain.Action) {
	t.Helper()
	ctx := context.Background()

	wf := &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Actions:        domain.NewCommands(domain.ActionCommand{Command: "a"}, domain.ActionCommand{Command: "b"}),
	}
	task := domain.NewTaskFromWorkflow(wf, "", updatedAt)

	done := domain.NewAction(task, &task.Actions[0], "t0", updatedAt.Add(time.Hour), updatedAt.Add(-time.Minute))
	done.Finish(domain.StatusCompleted, nil, updatedAt)
	require.NoError(t, store.Actions().Create(ctx, done))

	stuck := domain.NewAction(task, &task.Actions[1], "t1", updatedAt.Add(time.Hour), updatedAt)
	stuck.MarkRunning(updatedAt)
	require.NoError(t, store.Actions().Create(ctx, stuck))

	task.MarkDispatched(stuck.ID, updatedAt)
	require.NoError(t, store.Tasks().Create(ctx, task))
	return task, done, stuck
}

func TestTick_ReapsStaleTask(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	task, done, stuck := runningTask(t, store, now.Add(-25*time.Hour))

	r := New(Config{Tasks: store.Tasks(), Actions: store.Actions()})
	require.NoError(t, r.Tick(ctx, now))

	got, err := store.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Nil(t, got.CurrentActionID)
	assert.Nil(t, got.NextAction)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.CodeTimeout, got.Error.Code)

	gotStuck, _ := store.Actions().GetByID(ctx, stuck.ID)
	assert.Equal(t, domain.StatusFailed, gotStuck.Status)
	assert.Equal(t, domain.CodeTimeout, gotStuck.Error.Code)

	gotDone, _ := store.Actions().GetByID(ctx, done.ID)
	assert.Equal(t, domain.StatusCompleted, gotDone.Status, "completed actions are untouched")
	assert.Nil(t, gotDone.Error)
}

func TestTick_FreshTaskUntouched(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	task, _, stuck := runningTask(t, store, now.Add(-23*time.Hour))

	require.NoError(t, New(Config{Tasks: store.Tasks(), Actions: store.Actions()}).Tick(ctx, now))

	got, _ := store.Tasks().GetByID(ctx, task.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)
	gotStuck, _ := store.Actions().GetByID(ctx, stuck.ID)
	assert.Equal(t, domain.StatusRunning, gotStuck.Status)
}

func TestTick_CustomWindow(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	task, _, _ := runningTask(t, store, now.Add(-2*time.Hour))

	r := New(Config{Tasks: store.Tasks(), Actions: store.Actions(), StaleAfter: time.Hour})
	require.NoError(t, r.Tick(ctx, now))

	got, _ := store.Tasks().GetByID(ctx, task.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestTick_IgnoresNonRunning(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()

	wf := &domain.Workflow{ID: uuid.New(), Actions: domain.NewCommands(domain.ActionCommand{Command: "a"})}
	waiting := domain.NewTaskFromWorkflow(wf, "", now.Add(-48*time.Hour))
	require.NoError(t, store.Tasks().Create(ctx, waiting))

	require.NoError(t, New(Config{Tasks: store.Tasks(), Actions: store.Actions()}).Tick(ctx, now))

	got, _ := store.Tasks().GetByID(ctx, waiting.ID)
	assert.Equal(t, domain.StatusWaiting, got.Status)
}

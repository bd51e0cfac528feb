package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo/memrepo"
)

var base = time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)

func TestNextRunAt(t *testing.T) {
	tests := []struct {
		name   string
		repeat domain.Repeat
		prev   time.Time
		now    time.Time
		want   *time.Time
	}{
		{"none clears", domain.RepeatNone, base, base, nil},
		{"daily", domain.RepeatDaily, base, base, ptr(base.Add(24 * time.Hour))},
		{"weekly", domain.RepeatWeekly, base, base, ptr(base.Add(7 * 24 * time.Hour))},
		{"monthly day 31 clamps to 28", domain.RepeatMonthly, base, base,
			ptr(time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC))},
		{"monthly day 15 keeps day", domain.RepeatMonthly,
			time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC), time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC),
			ptr(time.Date(2027, 1, 15, 8, 0, 0, 0, time.UTC))},
		{"daily skips missed runs", domain.RepeatDaily, base, base.Add(72*time.Hour + time.Minute),
			ptr(base.Add(96 * time.Hour))},
		{"daily exactly at now moves forward", domain.RepeatDaily, base, base.Add(24 * time.Hour),
			ptr(base.Add(48 * time.Hour))},
		{"unknown repeat clears", domain.Repeat("hourly"), base, base, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRunAt(tt.repeat, tt.prev, tt.now)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("6f1c1a0e-6f0f-4f55-9d0a-0a2a4e6b8c11")
	assert.Equal(t, "6f1c1a0e-6f0f-4f55-9d0a-0a2a4e6b8c11_1769851800", IdempotencyKey(id, base))
}

func newWorkflow(repeat domain.Repeat, due time.Time, steps ...string) *domain.Workflow {
	cmds := make([]domain.ActionCommand, len(steps))
	for i, s := range steps {
		cmds[i] = domain.ActionCommand{Command: s}
	}
	return &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		ProjectID:      uuid.New(),
		Repeat:         repeat,
		Actions:        domain.NewCommands(cmds...),
		Prompt:         "p",
		Materials:      map[string]any{"k": "v"},
		NextRunAt:      &due,
	}
}

func TestTick_CreatesTaskAndAdvances(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	wf := newWorkflow(domain.RepeatDaily, base, "A", "B")
	require.NoError(t, store.Workflows().Create(ctx, wf))

	s := New(Config{Workflows: store.Workflows(), Tasks: store.Tasks()})
	require.NoError(t, s.Tick(ctx, base))

	tasks, err := store.Tasks().ListWaiting(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, wf.ID, task.WorkflowID)
	assert.Equal(t, domain.StatusWaiting, task.Status)
	require.NotNil(t, task.NextAction)
	assert.Equal(t, "A", task.NextAction.Command)
	assert.Equal(t, 0, task.NextAction.Index)
	assert.Nil(t, task.CurrentActionID)
	assert.Zero(t, task.Usage)
	assert.Len(t, task.Actions, 2)
	assert.Equal(t, "p", task.Prompt)
	assert.Equal(t, "v", task.Materials["k"])

	got, err := store.Workflows().GetByID(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(base.Add(24*time.Hour)))

	// Следующий тик в то же время ничего не создаёт
	require.NoError(t, s.Tick(ctx, base))
	tasks, _ = store.Tasks().ListWaiting(ctx, 10)
	assert.Len(t, tasks, 1)
}

func TestTick_RepeatNoneClears(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	wf := newWorkflow(domain.RepeatNone, base, "A")
	require.NoError(t, store.Workflows().Create(ctx, wf))

	require.NoError(t, New(Config{Workflows: store.Workflows(), Tasks: store.Tasks()}).Tick(ctx, base))

	got, _ := store.Workflows().GetByID(ctx, wf.ID)
	assert.Nil(t, got.NextRunAt)
	tasks, _ := store.Tasks().ListWaiting(ctx, 10)
	assert.Len(t, tasks, 1)
}

func TestTick_EmptyActionsUnschedules(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	wf := newWorkflow(domain.RepeatDaily, base)
	require.NoError(t, store.Workflows().Create(ctx, wf))

	require.NoError(t, New(Config{Workflows: store.Workflows(), Tasks: store.Tasks()}).Tick(ctx, base))

	got, _ := store.Workflows().GetByID(ctx, wf.ID)
	assert.Nil(t, got.NextRunAt)
	tasks, _ := store.Tasks().ListWaiting(ctx, 10)
	assert.Empty(t, tasks)
}

func TestTick_NotDueIgnored(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	wf := newWorkflow(domain.RepeatDaily, base.Add(time.Hour), "A")
	require.NoError(t, store.Workflows().Create(ctx, wf))

	require.NoError(t, New(Config{Workflows: store.Workflows(), Tasks: store.Tasks()}).Tick(ctx, base))

	tasks, _ := store.Tasks().ListWaiting(ctx, 10)
	assert.Empty(t, tasks)
}

// flakyWorkflows падает на SetNextRunAt для одного workflow.
type flakyWorkflows struct {
	*memrepo.WorkflowRepo
	failID uuid.UUID

	mu    sync.Mutex
	calls int
}

func (f *flakyWorkflows) SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time, now time.Time) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if id == f.failID {
		return errors.New("connection reset")
	}
	return f.WorkflowRepo.SetNextRunAt(ctx, id, next, now)
}

func TestTick_FailureIsolatedAndRetriedIdempotently(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()

	bad := newWorkflow(domain.RepeatDaily, base, "A")
	good := newWorkflow(domain.RepeatDaily, base, "A")
	require.NoError(t, store.Workflows().Create(ctx, bad))
	require.NoError(t, store.Workflows().Create(ctx, good))

	flaky := &flakyWorkflows{WorkflowRepo: store.Workflows(), failID: bad.ID}
	s := New(Config{Workflows: flaky, Tasks: store.Tasks(), Parallelism: 2})
	require.NoError(t, s.Tick(ctx, base))

	// good сдвинулся, bad остался due
	gotGood, _ := store.Workflows().GetByID(ctx, good.ID)
	gotBad, _ := store.Workflows().GetByID(ctx, bad.ID)
	assert.True(t, gotGood.NextRunAt.After(base))
	assert.True(t, gotBad.NextRunAt.Equal(base))

	// Повтор тика после починки не создаёт дубликат task для bad
	s = New(Config{Workflows: store.Workflows(), Tasks: store.Tasks()})
	require.NoError(t, s.Tick(ctx, base))

	tasks, _ := store.Tasks().ListWaiting(ctx, 10)
	assert.Len(t, tasks, 2)
	gotBad, _ = store.Workflows().GetByID(ctx, bad.ID)
	assert.True(t, gotBad.NextRunAt.After(base))
}

func ptr(t time.Time) *time.Time { return &t }

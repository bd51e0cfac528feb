package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo/memrepo"
)

type recordingQueue struct {
	mu    sync.Mutex
	paths []string
}

func (q *recordingQueue) PublishActionDispatch(_ context.Context, path, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paths = append(q.paths, path)
	return nil
}

func execute(t *testing.T, open Opener, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	root := NewRootCmd("test", open)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeWorkflow(t *testing.T, orgID uuid.UUID) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf.json")
	body := `{
		"organization_id": "` + orgID.String() + `",
		"repeat": "daily",
		"prompt": "hello",
		"actions": [
			{"command": "transform", "greeting": "{{ .Prompt }}"},
			{"command": "delay", "duration_sec": 0}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestWorkflowToDispatchedTask(t *testing.T) {
	store := memrepo.New()
	queue := &recordingQueue{}
	open := OpenMemory(store, queue)
	orgID := uuid.New()

	out, _, err := execute(t, open, "workflow", "create", "-f", writeWorkflow(t, orgID), "--start", "--json")
	require.NoError(t, err)

	var wf domain.Workflow
	require.NoError(t, json.Unmarshal([]byte(out), &wf))
	assert.Equal(t, orgID, wf.OrganizationID)
	assert.Equal(t, domain.RepeatDaily, wf.Repeat)
	require.Len(t, wf.Actions, 2)
	assert.Equal(t, 1, wf.Actions[1].Index)
	require.NotNil(t, wf.NextRunAt)

	// next_run_at == now, тик должен увидеть workflow как due
	time.Sleep(5 * time.Millisecond)

	_, _, err = execute(t, open, "tick", "scheduler")
	require.NoError(t, err)

	waiting, err := store.Tasks().ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	taskID := waiting[0].ID

	_, stderr, err := execute(t, open, "tick", "dispatcher")
	require.NoError(t, err)
	assert.Contains(t, stderr, "dispatcher tick done")
	require.Len(t, queue.paths, 1)

	out, _, err = execute(t, open, "task", "show", taskID.String(), "--json")
	require.NoError(t, err)

	var view struct {
		Status     domain.Status   `json:"status"`
		ActionList []domain.Action `json:"action_list"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, domain.StatusRunning, view.Status)
	require.Len(t, view.ActionList, 1)
	assert.Equal(t, "hello", view.ActionList[0].Command.Payload["greeting"])
	assert.Equal(t, queue.paths[0], view.ActionList[0].Path())

	out, _, err = execute(t, open, "workflow", "show", wf.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "transform")
	assert.Contains(t, out, "daily")
}

func TestTaskCancel(t *testing.T) {
	store := memrepo.New()
	open := OpenMemory(store, nil)

	wf := &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Actions:        domain.NewCommands(domain.ActionCommand{Command: "delay"}),
	}
	task := domain.NewTaskFromWorkflow(wf, "", time.Now())
	require.NoError(t, store.Tasks().Create(context.Background(), task))

	_, stderr, err := execute(t, open, "task", "cancel", task.ID.String())
	require.NoError(t, err)
	assert.Contains(t, stderr, "canceled")

	got, err := store.Tasks().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status)

	_, _, err = execute(t, open, "task", "cancel", task.ID.String())
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	out, _, err := execute(t, open, "task", "show", task.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "canceled")
}

func TestUsageShow_Defaults(t *testing.T) {
	open := OpenMemory(memrepo.New(), nil)

	out, _, err := execute(t, open, "usage", "show", uuid.NewString(), "--month", "202601", "--json")
	require.NoError(t, err)

	var view usageView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "202601", view.Month)
	assert.Equal(t, 1000.0, view.Limit)
	assert.InDelta(t, 100.0, view.BucketCapacity, 1e-9)
	assert.Zero(t, view.Usage)
}

func TestUsageShow_Plan(t *testing.T) {
	store := memrepo.New()
	orgID := uuid.New()
	store.Organizations().SetBilling(orgID, &domain.Billing{Plan: &domain.Plan{ID: "pro", Limit: 50, Burst: 0.5}})

	out, _, err := execute(t, OpenMemory(store, nil), "usage", "show", orgID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "pro")
	assert.Contains(t, out, "0 / 25")
}

func TestErrors(t *testing.T) {
	open := OpenMemory(memrepo.New(), nil)

	_, _, err := execute(t, open, "task", "show", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid task id")

	_, _, err = execute(t, open, "task", "show", uuid.NewString())
	assert.ErrorContains(t, err, "not found")

	_, _, err = execute(t, open, "migrate")
	assert.ErrorContains(t, err, "no schema")

	_, _, err = execute(t, open, "tick", "dispatcher")
	assert.ErrorContains(t, err, "no queue")
}

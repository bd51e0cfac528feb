package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_InvalidSpec(t *testing.T) {
	r := New(nil)

	err := r.Add(Job{Name: "bad", Spec: "every minute", Run: func(context.Context, time.Time) error { return nil }})
	assert.Error(t, err)

	for _, spec := range []string{"@every 1m", "*/5 * * * *", "@hourly"} {
		assert.NoError(t, r.Add(Job{Name: spec, Spec: spec, Run: func(context.Context, time.Time) error { return nil }}), spec)
	}
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	r := New(nil)

	ran := make(chan struct{}, 1)
	var calls atomic.Int64
	require.NoError(t, r.Add(Job{
		Name: "tick",
		Spec: "@every 1h",
		Run: func(ctx context.Context, now time.Time) error {
			calls.Add(1)
			select {
			case ran <- struct{}{}:
			default:
			}
			return errors.New("logged, not fatal")
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestStart_WaitsForFirstRunOnStop(t *testing.T) {
	r := New(nil)

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, r.Add(Job{
		Name: "slow",
		Spec: "@every 1h",
		Run: func(ctx context.Context, now time.Time) error {
			close(started)
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.True(t, finished.Load(), "Start returned before the first run finished")
}

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce(t *testing.T) {
	ok := RunOnce(context.Background(), Task{Name: "ok", Run: func(context.Context) error { return nil }}, nil)
	assert.True(t, ok)

	failed := RunOnce(context.Background(), Task{Name: "fail", Run: func(context.Context) error {
		return errors.New("boom")
	}}, nil)
	assert.False(t, failed)

	panicked := RunOnce(context.Background(), Task{Name: "panic", Run: func(context.Context) error {
		panic("bad state")
	}}, nil)
	assert.False(t, panicked)
}

func TestRunOnceTimeout(t *testing.T) {
	var deadline bool

	RunOnce(context.Background(), Task{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			_, deadline = ctx.Deadline()
			<-ctx.Done()

			return ctx.Err()
		},
	}, nil)

	assert.True(t, deadline)
}

func TestLoopRunsTasksUntilCanceled(t *testing.T) {
	var fast, failing atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	stopped := false

	go func() {
		done <- Loop(ctx, Config{
			Name:       "test",
			RunOnStart: true,
			OnStop:     func() { stopped = true },
			Tasks: []Task{
				{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
					fast.Add(1)

					return nil
				}},
				{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
					failing.Add(1)

					return errors.New("source down")
				}},
				{Name: "disabled", Run: func(context.Context) error { return nil }},
			},
		})
	}()

	require.Eventually(t, func() bool { return fast.Load() >= 3 && failing.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.True(t, stopped)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}

package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	task.Stop()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	select {
	case <-task.Done():
	default:
		t.Fatal("done channel not closed after Stop")
	}
}

func TestTask_StopIsIdempotent(t *testing.T) {
	task := Every(context.Background(), time.Hour, func(ctx context.Context) {})

	task.Stop()
	task.Stop()
}

func TestEvery_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Every(ctx, time.Hour, func(ctx context.Context) {})

	cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit after parent cancel")
	}
}

func TestEvery_RunsDoNotOverlap(t *testing.T) {
	var running, maxRunning, runs atomic.Int32

	task := Every(context.Background(), time.Millisecond, func(ctx context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		runs.Add(1)
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	task.Stop()

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestStop_WaitsForRunningCall(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	task := Every(context.Background(), time.Millisecond, func(ctx context.Context) {
		select {
		case <-started:
		default:
			close(started)
		}
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	task.Stop()
	assert.True(t, finished.Load())
}

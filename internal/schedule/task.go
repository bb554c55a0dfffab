// Package schedule runs periodic background work behind a handle that must be
// stopped by its owner.
package schedule

import (
	"context"
	"sync"
	"time"
)

type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn every interval until the task is stopped or ctx is done.
// Runs never overlap; ticks that fire while fn is running are dropped.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for a run in progress to return. It is safe
// to call more than once.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

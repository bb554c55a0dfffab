package service

import (
	"context"

	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/retry"
)

// ChangeSubscriber is the part of the bus the services listen on.
type ChangeSubscriber interface {
	Subscribe(table string, scope bus.Scope, onChange func(domain.ChangeEvent)) func()
}

// load runs get under the retry policy and returns its result.
func load[T any](ctx context.Context, p retry.Policy, get func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, p, func(ctx context.Context) error {
		v, err := get(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func stopAll(stops []func()) func() {
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

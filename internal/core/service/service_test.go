package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/adapter/storage"
	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/cache"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/retry"
)

func instantRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func newTestCache() *cache.Cache {
	return cache.New(cache.Config{Logger: zerolog.Nop()})
}

// flakyStore fails the first reads of an order with a transient error and
// counts every read that reaches it.
type flakyStore struct {
	*storage.MemoryStore
	failures atomic.Int32
	reads    atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: storage.NewMemoryStore(nil, zerolog.Nop())}
}

func (f *flakyStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	f.reads.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("deadlock found when trying to get lock")
	}
	return f.MemoryStore.GetOrder(ctx, id)
}

func fakeOrder(status domain.OrderStatus) domain.Order {
	now := time.Now().UTC()
	subtotal := int64(gofakeit.Number(1000, 9000))
	return domain.Order{
		ID:              gofakeit.UUID(),
		Number:          int64(gofakeit.Number(1, 99999)),
		RestaurantID:    "r1",
		CustomerID:      gofakeit.UUID(),
		Status:          status,
		Subtotal:        subtotal,
		DeliveryFee:     300,
		Total:           subtotal + 300,
		DeliveryMethod:  domain.DeliveryMethodDelivery,
		DeliveryAddress: gofakeit.Street(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// fakePositions hands out a fixed position, failing while failures > 0.
type fakePositions struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	lastReq  domain.PositionRequest
	block    bool
}

func (f *fakePositions) CurrentPosition(ctx context.Context, req domain.PositionRequest) (domain.Position, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	var err error
	if f.failures > 0 {
		f.failures--
		err = f.err
	}
	n := f.calls
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.Position{}, ctx.Err()
	}
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{Latitude: 4.60 + float64(n)/1000, Longitude: -74.08, Accuracy: 5}, nil
}

func (f *fakePositions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSubscriber keeps callbacks so tests can fire change events by hand.
type fakeSubscriber struct {
	mu   sync.Mutex
	subs map[string][]func(domain.ChangeEvent)
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subs: make(map[string][]func(domain.ChangeEvent))}
}

func (f *fakeSubscriber) Subscribe(table string, scope bus.Scope, onChange func(domain.ChangeEvent)) func() {
	f.mu.Lock()
	f.subs[table] = append(f.subs[table], onChange)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, table)
		f.mu.Unlock()
	}
}

func (f *fakeSubscriber) fire(ev domain.ChangeEvent) {
	f.mu.Lock()
	fns := append([]func(domain.ChangeEvent){}, f.subs[ev.Table]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeSubscriber) tables() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

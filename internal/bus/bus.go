// Package bus fans row-change notifications out to subscribers keyed by
// (table, scope) and keeps the underlying transport connected.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/metrics"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
)

// DefaultReconnectPolicy backs off from 1s to 30s and never gives up. The
// attempt counter starts over after every successful connect.
func DefaultReconnectPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 0,
	}
}

// Scope narrows a subscription to rows whose Column equals Value. The zero
// Scope matches every row of the table.
type Scope struct {
	Column string
	Value  string
}

func ByRestaurant(id string) Scope { return Scope{Column: "restaurant_id", Value: id} }
func ByOrder(id string) Scope      { return Scope{Column: "order_id", Value: id} }
func ByID(id string) Scope         { return Scope{Column: "id", Value: id} }

func (s Scope) matches(ev domain.ChangeEvent) bool {
	return s.Column == "" || ev.Keys[s.Column] == s.Value
}

type EventKind int

const (
	Disconnected EventKind = iota
	Reconnecting
	Reconnected
)

func (k EventKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Reconnected:
		return "reconnected"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports a transport state change to OnError observers.
type Event struct {
	Kind    EventKind
	Err     error
	Attempt int
	Delay   time.Duration
}

type channelKey struct {
	table string
	scope Scope
}

type subscriber struct {
	fn     func(domain.ChangeEvent)
	active atomic.Bool
}

type channel struct {
	subs map[uint64]*subscriber
}

type Bus struct {
	transport port.ChangeTransport
	policy    retry.Policy
	logger    zerolog.Logger

	mu        sync.RWMutex
	channels  map[channelKey]*channel
	observers map[uint64]func(Event)
	nextID    uint64
}

func New(transport port.ChangeTransport, policy retry.Policy, logger zerolog.Logger) *Bus {
	return &Bus{
		transport: transport,
		policy:    policy,
		logger:    logger.With().Str("component", "bus").Logger(),
		channels:  make(map[channelKey]*channel),
		observers: make(map[uint64]func(Event)),
	}
}

// Subscribe registers onChange for changes to table within scope. The
// returned func releases the subscription; calls after the first do nothing.
// It does not wait for an invocation already running, so onChange may release
// subscriptions itself. Once it returns, dispatches that have not yet reached
// this subscriber skip it.
func (b *Bus) Subscribe(table string, scope Scope, onChange func(domain.ChangeEvent)) func() {
	key := channelKey{table: table, scope: scope}
	s := &subscriber{fn: onChange}
	s.active.Store(true)

	b.mu.Lock()
	ch, ok := b.channels[key]
	if !ok {
		ch = &channel{subs: make(map[uint64]*subscriber)}
		b.channels[key] = ch
		metrics.BusSubscriptions.Inc()
	}
	b.nextID++
	id := b.nextID
	ch.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)

			b.mu.Lock()
			defer b.mu.Unlock()
			delete(ch.subs, id)
			if len(ch.subs) == 0 && b.channels[key] == ch {
				delete(b.channels, key)
				metrics.BusSubscriptions.Dec()
			}
		})
	}
}

// OnError registers an observer of transport events and returns a func that
// removes it.
func (b *Bus) OnError(handler func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Channels returns the number of open logical channels.
func (b *Bus) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Run keeps the transport connected and dispatches events until ctx is done.
// Transport failures go to observers and are followed by a reconnect after
// the policy delay; subscribers keep their registrations throughout.
func (b *Bus) Run(ctx context.Context) error {
	sleep := b.policy.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}

	attempt := 0
	for {
		stream, err := b.transport.Connect(ctx)
		if err == nil {
			if attempt > 0 {
				b.logger.Info().Int("attempt", attempt).Msg("change feed reconnected")
				b.notify(Event{Kind: Reconnected, Attempt: attempt})
			}
			attempt = 0
			err = b.consume(ctx, stream)
			if cerr := stream.Close(); cerr != nil {
				b.logger.Debug().Err(cerr).Msg("close change stream")
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		b.logger.Warn().Err(err).Msg("change feed disconnected")
		b.notify(Event{Kind: Disconnected, Err: err, Attempt: attempt})

		if b.policy.MaxAttempts > 0 && attempt >= b.policy.MaxAttempts {
			return fmt.Errorf("change feed: gave up after %d attempts: %w", attempt, err)
		}

		delay := b.policy.Delay(attempt)
		attempt++
		metrics.BusReconnectsTotal.Inc()
		b.notify(Event{Kind: Reconnecting, Err: err, Attempt: attempt, Delay: delay})

		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (b *Bus) consume(ctx context.Context, stream port.ChangeStream) error {
	for {
		ev, err := stream.Receive(ctx)
		if err != nil {
			return err
		}
		metrics.BusEventsTotal.WithLabelValues(ev.Table).Inc()
		b.dispatch(ev)
	}
}

func (b *Bus) dispatch(ev domain.ChangeEvent) {
	var targets []*subscriber

	b.mu.RLock()
	for key, ch := range b.channels {
		if key.table != ev.Table || !key.scope.matches(ev) {
			continue
		}
		for _, s := range ch.subs {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.active.Load() {
			b.call(s, ev)
		}
	}
}

func (b *Bus) call(s *subscriber, ev domain.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("table", ev.Table).Msg("subscriber panicked")
		}
	}()
	s.fn(ev)
}

func (b *Bus) notify(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.observers))
	for _, h := range b.observers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().Interface("panic", r).Msg("error observer panicked")
				}
			}()
			h(ev)
		}()
	}
}

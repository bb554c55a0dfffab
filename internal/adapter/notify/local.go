package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

var errStreamClosed = errors.New("local stream closed")

// Local delivers events inside one process. It is both the publisher of the
// memory store and the transport of the bus when no broker is configured.
// A stream whose buffer is full drops events.
type Local struct {
	mu      sync.Mutex
	streams map[*localStream]struct{}
	buffer  int
}

func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 256
	}
	return &Local{streams: make(map[*localStream]struct{}), buffer: buffer}
}

func (l *Local) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.streams {
		select {
		case s.events <- ev:
		default:
		}
	}
	return nil
}

func (l *Local) Connect(ctx context.Context) (port.ChangeStream, error) {
	s := &localStream{
		owner:  l,
		events: make(chan domain.ChangeEvent, l.buffer),
		done:   make(chan struct{}),
	}
	l.mu.Lock()
	l.streams[s] = struct{}{}
	l.mu.Unlock()
	return s, nil
}

type localStream struct {
	owner  *Local
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *localStream) Receive(ctx context.Context) (domain.ChangeEvent, error) {
	select {
	case <-ctx.Done():
		return domain.ChangeEvent{}, ctx.Err()
	case <-s.done:
		return domain.ChangeEvent{}, errStreamClosed
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *localStream) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.streams, s)
		s.owner.mu.Unlock()
		close(s.done)
	})
	return nil
}

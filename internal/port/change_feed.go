package port

import (
	"context"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// ChangePublisher announces row changes for stores without native notifications.
type ChangePublisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// ChangeTransport opens a stream of row changes for all tables.
type ChangeTransport interface {
	Connect(ctx context.Context) (ChangeStream, error)
}

type ChangeStream interface {
	// Receive blocks until the next event; any error means the stream is unusable
	Receive(ctx context.Context) (domain.ChangeEvent, error)

	Close() error
}

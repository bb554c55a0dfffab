package port

import (
	"context"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

type PositionSource interface {
	// CurrentPosition returns a one-shot reading, domain.ErrPermissionDenied if the device refuses
	CurrentPosition(ctx context.Context, req domain.PositionRequest) (domain.Position, error)
}

type SessionRenewer interface {
	// Renew extends the authenticated session of the current device
	Renew(ctx context.Context) error
}

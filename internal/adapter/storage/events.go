package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

const publishTimeout = 5 * time.Second

// notifier announces committed changes for stores that have no change feed
// of their own. Publishing is best effort; subscribers also rely on TTLs.
type notifier struct {
	publisher port.ChangePublisher
	logger    zerolog.Logger
	timeout   time.Duration
}

func (n notifier) emit(ctx context.Context, table string, typ domain.ChangeType, keys map[string]string) {
	if n.publisher == nil {
		return
	}
	ev := domain.ChangeEvent{
		Table:      table,
		Type:       typ,
		Keys:       keys,
		CommitTime: time.Now().UTC(),
	}
	timeout := n.timeout
	if timeout <= 0 {
		timeout = publishTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, ev); err != nil {
		n.logger.Warn().Err(err).Str("table", table).Msg("publish change event")
	}
}

func orderKeys(o domain.Order) map[string]string {
	return map[string]string{"id": o.ID, "restaurant_id": o.RestaurantID}
}

func trackingKeys(id, orderID string) map[string]string {
	return map[string]string{"id": id, "order_id": orderID}
}

func bannerKeys(id, restaurantID string) map[string]string {
	return map[string]string{"id": id, "restaurant_id": restaurantID}
}

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Table
	}
	return out
}

func testOrder(id, restaurantID string, status domain.OrderStatus) domain.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Order{
		ID:             id,
		Number:         time.Now().UnixNano() % 1_000_000_000,
		RestaurantID:   restaurantID,
		CustomerID:     "customer-1",
		Status:         status,
		Subtotal:       2500,
		DeliveryFee:    300,
		Total:          2800,
		DeliveryMethod: domain.DeliveryMethodDelivery,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testTracking(orderID string, lat, lng float64) domain.DeliveryTrackingRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.DeliveryTrackingRecord{
		OrderID:            orderID,
		DeliveryPersonID:   "courier-1",
		DeliveryPersonName: "Ana",
		CurrentLatitude:    lat,
		CurrentLongitude:   lng,
		Status:             domain.OrderStatusOutForDelivery,
		LastUpdated:        now,
	}
}

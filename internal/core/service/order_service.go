package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/cache"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/metrics"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
	"github.com/rl1809/order-tracking/internal/schedule"
)

const (
	orderTTL                 = 15 * time.Second
	orderListTTL             = 5 * time.Minute
	orderListFresh           = 30 * time.Second
	trackingTTL              = 5 * time.Second
	orderListLimit           = 50
	DefaultReconcileInterval = time.Minute
)

// OrderView is an order as the dashboard and storefront show it.
type OrderView struct {
	Order domain.Order `json:"order"`
	// ProgressStep is 1-4, or 0 for a cancelled order.
	ProgressStep int                            `json:"progress_step"`
	StatusText   string                         `json:"status_text"`
	Tracking     *domain.DeliveryTrackingRecord `json:"tracking,omitempty"`
}

type OrderService struct {
	orders   port.OrderRepository
	tracking port.TrackingRepository
	cache    cache.Layer
	policy   retry.Policy
	logger   zerolog.Logger
	now      func() time.Time
}

func NewOrderService(orders port.OrderRepository, tracking port.TrackingRepository, c cache.Layer, logger zerolog.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		tracking: tracking,
		cache:    c,
		policy:   retry.DefaultPolicy(),
		logger:   logger.With().Str("component", "orders").Logger(),
		now:      time.Now,
	}
}

func orderKey(id string) string                      { return cache.Key("order", id) }
func restaurantOrdersKey(restaurantID string) string { return cache.Key("orders", restaurantID) }
func trackingKey(orderID string) string              { return cache.Key("tracking", orderID) }

func (s *OrderService) GetOrder(ctx context.Context, id string) (*OrderView, error) {
	order, err := cache.Fetch(ctx, s.cache, orderKey(id), func(ctx context.Context) (domain.Order, error) {
		o, err := load(ctx, s.policy, func(ctx context.Context) (*domain.Order, error) {
			return s.orders.GetOrder(ctx, id)
		})
		if err != nil {
			return domain.Order{}, err
		}
		return *o, nil
	}, cache.Options{Duration: orderTTL})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	view := &OrderView{Order: order, StatusText: domain.StatusText(order.Status)}
	if step, ok := domain.ProgressStep(order.Status); ok {
		view.ProgressStep = step
	}

	if order.Status == domain.OrderStatusOutForDelivery {
		tracking, err := s.GetTracking(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("order_id", id).Msg("tracking unavailable for order view")
		}
		view.Tracking = tracking
	}
	return view, nil
}

// ListOrders serves the restaurant's recent orders, refreshing stale lists in
// the background.
func (s *OrderService) ListOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	orders, err := cache.Fetch(ctx, s.cache, restaurantOrdersKey(restaurantID), func(ctx context.Context) ([]domain.Order, error) {
		return load(ctx, s.policy, func(ctx context.Context) ([]domain.Order, error) {
			return s.orders.ListOrders(ctx, restaurantID, orderListLimit)
		})
	}, cache.Options{Duration: orderListTTL, FreshFor: orderListFresh, Revalidate: true})
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", restaurantID, err)
	}
	return orders, nil
}

// GetTracking returns the active tracking record of an order, or nil if there
// is none.
func (s *OrderService) GetTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error) {
	rec, err := cache.Fetch(ctx, s.cache, trackingKey(orderID), func(ctx context.Context) (*domain.DeliveryTrackingRecord, error) {
		rec, err := load(ctx, s.policy, func(ctx context.Context) (*domain.DeliveryTrackingRecord, error) {
			return s.tracking.GetActiveTracking(ctx, orderID)
		})
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return rec, err
	}, cache.Options{Duration: trackingTTL})
	if err != nil {
		return nil, fmt.Errorf("get tracking of %s: %w", orderID, err)
	}
	return rec, nil
}

// UpdateStatus moves an order to a new status. A terminal status closes the
// order's active tracking record in the same store operation.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("status %q: %w", to, domain.ErrInvalidStatusTransition)
	}

	order, err := load(ctx, s.policy, func(ctx context.Context) (*domain.Order, error) {
		return s.orders.GetOrder(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if err := domain.ValidateTransition(order.Status, to); err != nil {
		return nil, err
	}

	change := domain.StatusChange{
		OrderID:       id,
		From:          order.Status,
		To:            to,
		CloseTracking: to.Terminal(),
		At:            s.now().UTC(),
	}
	if err := s.orders.SetOrderStatus(ctx, change); err != nil {
		return nil, fmt.Errorf("set status of %s: %w", id, err)
	}
	metrics.TrackingStatusChangesTotal.WithLabelValues(to.String()).Inc()

	s.invalidate(ctx, orderKey(id), restaurantOrdersKey(order.RestaurantID), trackingKey(id))

	s.logger.Info().
		Str("order_id", id).
		Str("from", order.Status.String()).
		Str("to", to.String()).
		Msg("order status changed")

	order.Status = to
	order.UpdatedAt = change.At
	return order, nil
}

// Reconcile closes tracking records left active after their order finished.
func (s *OrderService) Reconcile(ctx context.Context) (int, error) {
	n, err := s.tracking.ReconcileTracking(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reconcile tracking: %w", err)
	}
	if n > 0 {
		metrics.TrackingReconciledTotal.Add(float64(n))
		s.logger.Warn().Int("closed", n).Msg("closed orphaned tracking records")
	}
	return n, nil
}

func (s *OrderService) StartReconciler(ctx context.Context, interval time.Duration) *schedule.Task {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return schedule.Every(ctx, interval, func(ctx context.Context) {
		if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("reconcile failed")
		}
	})
}

// Watch drops cached orders and tracking records when the store reports a
// change to them. The returned func stops watching.
func (s *OrderService) Watch(sub ChangeSubscriber) func() {
	return stopAll([]func(){
		sub.Subscribe(domain.TableOrders, bus.Scope{}, func(ev domain.ChangeEvent) {
			ctx := context.Background()
			s.invalidate(ctx, orderKey(ev.Key("id")))
			if r := ev.Key("restaurant_id"); r != "" {
				s.invalidate(ctx, restaurantOrdersKey(r))
			}
		}),
		sub.Subscribe(domain.TableDeliveryTracking, bus.Scope{}, func(ev domain.ChangeEvent) {
			if o := ev.Key("order_id"); o != "" {
				s.invalidate(context.Background(), trackingKey(o), orderKey(o))
			}
		}),
	})
}

func (s *OrderService) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.cache.Invalidate(ctx, key, cache.TierMemory); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("invalidate cache entry")
		}
	}
}

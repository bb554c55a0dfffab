package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/metrics"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
	"github.com/rl1809/order-tracking/internal/schedule"
)

const (
	PositionTimeout             = 5 * time.Second
	DefaultAutoTrackingInterval = 30 * time.Second
)

// TrackingService runs on the courier side and keeps the delivery tracking
// record of an order up to date.
type TrackingService struct {
	orders    port.OrderRepository
	tracking  port.TrackingRepository
	positions port.PositionSource
	logger    zerolog.Logger
	now       func() time.Time
}

func NewTrackingService(orders port.OrderRepository, tracking port.TrackingRepository, positions port.PositionSource, logger zerolog.Logger) *TrackingService {
	return &TrackingService{
		orders:    orders,
		tracking:  tracking,
		positions: positions,
		logger:    logger.With().Str("component", "tracking").Logger(),
		now:       time.Now,
	}
}

// GetCurrentPosition asks the device for a fresh high accuracy reading. Every
// failure matches domain.ErrPositionUnavailable; a refusal also matches
// domain.ErrPermissionDenied.
func (s *TrackingService) GetCurrentPosition(ctx context.Context) (domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, PositionTimeout)
	defer cancel()

	pos, err := s.positions.CurrentPosition(ctx, domain.PositionRequest{HighAccuracy: true, MaximumAge: 0})
	if err != nil {
		if errors.Is(err, domain.ErrPositionUnavailable) {
			return domain.Position{}, err
		}
		return domain.Position{}, fmt.Errorf("%w: %w", domain.ErrPositionUnavailable, err)
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = s.now().UTC()
	}
	return pos, nil
}

// InitialPosition keeps asking for a reading under p until one arrives, so a
// delivery never starts from a made-up location. A denied permission is not
// retried.
func (s *TrackingService) InitialPosition(ctx context.Context, p retry.Policy) (domain.Position, error) {
	var pos domain.Position
	err := retry.Do(ctx, p, func(ctx context.Context) error {
		var err error
		pos, err = s.GetCurrentPosition(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("waiting for a first position")
		}
		return err
	})
	if err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// NewSession returns a session with no record bound.
func (s *TrackingService) NewSession() *TrackingSession {
	return &TrackingSession{svc: s}
}

// TrackingSession is one courier's delivery in progress. It is safe for
// concurrent use.
type TrackingSession struct {
	svc *TrackingService

	mu     sync.Mutex
	record *domain.DeliveryTrackingRecord
	auto   *schedule.Task
}

// StartTracking creates the active record of the order, or takes over the
// one that already exists, and binds it to the session.
func (ts *TrackingSession) StartTracking(ctx context.Context, orderID, personID, personName string, pos domain.Position, status domain.OrderStatus) (*domain.DeliveryTrackingRecord, error) {
	if status == "" {
		status = domain.OrderStatusOutForDelivery
	}
	if !domain.IsTrackingStatus(status) {
		return nil, fmt.Errorf("status %q: %w", status, domain.ErrInvalidTrackingStatus)
	}

	order, err := ts.svc.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderClosed)
	}

	now := ts.svc.now().UTC()
	rec, err := ts.svc.tracking.UpsertActiveTracking(ctx, domain.DeliveryTrackingRecord{
		OrderID:            orderID,
		DeliveryPersonID:   personID,
		DeliveryPersonName: personName,
		CurrentLatitude:    pos.Latitude,
		CurrentLongitude:   pos.Longitude,
		Status:             status,
		IsActive:           true,
		LastUpdated:        now,
		CreatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("start tracking %s: %w", orderID, err)
	}

	ts.mu.Lock()
	bound := *rec
	ts.record = &bound
	ts.mu.Unlock()

	ts.svc.logger.Info().
		Str("order_id", orderID).
		Str("tracking_id", rec.ID).
		Str("courier_id", personID).
		Msg("tracking started")

	out := *rec
	return &out, nil
}

// UpdateLocation pushes a new position for the bound record.
func (ts *TrackingSession) UpdateLocation(ctx context.Context, lat, lng float64) error {
	rec, ok := ts.Active()
	if !ok {
		return domain.ErrNoActiveTracking
	}

	at := ts.svc.now().UTC()
	err := ts.svc.tracking.UpdateTrackingPosition(ctx, rec.ID, domain.Position{Latitude: lat, Longitude: lng, Timestamp: at}, at)
	if errors.Is(err, domain.ErrNoActiveTracking) {
		ts.unbind(rec.ID)
		return err
	}
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}

	ts.mu.Lock()
	if ts.record != nil && ts.record.ID == rec.ID {
		ts.record.CurrentLatitude = lat
		ts.record.CurrentLongitude = lng
		ts.record.LastUpdated = at
	}
	ts.mu.Unlock()
	return nil
}

// UpdateStatus sets the status of the bound record and of its order in one
// store operation. Delivered closes the record and ends the session's
// tracking.
func (ts *TrackingSession) UpdateStatus(ctx context.Context, status domain.OrderStatus) error {
	if !domain.IsTrackingStatus(status) {
		return fmt.Errorf("status %q: %w", status, domain.ErrInvalidTrackingStatus)
	}
	rec, ok := ts.Active()
	if !ok {
		return domain.ErrNoActiveTracking
	}

	order, err := ts.svc.orders.GetOrder(ctx, rec.OrderID)
	if err != nil {
		return fmt.Errorf("get order %s: %w", rec.OrderID, err)
	}
	if order.Status != status {
		if err := domain.ValidateTransition(order.Status, status); err != nil {
			return err
		}
	}

	change := domain.StatusChange{
		OrderID:        rec.OrderID,
		From:           order.Status,
		To:             status,
		TrackingID:     rec.ID,
		TrackingStatus: status,
		CloseTracking:  status == domain.OrderStatusDelivered,
		At:             ts.svc.now().UTC(),
	}
	err = ts.svc.orders.SetOrderStatus(ctx, change)
	if errors.Is(err, domain.ErrNoActiveTracking) {
		ts.unbind(rec.ID)
		return err
	}
	if err != nil {
		return fmt.Errorf("update status of %s: %w", rec.OrderID, err)
	}
	metrics.TrackingStatusChangesTotal.WithLabelValues(status.String()).Inc()

	ts.svc.logger.Info().
		Str("order_id", rec.OrderID).
		Str("from", order.Status.String()).
		Str("to", status.String()).
		Msg("delivery status changed")

	if change.CloseTracking {
		ts.unbind(rec.ID)
		ts.StopAutoTracking()
		return nil
	}

	ts.mu.Lock()
	if ts.record != nil && ts.record.ID == rec.ID {
		ts.record.Status = status
		ts.record.LastUpdated = change.At
	}
	ts.mu.Unlock()
	return nil
}

// FinishTracking closes the bound record. Calling it again, or with nothing
// bound, does nothing.
func (ts *TrackingSession) FinishTracking(ctx context.Context) error {
	rec, ok := ts.Active()
	if !ok {
		return nil
	}

	err := ts.svc.tracking.CloseTracking(ctx, rec.ID, ts.svc.now().UTC())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("finish tracking %s: %w", rec.OrderID, err)
	}

	ts.unbind(rec.ID)
	ts.StopAutoTracking()
	ts.svc.logger.Info().Str("order_id", rec.OrderID).Str("tracking_id", rec.ID).Msg("tracking finished")
	return nil
}

// StartAutoTracking pushes the device position every interval until the
// returned task is stopped, the session finishes or ctx is done. A failed
// tick is logged and the loop keeps going.
func (ts *TrackingSession) StartAutoTracking(ctx context.Context, interval time.Duration) *schedule.Task {
	if interval <= 0 {
		interval = DefaultAutoTrackingInterval
	}

	task := schedule.Every(ctx, interval, ts.push)

	ts.mu.Lock()
	prev := ts.auto
	ts.auto = task
	ts.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return task
}

// StopAutoTracking stops the loop started by StartAutoTracking, if any.
func (ts *TrackingSession) StopAutoTracking() {
	ts.mu.Lock()
	task := ts.auto
	ts.auto = nil
	ts.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

func (ts *TrackingSession) push(ctx context.Context) {
	pos, err := ts.svc.GetCurrentPosition(ctx)
	if err != nil {
		metrics.TrackingPushesTotal.WithLabelValues("position_error").Inc()
		ts.svc.logger.Warn().Err(err).Msg("auto tracking: no position")
		return
	}
	if err := ts.UpdateLocation(ctx, pos.Latitude, pos.Longitude); err != nil {
		metrics.TrackingPushesTotal.WithLabelValues("update_error").Inc()
		ts.svc.logger.Warn().Err(err).Msg("auto tracking: update failed")
		return
	}
	metrics.TrackingPushesTotal.WithLabelValues("ok").Inc()
}

// Active returns a copy of the bound record.
func (ts *TrackingSession) Active() (domain.DeliveryTrackingRecord, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.record == nil {
		return domain.DeliveryTrackingRecord{}, false
	}
	return *ts.record, true
}

func (ts *TrackingSession) unbind(id string) {
	ts.mu.Lock()
	if ts.record != nil && ts.record.ID == id {
		ts.record = nil
	}
	ts.mu.Unlock()
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-tracking/internal/adapter/storage"
	"github.com/rl1809/order-tracking/internal/core/domain"
)

func newTrackingFixture(t *testing.T, status domain.OrderStatus) (*TrackingService, *storage.MemoryStore, *fakePositions, domain.Order) {
	t.Helper()
	store := storage.NewMemoryStore(nil, zerolog.Nop())
	order := fakeOrder(status)
	store.PutOrder(context.Background(), order)

	positions := &fakePositions{}
	svc := NewTrackingService(store, store, positions, zerolog.Nop())
	return svc, store, positions, order
}

func TestDeliveryScenario_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, store, positions, order := newTrackingFixture(t, domain.OrderStatusPending)
	session := svc.NewSession()

	start := domain.Position{Latitude: 4.60, Longitude: -74.08}
	rec, err := session.StartTracking(ctx, order.ID, "courier-1", "Ana", start, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOutForDelivery, rec.Status)
	assert.True(t, rec.IsActive)
	assert.Equal(t, 1, store.ActiveTrackingCount(order.ID))

	task := session.StartAutoTracking(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool { return positions.Calls() >= 3 }, time.Second, time.Millisecond)
	task.Stop()

	moved, ok := store.GetTracking(rec.ID)
	require.True(t, ok)
	assert.NotEqual(t, start.Latitude, moved.CurrentLatitude, "auto tracking pushed new positions")

	require.NoError(t, session.UpdateStatus(ctx, domain.OrderStatusDelivered))

	closed, ok := store.GetTracking(rec.ID)
	require.True(t, ok)
	assert.False(t, closed.IsActive)
	assert.Equal(t, domain.OrderStatusDelivered, closed.Status)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, got.Status)

	step, ok := domain.ProgressStep(got.Status)
	assert.True(t, ok)
	assert.Equal(t, 4, step)

	_, bound := session.Active()
	assert.False(t, bound)
}

func TestStartTracking_TwiceKeepsOneActiveRecord(t *testing.T) {
	ctx := context.Background()
	svc, store, _, order := newTrackingFixture(t, domain.OrderStatusReady)

	first, err := svc.NewSession().StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{Latitude: 1, Longitude: 1}, "")
	require.NoError(t, err)
	second, err := svc.NewSession().StartTracking(ctx, order.ID, "courier-2", "Luis", domain.Position{Latitude: 2, Longitude: 2}, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "courier-2", second.DeliveryPersonID)
	assert.Equal(t, 1, store.ActiveTrackingCount(order.ID))
}

func TestStartTracking_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	svc, store, _, order := newTrackingFixture(t, domain.OrderStatusReady)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.NewSession().StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{}, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.ActiveTrackingCount(order.ID))
}

func TestStartTracking_Rejects(t *testing.T) {
	ctx := context.Background()

	t.Run("tracking status", func(t *testing.T) {
		svc, _, _, order := newTrackingFixture(t, domain.OrderStatusReady)
		_, err := svc.NewSession().StartTracking(ctx, order.ID, "c", "n", domain.Position{}, domain.OrderStatusPreparing)
		assert.ErrorIs(t, err, domain.ErrInvalidTrackingStatus)
	})

	t.Run("closed order", func(t *testing.T) {
		svc, _, _, order := newTrackingFixture(t, domain.OrderStatusCancelled)
		_, err := svc.NewSession().StartTracking(ctx, order.ID, "c", "n", domain.Position{}, "")
		assert.ErrorIs(t, err, domain.ErrOrderClosed)
	})

	t.Run("unknown order", func(t *testing.T) {
		svc, _, _, _ := newTrackingFixture(t, domain.OrderStatusReady)
		_, err := svc.NewSession().StartTracking(ctx, "missing", "c", "n", domain.Position{}, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestFinishTracking_ClosesRecordOnce(t *testing.T) {
	ctx := context.Background()
	svc, store, _, order := newTrackingFixture(t, domain.OrderStatusOutForDelivery)
	session := svc.NewSession()

	rec, err := session.StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{}, "")
	require.NoError(t, err)

	require.NoError(t, session.FinishTracking(ctx))
	require.NoError(t, session.FinishTracking(ctx))

	closed, ok := store.GetTracking(rec.ID)
	require.True(t, ok)
	assert.False(t, closed.IsActive)
	assert.Equal(t, domain.OrderStatusDelivered, closed.Status)

	assert.ErrorIs(t, session.UpdateLocation(ctx, 1, 2), domain.ErrNoActiveTracking)
}

func TestUpdateLocation_DropsBindingWhenClosedElsewhere(t *testing.T) {
	ctx := context.Background()
	svc, store, _, order := newTrackingFixture(t, domain.OrderStatusOutForDelivery)
	session := svc.NewSession()

	rec, err := session.StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{}, "")
	require.NoError(t, err)
	require.NoError(t, session.UpdateLocation(ctx, 4.7, -74.1))

	active, ok := session.Active()
	require.True(t, ok)
	assert.Equal(t, 4.7, active.CurrentLatitude)

	require.NoError(t, store.CloseTracking(ctx, rec.ID, time.Now()))

	assert.ErrorIs(t, session.UpdateLocation(ctx, 4.8, -74.1), domain.ErrNoActiveTracking)
	_, ok = session.Active()
	assert.False(t, ok)
}

func TestUpdateStatus_ValidatesTransition(t *testing.T) {
	ctx := context.Background()
	svc, store, _, order := newTrackingFixture(t, domain.OrderStatusOutForDelivery)
	session := svc.NewSession()

	_, err := session.StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{}, "")
	require.NoError(t, err)

	// same status only touches the tracking side
	require.NoError(t, session.UpdateStatus(ctx, domain.OrderStatusOutForDelivery))
	assert.ErrorIs(t, session.UpdateStatus(ctx, domain.OrderStatusReady), domain.ErrInvalidTrackingStatus)

	require.NoError(t, store.SetOrderStatus(ctx, domain.StatusChange{
		OrderID: order.ID, From: domain.OrderStatusOutForDelivery, To: domain.OrderStatusCancelled, At: time.Now(),
	}))
	assert.ErrorIs(t, session.UpdateStatus(ctx, domain.OrderStatusDelivered), domain.ErrInvalidStatusTransition)
}

func TestGetCurrentPosition_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("denied", func(t *testing.T) {
		svc, _, positions, _ := newTrackingFixture(t, domain.OrderStatusPending)
		positions.failures, positions.err = 1, domain.ErrPermissionDenied

		_, err := svc.GetCurrentPosition(ctx)
		assert.ErrorIs(t, err, domain.ErrPositionUnavailable)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.True(t, positions.lastReq.HighAccuracy)
		assert.Zero(t, positions.lastReq.MaximumAge)
	})

	t.Run("timeout", func(t *testing.T) {
		svc, _, positions, _ := newTrackingFixture(t, domain.OrderStatusPending)
		positions.block = true

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := svc.GetCurrentPosition(short)
		assert.ErrorIs(t, err, domain.ErrPositionUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestInitialPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("waits out failed readings", func(t *testing.T) {
		svc, _, positions, _ := newTrackingFixture(t, domain.OrderStatusReady)
		positions.failures, positions.err = 2, errors.New("gps warming up")

		pos, err := svc.InitialPosition(ctx, instantRetry())
		require.NoError(t, err)
		assert.NotZero(t, pos.Latitude)
		assert.Equal(t, 3, positions.Calls())
	})

	t.Run("denied is not retried", func(t *testing.T) {
		svc, _, positions, _ := newTrackingFixture(t, domain.OrderStatusReady)
		positions.failures, positions.err = 5, domain.ErrPermissionDenied

		_, err := svc.InitialPosition(ctx, instantRetry())
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Equal(t, 1, positions.Calls())
	})

	t.Run("gives up without a reading", func(t *testing.T) {
		svc, _, positions, _ := newTrackingFixture(t, domain.OrderStatusReady)
		positions.failures, positions.err = 10, errors.New("no fix")

		pos, err := svc.InitialPosition(ctx, instantRetry())
		assert.ErrorIs(t, err, domain.ErrPositionUnavailable)
		assert.Equal(t, domain.Position{}, pos)
	})
}

func TestAutoTracking_KeepsGoingAfterFailures(t *testing.T) {
	ctx := context.Background()
	svc, store, positions, order := newTrackingFixture(t, domain.OrderStatusOutForDelivery)
	positions.failures, positions.err = 2, errors.New("gps lost")
	session := svc.NewSession()

	rec, err := session.StartTracking(ctx, order.ID, "courier-1", "Ana", domain.Position{}, "")
	require.NoError(t, err)

	task := session.StartAutoTracking(ctx, 5*time.Millisecond)
	defer task.Stop()

	require.Eventually(t, func() bool {
		got, _ := store.GetTracking(rec.ID)
		return got.CurrentLatitude != 0
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, positions.Calls(), 3)

	require.NoError(t, session.FinishTracking(ctx))
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("auto tracking kept running after finish")
	}
}

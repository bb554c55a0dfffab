package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

func newOrderFixture(t *testing.T) (*OrderService, *flakyStore) {
	t.Helper()
	store := newFlakyStore()
	svc := NewOrderService(store, store, newTestCache(), zerolog.Nop())
	svc.policy = instantRetry()
	return svc, store
}

func TestGetOrder_BuildsViewAndCaches(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusOutForDelivery)
	store.PutOrder(ctx, order)
	rec, err := store.UpsertActiveTracking(ctx, domain.DeliveryTrackingRecord{
		OrderID: order.ID, Status: domain.OrderStatusOutForDelivery, LastUpdated: time.Now(),
	})
	require.NoError(t, err)

	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.ProgressStep)
	assert.Equal(t, "Out for delivery", view.StatusText)
	require.NotNil(t, view.Tracking)
	assert.Equal(t, rec.ID, view.Tracking.ID)

	_, err = svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.reads.Load(), "second read is served from cache")
}

func TestGetOrder_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusPending)
	store.PutOrder(ctx, order)
	store.failures.Store(2)

	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, view.Order.ID)
	assert.Equal(t, int32(3), store.reads.Load())
}

func TestGetOrder_NotFoundIsNotRetried(t *testing.T) {
	svc, store := newOrderFixture(t)

	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), store.reads.Load())
}

func TestGetOrder_CancelledHasNoStep(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusCancelled)
	store.PutOrder(ctx, order)

	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, view.ProgressStep)
	assert.Nil(t, view.Tracking)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusPreparing)
	store.PutOrder(ctx, order)

	_, err := svc.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	_, err = svc.UpdateStatus(ctx, order.ID, domain.OrderStatusPreparing)
	assert.ErrorIs(t, err, domain.ErrStatusAlreadySet)

	_, err = svc.UpdateStatus(ctx, order.ID, "teleported")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	updated, err := svc.UpdateStatus(ctx, order.ID, domain.OrderStatusReady)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReady, updated.Status)
}

func TestUpdateStatus_InvalidatesCachedView(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusPending)
	store.PutOrder(ctx, order)

	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.ProgressStep)

	_, err = svc.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	require.NoError(t, err)

	view, err = svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, view.Order.Status)
}

func TestUpdateStatus_CancelClosesTracking(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusOutForDelivery)
	store.PutOrder(ctx, order)
	_, err := store.UpsertActiveTracking(ctx, domain.DeliveryTrackingRecord{OrderID: order.ID, Status: domain.OrderStatusOutForDelivery})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, 0, store.ActiveTrackingCount(order.ID))
	rec, err := svc.GetTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListOrders_NewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)

	older := fakeOrder(domain.OrderStatusPending)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := fakeOrder(domain.OrderStatusPending)
	store.PutOrder(ctx, older)
	store.PutOrder(ctx, newer)

	orders, err := svc.ListOrders(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, newer.ID, orders[0].ID)
}

func TestWatch_InvalidatesOnChange(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusPending)
	store.PutOrder(ctx, order)

	sub := newFakeSubscriber()
	stop := svc.Watch(sub)

	_, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	sub.fire(domain.ChangeEvent{
		Table: domain.TableOrders,
		Type:  domain.ChangeUpdate,
		Keys:  map[string]string{"id": order.ID, "restaurant_id": order.RestaurantID},
	})
	_, err = svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.reads.Load(), "change event forces a re-fetch")

	stop()
	assert.Zero(t, sub.tables())
}

func TestReconcile_ClosesOrphans(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture(t)
	order := fakeOrder(domain.OrderStatusOutForDelivery)
	store.PutOrder(ctx, order)
	_, err := store.UpsertActiveTracking(ctx, domain.DeliveryTrackingRecord{OrderID: order.ID, Status: domain.OrderStatusOutForDelivery})
	require.NoError(t, err)

	// an order finished without closing its record
	order.Status = domain.OrderStatusDelivered
	store.PutOrder(ctx, order)

	n, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.ActiveTrackingCount(order.ID))

	task := svc.StartReconciler(ctx, 5*time.Millisecond)
	task.Stop()
}

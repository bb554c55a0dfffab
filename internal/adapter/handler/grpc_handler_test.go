package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/order-tracking/internal/adapter/geo"
	"github.com/rl1809/order-tracking/internal/adapter/storage"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/core/service"
)

func newGRPCClient(t *testing.T) (*GRPCClient, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(nil, zerolog.Nop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(zerolog.Nop())))
	RegisterTrackingStoreServer(srv, NewGRPCHandler(store, store, zerolog.Nop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewGRPCClient(conn), store
}

func putOrder(store *storage.MemoryStore, id string, st domain.OrderStatus) domain.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := domain.Order{ID: id, RestaurantID: "r1", Status: st, Total: 1200, CreatedAt: now, UpdatedAt: now}
	store.PutOrder(context.Background(), o)
	return o
}

func TestGRPC_OrderCalls(t *testing.T) {
	ctx := context.Background()
	client, store := newGRPCClient(t)
	putOrder(store, "o1", domain.OrderStatusReady)

	order, err := client.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReady, order.Status)
	assert.Equal(t, int64(1200), order.Total)

	orders, err := client.ListOrders(ctx, "r1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	_, err = client.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = client.SetOrderStatus(ctx, domain.StatusChange{OrderID: "o1", From: domain.OrderStatusPending, To: domain.OrderStatusConfirmed, At: time.Now()})
	assert.ErrorIs(t, err, domain.ErrStatusConflict)
}

func TestGRPC_TrackingCalls(t *testing.T) {
	ctx := context.Background()
	client, store := newGRPCClient(t)
	putOrder(store, "o1", domain.OrderStatusOutForDelivery)

	_, err := client.GetActiveTracking(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err := client.UpsertActiveTracking(ctx, domain.DeliveryTrackingRecord{
		OrderID: "o1", DeliveryPersonID: "c1", Status: domain.OrderStatusOutForDelivery,
	})
	require.NoError(t, err)
	assert.True(t, rec.IsActive)

	require.NoError(t, client.UpdateTrackingPosition(ctx, rec.ID, domain.Position{Latitude: 4.7, Longitude: -74.1}, time.Now()))
	active, err := client.GetActiveTracking(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 4.7, active.CurrentLatitude)

	require.NoError(t, client.CloseTracking(ctx, rec.ID, time.Now()))
	require.NoError(t, client.CloseTracking(ctx, rec.ID, time.Now()))

	err = client.UpdateTrackingPosition(ctx, rec.ID, domain.Position{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNoActiveTracking)

	_, err = client.ReconcileTracking(ctx, time.Now())
	assert.ErrorIs(t, err, ErrServerSide)
}

func TestGRPC_CourierSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	client, store := newGRPCClient(t)
	putOrder(store, "o1", domain.OrderStatusReady)

	route := geo.NewSimulatedSource(domain.Position{Latitude: 4.60, Longitude: -74.08}, domain.Position{Latitude: 4.65, Longitude: -74.05}, 5, 7)
	svc := service.NewTrackingService(client, client, route, zerolog.Nop())
	session := svc.NewSession()

	pos, err := svc.GetCurrentPosition(ctx)
	require.NoError(t, err)

	rec, err := session.StartTracking(ctx, "o1", "c1", "Ana", pos, "")
	require.NoError(t, err)
	assert.Equal(t, 1, store.ActiveTrackingCount("o1"))

	require.NoError(t, session.UpdateLocation(ctx, 4.61, -74.07))
	require.NoError(t, session.UpdateStatus(ctx, domain.OrderStatusDelivered))

	closed, ok := store.GetTracking(rec.ID)
	require.True(t, ok)
	assert.False(t, closed.IsActive)

	order, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{domain.ErrNotFound, codes.NotFound},
		{domain.ErrNoActiveTracking, codes.FailedPrecondition},
		{domain.ErrOrderClosed, codes.FailedPrecondition},
		{domain.ErrStatusConflict, codes.Aborted},
		{domain.ErrStatusAlreadySet, codes.AlreadyExists},
		{domain.ErrInvalidStatusTransition, codes.InvalidArgument},
		{domain.ErrOffline, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			st := toStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))
			if tt.code != codes.Internal {
				assert.ErrorIs(t, fromStatus(st), tt.err)
			}
		})
	}

	assert.ErrorIs(t, fromStatus(status.Error(codes.Unavailable, "connection refused")), domain.ErrOffline)
}

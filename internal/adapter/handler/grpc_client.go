package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// ErrServerSide is returned for operations only the server runs.
var ErrServerSide = errors.New("operation runs on the server")

// GRPCClient reaches the order and tracking store of a server over gRPC. It
// satisfies port.OrderRepository and port.TrackingRepository.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// Dial opens an insecure connection to target. The caller closes the
// returned connection.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.CallContentSubtype(codecName))
	return fromStatus(err)
}

func (c *GRPCClient) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	if err := c.invoke(ctx, "GetOrder", &GetOrderRequest{ID: id}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *GRPCClient) ListOrders(ctx context.Context, restaurantID string, limit int) ([]domain.Order, error) {
	var resp ListOrdersResponse
	if err := c.invoke(ctx, "ListOrders", &ListOrdersRequest{RestaurantID: restaurantID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *GRPCClient) SetOrderStatus(ctx context.Context, change domain.StatusChange) error {
	return c.invoke(ctx, "SetOrderStatus", &change, &Empty{})
}

func (c *GRPCClient) UpsertActiveTracking(ctx context.Context, record domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error) {
	var rec domain.DeliveryTrackingRecord
	if err := c.invoke(ctx, "UpsertActiveTracking", &record, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *GRPCClient) GetActiveTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error) {
	var rec domain.DeliveryTrackingRecord
	if err := c.invoke(ctx, "GetActiveTracking", &GetActiveTrackingRequest{OrderID: orderID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *GRPCClient) UpdateTrackingPosition(ctx context.Context, id string, pos domain.Position, at time.Time) error {
	return c.invoke(ctx, "UpdateTrackingPosition", &UpdatePositionRequest{ID: id, Position: pos, At: at}, &Empty{})
}

func (c *GRPCClient) CloseTracking(ctx context.Context, id string, at time.Time) error {
	return c.invoke(ctx, "CloseTracking", &CloseTrackingRequest{ID: id, At: at}, &Empty{})
}

// ReconcileTracking is not exposed to couriers.
func (c *GRPCClient) ReconcileTracking(ctx context.Context, at time.Time) (int, error) {
	return 0, ErrServerSide
}

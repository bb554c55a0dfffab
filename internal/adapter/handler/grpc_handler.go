package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

const ServiceName = "tracking.v1.TrackingStore"

type GetOrderRequest struct {
	ID string `json:"id"`
}

type ListOrdersRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Limit        int    `json:"limit"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type GetActiveTrackingRequest struct {
	OrderID string `json:"order_id"`
}

type UpdatePositionRequest struct {
	ID       string          `json:"id"`
	Position domain.Position `json:"position"`
	At       time.Time       `json:"at"`
}

type CloseTrackingRequest struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

type Empty struct{}

// TrackingStoreServer is the store surface exposed to courier agents.
type TrackingStoreServer interface {
	GetOrder(ctx context.Context, req *GetOrderRequest) (*domain.Order, error)
	ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error)
	SetOrderStatus(ctx context.Context, req *domain.StatusChange) (*Empty, error)
	UpsertActiveTracking(ctx context.Context, req *domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error)
	GetActiveTracking(ctx context.Context, req *GetActiveTrackingRequest) (*domain.DeliveryTrackingRecord, error)
	UpdateTrackingPosition(ctx context.Context, req *UpdatePositionRequest) (*Empty, error)
	CloseTracking(ctx context.Context, req *CloseTrackingRequest) (*Empty, error)
}

type GRPCHandler struct {
	orders   port.OrderRepository
	tracking port.TrackingRepository
	logger   zerolog.Logger
}

func NewGRPCHandler(orders port.OrderRepository, tracking port.TrackingRepository, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		orders:   orders,
		tracking: tracking,
		logger:   logger.With().Str("component", "grpc").Logger(),
	}
}

func RegisterTrackingStoreServer(s grpc.ServiceRegistrar, srv TrackingStoreServer) {
	s.RegisterService(&trackingStoreDesc, srv)
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*domain.Order, error) {
	order, err := h.orders.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return order, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := h.orders.ListOrders(ctx, req.RestaurantID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

func (h *GRPCHandler) SetOrderStatus(ctx context.Context, req *domain.StatusChange) (*Empty, error) {
	if err := h.orders.SetOrderStatus(ctx, *req); err != nil {
		return nil, toStatus(err)
	}
	h.logger.Info().
		Str("order_id", req.OrderID).
		Str("from", req.From.String()).
		Str("to", req.To.String()).
		Bool("close_tracking", req.CloseTracking).
		Msg("status change applied")
	return &Empty{}, nil
}

func (h *GRPCHandler) UpsertActiveTracking(ctx context.Context, req *domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error) {
	rec, err := h.tracking.UpsertActiveTracking(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return rec, nil
}

func (h *GRPCHandler) GetActiveTracking(ctx context.Context, req *GetActiveTrackingRequest) (*domain.DeliveryTrackingRecord, error) {
	rec, err := h.tracking.GetActiveTracking(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return rec, nil
}

func (h *GRPCHandler) UpdateTrackingPosition(ctx context.Context, req *UpdatePositionRequest) (*Empty, error) {
	if err := h.tracking.UpdateTrackingPosition(ctx, req.ID, req.Position, req.At); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) CloseTracking(ctx context.Context, req *CloseTrackingRequest) (*Empty, error) {
	if err := h.tracking.CloseTracking(ctx, req.ID, req.At); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// UnaryLogger logs every call with its code and duration.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := logger.Debug()
		if code := status.Code(err); code == codes.Internal || code == codes.Unknown {
			ev = logger.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("grpc call")
		return resp, err
	}
}

var trackingStoreDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackingStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetOrder", TrackingStoreServer.GetOrder),
		unary("ListOrders", TrackingStoreServer.ListOrders),
		unary("SetOrderStatus", TrackingStoreServer.SetOrderStatus),
		unary("UpsertActiveTracking", TrackingStoreServer.UpsertActiveTracking),
		unary("GetActiveTracking", TrackingStoreServer.GetActiveTracking),
		unary("UpdateTrackingPosition", TrackingStoreServer.UpdateTrackingPosition),
		unary("CloseTracking", TrackingStoreServer.CloseTracking),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tracking/v1/tracking_store.proto",
}

func unary[Req, Resp any](name string, call func(TrackingStoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TrackingStoreServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv.(TrackingStoreServer), ctx, r.(*Req))
			})
		},
	}
}

// statusCodes pairs each domain error with the code it travels under. The
// message keeps the error text so the client can tell apart errors that
// share a code.
var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{domain.ErrNotFound, codes.NotFound},
	{domain.ErrNoActiveTracking, codes.FailedPrecondition},
	{domain.ErrOrderClosed, codes.FailedPrecondition},
	{domain.ErrStatusConflict, codes.Aborted},
	{domain.ErrStatusAlreadySet, codes.AlreadyExists},
	{domain.ErrInvalidStatusTransition, codes.InvalidArgument},
	{domain.ErrInvalidTrackingStatus, codes.InvalidArgument},
	{domain.ErrOffline, codes.Unavailable},
}

func toStatus(err error) error {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, sc := range statusCodes {
		if st.Code() == sc.code && strings.Contains(st.Message(), sc.err.Error()) {
			return &remoteError{sentinel: sc.err, msg: st.Message()}
		}
	}
	switch st.Code() {
	case codes.Unavailable:
		return &remoteError{sentinel: domain.ErrOffline, msg: st.Message()}
	case codes.DeadlineExceeded:
		return &remoteError{sentinel: context.DeadlineExceeded, msg: st.Message()}
	case codes.Canceled:
		return &remoteError{sentinel: context.Canceled, msg: st.Message()}
	}
	return err
}

// remoteError is a domain error reported by the server.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

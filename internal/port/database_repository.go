package port

import (
	"context"
	"time"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

type OrderRepository interface {
	// GetOrder returns domain.ErrNotFound if the order does not exist
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns the most recent orders of a restaurant, newest first
	ListOrders(ctx context.Context, restaurantID string, limit int) ([]domain.Order, error)

	// SetOrderStatus applies the order and tracking sides of change atomically,
	// failing with domain.ErrStatusConflict if the order is no longer in change.From
	SetOrderStatus(ctx context.Context, change domain.StatusChange) error
}

type TrackingRepository interface {
	// UpsertActiveTracking creates the active record of an order or updates the existing one.
	// New records always get a store assigned id.
	UpsertActiveTracking(ctx context.Context, record domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error)

	// GetActiveTracking returns domain.ErrNotFound if the order has no active record
	GetActiveTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error)

	// UpdateTrackingPosition returns domain.ErrNoActiveTracking if the record is closed or missing
	UpdateTrackingPosition(ctx context.Context, id string, pos domain.Position, at time.Time) error

	// CloseTracking marks the record inactive and delivered, closing twice is not an error
	CloseTracking(ctx context.Context, id string, at time.Time) error

	// ReconcileTracking closes active records whose order already reached a terminal status
	ReconcileTracking(ctx context.Context, at time.Time) (int, error)
}

type CatalogRepository interface {
	// ListBanners returns the banners of a restaurant ordered by position
	ListBanners(ctx context.Context, restaurantID string) ([]domain.Banner, error)

	CreateBanner(ctx context.Context, banner domain.Banner) error

	// UpdateBanner returns domain.ErrNotFound if no banner matched
	UpdateBanner(ctx context.Context, banner domain.Banner) error

	// DeleteBanner returns domain.ErrNotFound if no banner matched
	DeleteBanner(ctx context.Context, restaurantID, id string) error

	// GetRestaurant returns domain.ErrNotFound if the restaurant does not exist
	GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error)

	// GetDashboardStatistics returns domain.ErrNotFound if nothing was aggregated yet
	GetDashboardStatistics(ctx context.Context, restaurantID string) (*domain.DashboardStatistics, error)
}

type Store interface {
	OrderRepository
	TrackingRepository
	CatalogRepository
}

package domain

import "time"

const (
	TableOrders              = "orders"
	TableDeliveryTracking    = "delivery_tracking"
	TableBanners             = "banners"
	TableDashboardStatistics = "dashboard_statistics"
	TableRestaurants         = "restaurants"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent says that a row changed. Keys carries the scope columns of the
// row (id, order_id, restaurant_id); consumers re-fetch instead of trusting a
// payload.
type ChangeEvent struct {
	Table      string            `json:"table"`
	Type       ChangeType        `json:"type"`
	Keys       map[string]string `json:"keys"`
	CommitTime time.Time         `json:"commit_time"`
}

func (e ChangeEvent) Key(column string) string {
	return e.Keys[column]
}

package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

// Order amounts are in cents.
type Order struct {
	ID                    string         `json:"id" db:"id"`
	Number                int64          `json:"number" db:"number"`
	RestaurantID          string         `json:"restaurant_id" db:"restaurant_id"`
	CustomerID            string         `json:"customer_id" db:"customer_id"`
	Status                OrderStatus    `json:"status" db:"status"`
	Subtotal              int64          `json:"subtotal" db:"subtotal"`
	DeliveryFee           int64          `json:"delivery_fee" db:"delivery_fee"`
	Discount              int64          `json:"discount" db:"discount"`
	Total                 int64          `json:"total" db:"total"`
	DeliveryMethod        DeliveryMethod `json:"delivery_method" db:"delivery_method"`
	DeliveryAddress       string         `json:"delivery_address" db:"delivery_address"`
	EstimatedDeliveryTime *time.Time     `json:"estimated_delivery_time,omitempty" db:"estimated_delivery_time"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// StatusChange moves an order from one status to another and optionally
// carries the matching change for its tracking record. Stores apply it as a
// single operation.
type StatusChange struct {
	OrderID        string      `json:"order_id"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	TrackingID     string      `json:"tracking_id,omitempty"`
	TrackingStatus OrderStatus `json:"tracking_status,omitempty"`
	CloseTracking  bool        `json:"close_tracking,omitempty"`
	At             time.Time   `json:"at"`
}

// UpdatesOrder is false when only the tracking side changes.
func (c StatusChange) UpdatesOrder() bool {
	return c.From != c.To
}

package domain

import "time"

type Restaurant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	Phone     string    `json:"phone" db:"phone"`
	Address   string    `json:"address" db:"address"`
	IsOpen    bool      `json:"is_open" db:"is_open"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Banner struct {
	ID           string    `json:"id" db:"id"`
	RestaurantID string    `json:"restaurant_id" db:"restaurant_id"`
	Title        string    `json:"title" db:"title" validate:"required,max=120"`
	ImageURL     string    `json:"image_url" db:"image_url" validate:"required,url"`
	LinkURL      string    `json:"link_url" db:"link_url" validate:"omitempty,url"`
	Position     int       `json:"position" db:"position" validate:"gte=0"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DashboardStatistics is maintained by the store; the core only reads it.
type DashboardStatistics struct {
	RestaurantID  string    `json:"restaurant_id" db:"restaurant_id"`
	TotalOrders   int64     `json:"total_orders" db:"total_orders"`
	PendingOrders int64     `json:"pending_orders" db:"pending_orders"`
	TotalRevenue  int64     `json:"total_revenue" db:"total_revenue"`
	AverageTicket int64     `json:"average_ticket" db:"average_ticket"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

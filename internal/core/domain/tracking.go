package domain

import "time"

type DeliveryTrackingRecord struct {
	ID                 string      `json:"id" db:"id"`
	OrderID            string      `json:"order_id" db:"order_id"`
	DeliveryPersonID   string      `json:"delivery_person_id" db:"delivery_person_id"`
	DeliveryPersonName string      `json:"delivery_person_name" db:"delivery_person_name"`
	CurrentLatitude    float64     `json:"current_latitude" db:"current_latitude"`
	CurrentLongitude   float64     `json:"current_longitude" db:"current_longitude"`
	Status             OrderStatus `json:"status" db:"status"`
	IsActive           bool        `json:"is_active" db:"is_active"`
	LastUpdated        time.Time   `json:"last_updated" db:"last_updated"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
}

type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type PositionRequest struct {
	HighAccuracy bool
	MaximumAge   time.Duration
}

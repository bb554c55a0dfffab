package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrNoActiveTracking        = errors.New("no active tracking record")
	ErrPositionUnavailable     = errors.New("position unavailable")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrOffline                 = errors.New("offline")
	ErrStatusConflict          = errors.New("order status changed concurrently")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrStatusAlreadySet        = errors.New("status is already set to the desired value")
	ErrInvalidTrackingStatus   = errors.New("status not allowed on a tracking record")
	ErrOrderClosed             = errors.New("order is already closed")
)

package domain

import "fmt"

// statusRank orders the forward lifecycle. Cancelled sits outside it.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusConfirmed:      1,
	OrderStatusPreparing:      2,
	OrderStatusReady:          3,
	OrderStatusOutForDelivery: 4,
	OrderStatusDelivered:      5,
}

var progressSteps = map[OrderStatus]int{
	OrderStatusPending:        1,
	OrderStatusConfirmed:      2,
	OrderStatusPreparing:      2,
	OrderStatusReady:          2,
	OrderStatusOutForDelivery: 3,
	OrderStatusDelivered:      4,
}

var statusLabels = map[string]map[OrderStatus]string{
	"en": {
		OrderStatusPending:        "Order received",
		OrderStatusConfirmed:      "Order confirmed",
		OrderStatusPreparing:      "Preparing your order",
		OrderStatusReady:          "Ready for pickup",
		OrderStatusOutForDelivery: "Out for delivery",
		OrderStatusDelivered:      "Delivered",
		OrderStatusCancelled:      "Cancelled",
	},
	"es": {
		OrderStatusPending:        "Pedido recibido",
		OrderStatusConfirmed:      "Pedido confirmado",
		OrderStatusPreparing:      "Preparando tu pedido",
		OrderStatusReady:          "Listo para recoger",
		OrderStatusOutForDelivery: "En camino",
		OrderStatusDelivered:      "Entregado",
		OrderStatusCancelled:      "Cancelado",
	},
}

// CanTransition reports whether an order may move from one status to another.
// Moves go forward along the lifecycle, possibly skipping steps, and any
// non-terminal order may be cancelled.
func CanTransition(from, to OrderStatus) bool {
	if from == to || from.Terminal() || !from.Valid() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

func ValidateTransition(from, to OrderStatus) error {
	if from == to {
		return ErrStatusAlreadySet
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// ProgressStep maps a status onto the four-step progress bar. Cancelled
// orders have no step.
func ProgressStep(s OrderStatus) (int, bool) {
	step, ok := progressSteps[s]
	return step, ok
}

func StatusText(s OrderStatus) string {
	return StatusTextIn("en", s)
}

// StatusTextIn falls back to English for unknown languages and to the raw
// value for unknown statuses.
func StatusTextIn(lang string, s OrderStatus) string {
	labels, ok := statusLabels[lang]
	if !ok {
		labels = statusLabels["en"]
	}
	if label, ok := labels[s]; ok {
		return label
	}
	return string(s)
}

// IsTrackingStatus reports whether a tracking record may carry the status.
func IsTrackingStatus(s OrderStatus) bool {
	return s == OrderStatusOutForDelivery || s == OrderStatusDelivered
}

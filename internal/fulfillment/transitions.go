// Package fulfillment holds the per-channel order status state machine.
// Both store implementations consult it inside their transactions so the
// transition rules live in exactly one place.
package fulfillment

import (
	"sales-service/internal/models"
)

// pickupFlow and shippingFlow are the valid-transition tables keyed by the
// current status. The branch after preparing depends on the delivery type:
// pickup orders pass through ready_pickup/picked_up, delivery and express
// orders through packed/shipped/delivered.
var pickupFlow = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:     {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed:   {models.OrderPreparing, models.OrderCancelled},
	models.OrderPreparing:   {models.OrderReadyPickup, models.OrderCancelled},
	models.OrderReadyPickup: {models.OrderPickedUp, models.OrderCancelled},
	models.OrderPickedUp:    {models.OrderRefunded},
}

var shippingFlow = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:   {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed: {models.OrderPreparing, models.OrderCancelled},
	models.OrderPreparing: {models.OrderPacked, models.OrderCancelled},
	models.OrderPacked:    {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:   {models.OrderDelivered, models.OrderCancelled},
	models.OrderDelivered: {models.OrderRefunded},
}

// NextStatuses returns the statuses reachable from current for the given
// delivery type. The returned slice is shared; callers must not mutate it.
func NextStatuses(current models.OrderStatus, dt models.DeliveryType) []models.OrderStatus {
	if dt == models.DeliveryPickup {
		return pickupFlow[current]
	}
	return shippingFlow[current]
}

// CanTransition reports whether current -> next is allowed for the channel.
func CanTransition(current, next models.OrderStatus, dt models.DeliveryType) bool {
	for _, s := range NextStatuses(current, dt) {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transitions leave the status.
func IsTerminal(status models.OrderStatus) bool {
	return status == models.OrderCancelled || status == models.OrderRefunded
}

// StatusChange describes the side effects a validated transition carries.
// Stores apply it inside the same transaction as the status write.
type StatusChange struct {
	Next models.OrderStatus

	// SetDelivered marks the order delivered/picked up: delivery date is
	// stamped and payment status flips to paid.
	SetDelivered bool
	// NeedCompletionMovement requests a store_sale_completed ledger entry
	// if none exists for the order yet (idempotency guard is the store's).
	NeedCompletionMovement bool
	// ReleaseStock restores the reserved quantities (cancellation only).
	ReleaseStock bool
	// TrackingNumber to record (shipped only).
	TrackingNumber string
	// CustomerNote is appended to the order's note log when non-empty.
	CustomerNote string
}

// PlanTransition validates current -> next for the order's channel and
// returns the side effects to apply. trackingNumber is required when the
// target status is shipped.
func PlanTransition(o *models.Order, next models.OrderStatus, trackingNumber string) (StatusChange, error) {
	if !CanTransition(o.Status, next, o.DeliveryType) {
		return StatusChange{}, &TransitionError{From: o.Status, To: next, DeliveryType: o.DeliveryType}
	}

	change := StatusChange{Next: next}
	switch next {
	case models.OrderDelivered, models.OrderPickedUp:
		change.SetDelivered = true
		change.NeedCompletionMovement = true
	case models.OrderShipped:
		if trackingNumber == "" {
			return StatusChange{}, ErrTrackingRequired
		}
		change.TrackingNumber = trackingNumber
	case models.OrderReadyPickup:
		change.CustomerNote = "order is ready for pickup"
	case models.OrderCancelled:
		change.ReleaseStock = true
	}
	return change, nil
}

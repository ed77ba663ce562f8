package fulfillment

import (
	"errors"
	"fmt"

	"sales-service/internal/models"
)

// ErrTrackingRequired is returned when an order is moved to shipped without
// a tracking number.
var ErrTrackingRequired = errors.New("tracking number required for shipped status")

// TransitionError reports a status change not present in the transition
// table for the order's delivery type.
type TransitionError struct {
	From         models.OrderStatus
	To           models.OrderStatus
	DeliveryType models.DeliveryType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s orders", e.From, e.To, e.DeliveryType)
}

package fulfillment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-service/internal/models"
)

func TestCanTransitionPickupFlow(t *testing.T) {
	steps := []struct {
		from, to models.OrderStatus
	}{
		{models.OrderPending, models.OrderConfirmed},
		{models.OrderConfirmed, models.OrderPreparing},
		{models.OrderPreparing, models.OrderReadyPickup},
		{models.OrderReadyPickup, models.OrderPickedUp},
		{models.OrderPickedUp, models.OrderRefunded},
	}
	for _, s := range steps {
		assert.True(t, CanTransition(s.from, s.to, models.DeliveryPickup),
			"%s -> %s should be valid for pickup", s.from, s.to)
	}

	// Shipping statuses are unreachable on the pickup branch.
	assert.False(t, CanTransition(models.OrderPreparing, models.OrderPacked, models.DeliveryPickup))
	assert.False(t, CanTransition(models.OrderReadyPickup, models.OrderShipped, models.DeliveryPickup))
}

func TestCanTransitionShippingFlow(t *testing.T) {
	for _, dt := range []models.DeliveryType{models.DeliveryHome, models.DeliveryExpress} {
		steps := []struct {
			from, to models.OrderStatus
		}{
			{models.OrderPending, models.OrderConfirmed},
			{models.OrderConfirmed, models.OrderPreparing},
			{models.OrderPreparing, models.OrderPacked},
			{models.OrderPacked, models.OrderShipped},
			{models.OrderShipped, models.OrderDelivered},
			{models.OrderDelivered, models.OrderRefunded},
		}
		for _, s := range steps {
			assert.True(t, CanTransition(s.from, s.to, dt),
				"%s -> %s should be valid for %s", s.from, s.to, dt)
		}

		assert.False(t, CanTransition(models.OrderPending, models.OrderPacked, dt))
		assert.False(t, CanTransition(models.OrderPreparing, models.OrderReadyPickup, dt))
	}
}

func TestCancellableFromNonTerminalStates(t *testing.T) {
	for _, from := range []models.OrderStatus{
		models.OrderPending, models.OrderConfirmed, models.OrderPreparing,
		models.OrderPacked, models.OrderShipped,
	} {
		assert.True(t, CanTransition(from, models.OrderCancelled, models.DeliveryHome),
			"%s should be cancellable", from)
	}

	// Completed orders can only be refunded, not cancelled.
	assert.False(t, CanTransition(models.OrderDelivered, models.OrderCancelled, models.DeliveryHome))
	assert.False(t, CanTransition(models.OrderPickedUp, models.OrderCancelled, models.DeliveryPickup))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(models.OrderCancelled))
	assert.True(t, IsTerminal(models.OrderRefunded))
	assert.False(t, IsTerminal(models.OrderDelivered))

	assert.Empty(t, NextStatuses(models.OrderCancelled, models.DeliveryHome))
	assert.Empty(t, NextStatuses(models.OrderRefunded, models.DeliveryPickup))
}

func TestPlanTransitionSideEffects(t *testing.T) {
	shipped := &models.Order{Status: models.OrderPacked, DeliveryType: models.DeliveryHome}
	change, err := PlanTransition(shipped, models.OrderShipped, "TRACK-123")
	require.NoError(t, err)
	assert.Equal(t, "TRACK-123", change.TrackingNumber)
	assert.False(t, change.SetDelivered)

	delivered := &models.Order{Status: models.OrderShipped, DeliveryType: models.DeliveryExpress}
	change, err = PlanTransition(delivered, models.OrderDelivered, "")
	require.NoError(t, err)
	assert.True(t, change.SetDelivered)
	assert.True(t, change.NeedCompletionMovement)

	ready := &models.Order{Status: models.OrderPreparing, DeliveryType: models.DeliveryPickup}
	change, err = PlanTransition(ready, models.OrderReadyPickup, "")
	require.NoError(t, err)
	assert.NotEmpty(t, change.CustomerNote)

	cancelled := &models.Order{Status: models.OrderConfirmed, DeliveryType: models.DeliveryHome}
	change, err = PlanTransition(cancelled, models.OrderCancelled, "")
	require.NoError(t, err)
	assert.True(t, change.ReleaseStock)
}

func TestPlanTransitionShippedRequiresTracking(t *testing.T) {
	order := &models.Order{Status: models.OrderPacked, DeliveryType: models.DeliveryHome}
	_, err := PlanTransition(order, models.OrderShipped, "")
	assert.ErrorIs(t, err, ErrTrackingRequired)
}

func TestPlanTransitionRejectsInvalid(t *testing.T) {
	order := &models.Order{Status: models.OrderPending, DeliveryType: models.DeliveryHome}
	_, err := PlanTransition(order, models.OrderPacked, "")

	var transitionErr *TransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, models.OrderPending, transitionErr.From)
	assert.Equal(t, models.OrderPacked, transitionErr.To)
}

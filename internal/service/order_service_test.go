package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-service/internal/authz"
	"sales-service/internal/fulfillment"
	"sales-service/internal/models"
	"sales-service/internal/store"
	"sales-service/internal/store/memory"
)

func newOrderService(st *memory.Store) *OrderService {
	return NewOrderService(st, nil, nil, 10)
}

func pickupRequest(productID int64, qty int) CreateOrderRequest {
	pickup := time.Now().Add(48 * time.Hour)
	return CreateOrderRequest{
		DeliveryType:  models.DeliveryPickup,
		PaymentMethod: models.PaymentCash,
		Lines:         []Line{{ProductID: productID, Quantity: qty}},
		PickupDate:    &pickup,
	}
}

func deliveryRequest(productID int64, qty int) CreateOrderRequest {
	return CreateOrderRequest{
		DeliveryType:  models.DeliveryHome,
		PaymentMethod: models.PaymentTransfer,
		Lines:         []Line{{ProductID: productID, Quantity: qty}},
		Voucher:       "VOUCHER-1234",
		ShippingAddress: &models.ShippingAddress{
			Street: "Av. Reforma 123", City: "CDMX",
		},
	}
}

func TestCreatePickupOrder(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-01", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), pickupRequest(p.ID, 2))
	require.NoError(t, err)

	assert.Equal(t, models.OrderPending, order.Status)
	assert.True(t, order.RequiresConfirmation)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)
	assert.True(t, d("44.80").Equal(order.TotalAmount), "total = %s", order.TotalAmount)

	updated, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 8, updated.StockQuantity)

	// Cash orders get no movement until completion.
	_, err = st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateTransferOrderPendingMovement(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-02", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)

	movement, err := st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStoreTransferPending, movement.Category)
	assert.True(t, order.TotalAmount.Equal(movement.Amount))
}

func TestCreateOrderChannelValidation(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-03", "20.00", 10)
	svc := newOrderService(st)

	noPickupDate := pickupRequest(p.ID, 1)
	noPickupDate.PickupDate = nil
	_, err := svc.CreateOrder(staffCtx(), noPickupDate)
	assert.ErrorIs(t, err, store.ErrValidation)

	noAddress := deliveryRequest(p.ID, 1)
	noAddress.ShippingAddress = nil
	_, err = svc.CreateOrder(staffCtx(), noAddress)
	assert.ErrorIs(t, err, store.ErrValidation)

	badChannel := pickupRequest(p.ID, 1)
	badChannel.DeliveryType = "drone"
	_, err = svc.CreateOrder(staffCtx(), badChannel)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateOrderIdempotency(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-04", "20.00", 10)
	svc := newOrderService(st)

	req := pickupRequest(p.ID, 1)
	req.IdempotencyKey = "client-key-1"

	first, err := svc.CreateOrder(staffCtx(), req)
	require.NoError(t, err)
	second, err := svc.CreateOrder(staffCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)

	// Stock reserved exactly once.
	updated, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 9, updated.StockQuantity)
}

func TestPickupOrderLifecycle(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-05", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), pickupRequest(p.ID, 1))
	require.NoError(t, err)

	estimated := time.Now().Add(72 * time.Hour)
	order, err = svc.ConfirmOrder(staffCtx(), order.ID, estimated, "stock verified")
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, order.Status)
	assert.False(t, order.RequiresConfirmation)
	require.NotNil(t, order.EstimatedPickupDate)
	assert.Nil(t, order.EstimatedDeliveryDate)

	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderPreparing, "", "")
	require.NoError(t, err)
	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderReadyPickup, "", "")
	require.NoError(t, err)
	assert.Contains(t, order.Notes.String(), "ready for pickup")

	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderPickedUp, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.DeliveryDate)

	// Completion movement appended exactly once.
	movement, err := st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStoreSaleCompleted, movement.Category)
	movements, _ := st.ListMovements(context.Background(), 10)
	assert.Len(t, movements, 1)
}

func TestDeliveryOrderRequiresTracking(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-06", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)

	_, err = svc.ConfirmOrder(staffCtx(), order.ID, time.Now().Add(24*time.Hour), "")
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderPreparing, "", "")
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderPacked, "", "")
	require.NoError(t, err)

	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderShipped, "", "")
	assert.ErrorIs(t, err, fulfillment.ErrTrackingRequired)

	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderShipped, "TRACK-42", "")
	require.NoError(t, err)
	assert.Equal(t, "TRACK-42", order.TrackingNumber)
}

func TestInvalidTransitionRejected(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-07", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)

	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderPacked, "", "")
	var transitionErr *fulfillment.TransitionError
	assert.ErrorAs(t, err, &transitionErr)

	// Order untouched.
	unchanged, _ := svc.GetOrder(staffCtx(), order.ID)
	assert.Equal(t, models.OrderPending, unchanged.Status)
}

func TestCancelOrderReleasesStock(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-08", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), pickupRequest(p.ID, 4))
	require.NoError(t, err)

	reserved, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 6, reserved.StockQuantity)

	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderCancelled, "", "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, order.Status)
	assert.Contains(t, order.Notes.String(), "customer changed mind")

	released, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 10, released.StockQuantity)

	// Terminal: nothing leaves cancelled.
	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderConfirmed, "", "")
	assert.Error(t, err)
}

func TestCancelTransferOrderKeepsPendingMovement(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-11", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 3))
	require.NoError(t, err)

	order, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderCancelled, "", "payment never arrived")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, order.Status)

	released, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 10, released.StockQuantity)

	// The pending movement stays as-is so reporting can flag it.
	movement, err := st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStoreTransferPending, movement.Category)

	// A cancelled order cannot book revenue.
	_, err = svc.ConfirmTransfer(adminCtx(), order.ID, "late deposit")
	assert.ErrorIs(t, err, store.ErrOrderClosed)

	after, err := svc.GetOrder(adminCtx(), order.ID)
	require.NoError(t, err)
	assert.False(t, after.TransferConfirmed)
	assert.Equal(t, models.PaymentStatusPending, after.PaymentStatus)

	movement, err = st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStoreTransferPending, movement.Category)

	confirmations, _ := st.ListTransferConfirmations(context.Background(), 10)
	assert.Empty(t, confirmations)
}

func TestConfirmOrderTransfer(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-09", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)

	confirmed, err := svc.ConfirmTransfer(adminCtx(), order.ID, "bank deposit matched")
	require.NoError(t, err)

	assert.True(t, confirmed.TransferConfirmed)
	assert.Equal(t, models.PaymentStatusPaid, confirmed.PaymentStatus)
	assert.Equal(t, models.OrderConfirmed, confirmed.Status)

	movement, err := st.GetMovementByRef(context.Background(), models.OrderRef(order.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStoreTransferConfirmed, movement.Category)
	assert.True(t, order.TotalAmount.Equal(movement.Amount))

	// Second attempt conflicts; still exactly one audit row.
	_, err = svc.ConfirmTransfer(adminCtx(), order.ID, "")
	assert.ErrorIs(t, err, store.ErrTransferAlreadyConfirmed)
	confirmations, _ := st.ListTransferConfirmations(context.Background(), 10)
	assert.Len(t, confirmations, 1)
}

func TestOrderTransferConfirmRequiresAdmin(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-10", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)

	_, err = svc.ConfirmTransfer(staffCtx(), order.ID, "")
	assert.ErrorIs(t, err, authz.ErrPermission)
}

func TestCompletedTransferOrderSkipsSecondMovement(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-11", "20.00", 10)
	svc := newOrderService(st)

	order, err := svc.CreateOrder(staffCtx(), deliveryRequest(p.ID, 1))
	require.NoError(t, err)
	_, err = svc.ConfirmTransfer(adminCtx(), order.ID, "")
	require.NoError(t, err)

	for _, next := range []models.OrderStatus{models.OrderPreparing, models.OrderPacked} {
		_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, next, "", "")
		require.NoError(t, err)
	}
	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderShipped, "TRACK-7", "")
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(staffCtx(), order.ID, models.OrderDelivered, "", "")
	require.NoError(t, err)

	// The confirmed transfer movement is the only ledger entry.
	movements, _ := st.ListMovements(context.Background(), 10)
	require.Len(t, movements, 1)
	assert.Equal(t, models.CategoryStoreTransferConfirmed, movements[0].Category)
}

func TestListOrdersByStatus(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "GEAR-12", "20.00", 100)
	svc := newOrderService(st)

	for i := 0; i < 3; i++ {
		req := pickupRequest(p.ID, 1)
		_, err := svc.CreateOrder(staffCtx(), req)
		require.NoError(t, err)
	}
	first, err := svc.ListOrders(staffCtx(), models.OrderPending, 10)
	require.NoError(t, err)
	require.Len(t, first, 3)

	_, err = svc.ConfirmOrder(staffCtx(), first[0].ID, time.Now().Add(24*time.Hour), "")
	require.NoError(t, err)

	pending, err := svc.ListOrders(staffCtx(), models.OrderPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	confirmed, err := svc.ListOrders(staffCtx(), models.OrderConfirmed, 10)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

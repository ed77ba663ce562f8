package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sales-service/internal/authz"
	"sales-service/internal/broker"
	"sales-service/internal/models"
	"sales-service/internal/redisclient"
	"sales-service/internal/store"
	"sales-service/internal/util"
)

// OrderService implements the online order operations.
type OrderService struct {
	store            store.Store
	cache            *redisclient.Client
	events           *broker.EventPublisher
	voucherMinLength int
	logger           *zap.Logger
}

// NewOrderService creates an order service. cache and events may be nil.
func NewOrderService(st store.Store, cache *redisclient.Client, events *broker.EventPublisher, voucherMinLength int) *OrderService {
	return &OrderService{
		store:            st,
		cache:            cache,
		events:           events,
		voucherMinLength: voucherMinLength,
		logger:           util.GetLogger(),
	}
}

// CreateOrderRequest is the input for a new online order.
type CreateOrderRequest struct {
	IdempotencyKey  string                  `json:"idempotency_key"`
	UserID          *int64                  `json:"user_id"`
	DeliveryType    models.DeliveryType     `json:"delivery_type" binding:"required"`
	PaymentMethod   models.PaymentMethod    `json:"payment_method" binding:"required"`
	Lines           []Line                  `json:"lines" binding:"required"`
	DiscountAmount  decimal.Decimal         `json:"discount_amount"`
	Voucher         string                  `json:"transfer_voucher"`
	BankReference   string                  `json:"bank_reference"`
	ShippingAddress *models.ShippingAddress `json:"shipping_address"`
	PickupDate      *time.Time              `json:"pickup_date"`
	PickupTimeSlot  string                  `json:"pickup_time_slot"`
	Customer        models.CustomerInfo     `json:"customer"`
	Note            string                  `json:"note"`
}

// CreateOrder validates the cart and channel requirements, then commits the
// order, its stock reservation, and (for transfer payments) the pending
// movement atomically. A repeated idempotency key returns the original order.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.create")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapCreateOrder)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return existing, nil
		}
	}

	if err := s.validateOrderRequest(&req); err != nil {
		return nil, err
	}

	products, err := s.store.GetProductsByIDs(ctx, lineProductIDs(req.Lines))
	if err != nil {
		return nil, err
	}
	items, subtotal, err := priceLines(req.Lines, products)
	if err != nil {
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			util.StockConflictsTotal.Inc()
		}
		return nil, err
	}

	totals := models.ComputeTotals(subtotal, req.DiscountAmount)
	if totals.Total.IsNegative() {
		return nil, fmt.Errorf("discount exceeds order total: %w", store.ErrValidation)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	order := &models.Order{
		OrderNumber:          orderNumber(),
		UserID:               req.UserID,
		IdempotencyKey:       key,
		DeliveryType:         req.DeliveryType,
		Status:               models.OrderPending,
		Subtotal:             totals.Subtotal,
		DiscountAmount:       req.DiscountAmount,
		TaxAmount:            totals.Tax,
		TotalAmount:          totals.Total,
		PaymentMethod:        req.PaymentMethod,
		PaymentStatus:        models.PaymentStatusPending,
		ShippingAddress:      req.ShippingAddress,
		PickupDate:           req.PickupDate,
		PickupTimeSlot:       req.PickupTimeSlot,
		RequiresConfirmation: true,
		CustomerName:         req.Customer.Name,
		CustomerPhone:        req.Customer.Phone,
		CustomerEmail:        req.Customer.Email,
	}
	order.Notes = order.Notes.Append(fmt.Sprintf("employee:%d", actor.EmployeeID), req.Note)
	order.Items = make([]models.OrderItem, len(items))
	for i, it := range items {
		order.Items[i] = it.toOrderItem()
	}

	var movement *models.FinancialMovement
	if req.PaymentMethod.IsTransfer() {
		order.TransferVoucher = req.Voucher
		order.BankReference = req.BankReference
		order.TransferAmount = totals.Total
		movement = models.PendingOrderMovement(order, actor.EmployeeID)
	}

	if err := s.store.CreateOrder(ctx, order, movement); err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) {
			// Lost the race with another request carrying the same key.
			if existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			util.StockConflictsTotal.Inc()
		}
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.DeliveryType)).Inc()
	s.logger.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("delivery_type", string(order.DeliveryType)),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	s.cache.CacheOrder(ctx, order)
	if err := s.events.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Warn("failed to publish order created event",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
	return order, nil
}

func (s *OrderService) validateOrderRequest(req *CreateOrderRequest) error {
	if err := validateLines(req.Lines); err != nil {
		return err
	}
	if req.DiscountAmount.IsNegative() {
		return fmt.Errorf("discount amount cannot be negative: %w", store.ErrValidation)
	}
	if !models.ValidDeliveryType(req.DeliveryType) {
		return fmt.Errorf("unknown delivery type %q: %w", req.DeliveryType, store.ErrValidation)
	}
	switch req.PaymentMethod {
	case models.PaymentCash, models.PaymentTransfer, models.PaymentTransferOnDelivery:
	default:
		return fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, store.ErrValidation)
	}

	switch req.DeliveryType {
	case models.DeliveryPickup:
		if req.PickupDate == nil {
			return fmt.Errorf("pickup orders require a pickup date: %w", store.ErrValidation)
		}
	default:
		if req.ShippingAddress == nil || req.ShippingAddress.Street == "" || req.ShippingAddress.City == "" {
			return fmt.Errorf("delivery orders require a shipping address with street and city: %w", store.ErrValidation)
		}
	}

	// Upfront transfers carry their voucher at creation; transfer on
	// delivery provides it when payment happens.
	if req.PaymentMethod == models.PaymentTransfer && len(req.Voucher) < s.voucherMinLength {
		return fmt.Errorf("transfer voucher must be at least %d characters: %w",
			s.voucherMinLength, store.ErrValidation)
	}
	return nil
}

// ConfirmOrder accepts a pending order: records the reviewer and the
// estimated pickup or delivery date for its channel.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID int64, estimatedDate time.Time, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.confirm")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapAdvanceStatus)
	if err != nil {
		return nil, err
	}
	if estimatedDate.IsZero() {
		return nil, fmt.Errorf("estimated date is required: %w", store.ErrValidation)
	}

	order, err := s.store.ConfirmOrder(ctx, orderID, actor.EmployeeID, estimatedDate, note)
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(order.Status)).Inc()
	s.logger.Info("order confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("confirmed_by", actor.EmployeeID))

	s.cache.InvalidateOrder(ctx, orderID)
	if err := s.events.PublishOrderStatusChanged(ctx, order, models.OrderPending); err != nil {
		s.logger.Warn("failed to publish order status event",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
	return order, nil
}

// UpdateOrderStatus advances the order along its channel's state machine.
// Cancellation is gated by its own capability.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.update_status")
	defer span.End()

	capability := authz.CapAdvanceStatus
	if next == models.OrderCancelled {
		capability = authz.CapCancelOrder
	}
	actor, err := authz.Require(ctx, capability)
	if err != nil {
		return nil, err
	}

	previous, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	order, err := s.store.UpdateOrderStatus(ctx, orderID, next, trackingNumber, actor.EmployeeID, note)
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(order.Status)).Inc()
	s.logger.Info("order status updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(previous.Status)),
		zap.String("to", string(order.Status)))

	s.cache.InvalidateOrder(ctx, orderID)
	if err := s.events.PublishOrderStatusChanged(ctx, order, previous.Status); err != nil {
		s.logger.Warn("failed to publish order status event",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
	return order, nil
}

// ConfirmTransfer marks a transfer-paid order's payment as received. Admin
// only.
func (s *OrderService) ConfirmTransfer(ctx context.Context, orderID int64, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.confirm_transfer")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapConfirmTransfer)
	if err != nil {
		return nil, err
	}

	order, err := s.store.ConfirmOrderTransfer(ctx, orderID, actor.EmployeeID, note)
	if err != nil {
		return nil, err
	}

	util.TransfersConfirmedTotal.WithLabelValues(string(models.RefStoreOrder)).Inc()
	s.logger.Info("order transfer confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("confirmed_by", actor.EmployeeID))

	s.cache.InvalidateOrder(ctx, orderID)
	confirmation := &models.TransferConfirmation{
		ReferenceType: models.RefStoreOrder,
		ReferenceID:   order.ID,
		Amount:        order.TransferAmount,
		ConfirmedBy:   actor.EmployeeID,
	}
	if err := s.events.PublishTransferConfirmed(ctx, confirmation); err != nil {
		s.logger.Warn("failed to publish transfer confirmed event",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
	return order, nil
}

// GetOrder returns an order by ID, from cache when possible.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.get")
	defer span.End()

	if order := s.cache.GetCachedOrder(ctx, id); order != nil {
		return order, nil
	}
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.CacheOrder(ctx, order)
	return order, nil
}

// ListOrders returns recent orders, optionally filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "order.list")
	defer span.End()
	return s.store.ListOrders(ctx, status, limit)
}

// ListMovements returns recent financial movements.
func (s *OrderService) ListMovements(ctx context.Context, limit int) ([]models.FinancialMovement, error) {
	ctx, span := util.StartSpan(ctx, "movements.list")
	defer span.End()
	return s.store.ListMovements(ctx, limit)
}

// ListTransferConfirmations returns recent confirmation audit rows.
func (s *OrderService) ListTransferConfirmations(ctx context.Context, limit int) ([]models.TransferConfirmation, error) {
	ctx, span := util.StartSpan(ctx, "confirmations.list")
	defer span.End()
	return s.store.ListTransferConfirmations(ctx, limit)
}

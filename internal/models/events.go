package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published to the notification channel
const (
	EventTypeSaleCreated        = "SALE_CREATED"
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeTransferConfirmed  = "TRANSFER_CONFIRMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCreatedEvent published when an in-store sale commits
type SaleCreatedEvent struct {
	BaseEvent
	SaleID        int64           `json:"sale_id"`
	SaleNumber    string          `json:"sale_number"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        SaleStatus      `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// OrderCreatedEvent published when an online order commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	DeliveryType DeliveryType    `json:"delivery_type"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// OrderStatusChangedEvent published on every status transition; the
// notification worker turns ready_pickup and shipped into customer messages.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
}

// TransferConfirmedEvent published when a transfer payment is confirmed
// on either aggregate.
type TransferConfirmedEvent struct {
	BaseEvent
	ReferenceType ReferenceType   `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	Amount        decimal.Decimal `json:"amount"`
	ConfirmedBy   int64           `json:"confirmed_by"`
}

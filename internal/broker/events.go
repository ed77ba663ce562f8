package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sales-service/internal/models"
	"sales-service/internal/util"
)

// EventPublisher wraps the producer with typed constructors for the
// fulfillment events. A nil EventPublisher discards everything, so callers
// can run without a broker configured.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher wraps a producer. Pass nil to disable publishing.
func NewEventPublisher(producer *Producer) *EventPublisher {
	if producer == nil {
		return nil
	}
	return &EventPublisher{producer: producer}
}

func (e *EventPublisher) publish(ctx context.Context, key string, event interface{}) error {
	if e == nil {
		return nil
	}
	return e.producer.PublishEvent(ctx, key, event)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishSaleCreated emits a SALE_CREATED event keyed by the sale number.
func (e *EventPublisher) PublishSaleCreated(ctx context.Context, sale *models.Sale) error {
	return e.publish(ctx, sale.SaleNumber, models.SaleCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeSaleCreated),
		SaleID:        sale.ID,
		SaleNumber:    sale.SaleNumber,
		PaymentMethod: sale.PaymentMethod,
		Status:        sale.Status,
		TotalAmount:   sale.TotalAmount,
	})
}

// PublishOrderCreated emits an ORDER_CREATED event keyed by the order number.
func (e *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return e.publish(ctx, order.OrderNumber, models.OrderCreatedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderCreated),
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		DeliveryType: order.DeliveryType,
		TotalAmount:  order.TotalAmount,
	})
}

// PublishOrderStatusChanged emits an ORDER_STATUS_CHANGED event.
func (e *EventPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	return e.publish(ctx, order.OrderNumber, models.OrderStatusChangedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		NewStatus:      order.Status,
		TrackingNumber: order.TrackingNumber,
	})
}

// PublishTransferConfirmed emits a TRANSFER_CONFIRMED event keyed by the
// aggregate reference.
func (e *EventPublisher) PublishTransferConfirmed(ctx context.Context, c *models.TransferConfirmation) error {
	key := fmt.Sprintf("%s-%d", c.ReferenceType, c.ReferenceID)
	return e.publish(ctx, key, models.TransferConfirmedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeTransferConfirmed),
		ReferenceType: c.ReferenceType,
		ReferenceID:   c.ReferenceID,
		Amount:        c.Amount,
		ConfirmedBy:   c.ConfirmedBy,
	})
}

// EventHandler routes consumed messages to per-type callbacks. Unset
// callbacks ignore their event type.
type EventHandler struct {
	OnSaleCreated        func(ctx context.Context, event models.SaleCreatedEvent) error
	OnOrderCreated       func(ctx context.Context, event models.OrderCreatedEvent) error
	OnOrderStatusChanged func(ctx context.Context, event models.OrderStatusChangedEvent) error
	OnTransferConfirmed  func(ctx context.Context, event models.TransferConfirmedEvent) error
}

// Handle decodes the envelope, dispatches on event type, and re-decodes into
// the concrete event for the callback.
func (h *EventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to decode event envelope: %w", err)
	}

	switch base.EventType {
	case models.EventTypeSaleCreated:
		if h.OnSaleCreated == nil {
			return nil
		}
		var event models.SaleCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return h.OnSaleCreated(ctx, event)
	case models.EventTypeOrderCreated:
		if h.OnOrderCreated == nil {
			return nil
		}
		var event models.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return h.OnOrderCreated(ctx, event)
	case models.EventTypeOrderStatusChanged:
		if h.OnOrderStatusChanged == nil {
			return nil
		}
		var event models.OrderStatusChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return h.OnOrderStatusChanged(ctx, event)
	case models.EventTypeTransferConfirmed:
		if h.OnTransferConfirmed == nil {
			return nil
		}
		var event models.TransferConfirmedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return h.OnTransferConfirmed(ctx, event)
	default:
		util.GetLogger().Warn("unknown event type", zap.String("event_type", base.EventType))
		return nil
	}
}

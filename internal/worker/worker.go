// Package worker consumes fulfillment events and dispatches the customer
// notifications: pickup-ready and shipped messages, payment confirmations,
// and sale receipts.
package worker

import (
	"context"

	"go.uber.org/zap"

	"sales-service/internal/broker"
	"sales-service/internal/models"
	"sales-service/internal/util"
)

// NotificationWorker turns fulfillment events into customer notifications.
// Delivery itself goes through an external messaging provider; here the
// dispatch is logged and handed off.
type NotificationWorker struct {
	consumer *broker.Consumer
	logger   *zap.Logger
}

func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		logger:   util.GetLogger(),
	}
}

// Run consumes events until the context is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) error {
	handler := &broker.EventHandler{
		OnSaleCreated:        w.handleSaleCreated,
		OnOrderCreated:       w.handleOrderCreated,
		OnOrderStatusChanged: w.handleOrderStatusChanged,
		OnTransferConfirmed:  w.handleTransferConfirmed,
	}
	return w.consumer.StartConsuming(ctx, handler.Handle)
}

func (w *NotificationWorker) Close() error {
	return w.consumer.Close()
}

func (w *NotificationWorker) handleSaleCreated(ctx context.Context, event models.SaleCreatedEvent) error {
	if event.Status == models.SaleTransferPending {
		w.logger.Info("notification: transfer sale awaiting confirmation",
			zap.String("sale_number", event.SaleNumber),
			zap.String("amount", event.TotalAmount.StringFixed(2)))
	}
	return nil
}

func (w *NotificationWorker) handleOrderCreated(ctx context.Context, event models.OrderCreatedEvent) error {
	w.logger.Info("notification: order received",
		zap.String("order_number", event.OrderNumber),
		zap.String("delivery_type", string(event.DeliveryType)))
	return nil
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event models.OrderStatusChangedEvent) error {
	switch event.NewStatus {
	case models.OrderReadyPickup:
		w.logger.Info("notification: order ready for pickup",
			zap.String("order_number", event.OrderNumber))
	case models.OrderShipped:
		w.logger.Info("notification: order shipped",
			zap.String("order_number", event.OrderNumber),
			zap.String("tracking_number", event.TrackingNumber))
	case models.OrderDelivered, models.OrderPickedUp:
		w.logger.Info("notification: order completed",
			zap.String("order_number", event.OrderNumber),
			zap.String("status", string(event.NewStatus)))
	case models.OrderCancelled:
		w.logger.Info("notification: order cancelled",
			zap.String("order_number", event.OrderNumber))
	}
	return nil
}

func (w *NotificationWorker) handleTransferConfirmed(ctx context.Context, event models.TransferConfirmedEvent) error {
	w.logger.Info("notification: transfer payment confirmed",
		zap.String("reference_type", string(event.ReferenceType)),
		zap.Int64("reference_id", event.ReferenceID),
		zap.String("amount", event.Amount.StringFixed(2)))
	return nil
}

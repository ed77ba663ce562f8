package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-service/internal/models"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestEventHandlerRouting(t *testing.T) {
	var gotStatus *models.OrderStatusChangedEvent
	handler := &EventHandler{
		OnOrderStatusChanged: func(ctx context.Context, event models.OrderStatusChangedEvent) error {
			gotStatus = &event
			return nil
		},
	}

	event := models.OrderStatusChangedEvent{
		BaseEvent:      models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderStatusChanged},
		OrderNumber:    "ORD-20260901-ABCD1234",
		PreviousStatus: models.OrderPacked,
		NewStatus:      models.OrderShipped,
		TrackingNumber: "TRACK-1",
	}
	require.NoError(t, handler.Handle(context.Background(), message(t, event)))

	require.NotNil(t, gotStatus)
	assert.Equal(t, models.OrderShipped, gotStatus.NewStatus)
	assert.Equal(t, "TRACK-1", gotStatus.TrackingNumber)
}

func TestEventHandlerIgnoresUnsetCallbacks(t *testing.T) {
	handler := &EventHandler{}
	event := models.SaleCreatedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeSaleCreated},
	}
	assert.NoError(t, handler.Handle(context.Background(), message(t, event)))
}

func TestEventHandlerUnknownType(t *testing.T) {
	handler := &EventHandler{}
	msg := kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}
	assert.NoError(t, handler.Handle(context.Background(), msg))
}

func TestEventHandlerMalformedPayload(t *testing.T) {
	handler := &EventHandler{}
	msg := kafka.Message{Value: []byte(`not json`)}
	assert.Error(t, handler.Handle(context.Background(), msg))
}

func TestNilPublisherIsSafe(t *testing.T) {
	var publisher *EventPublisher
	sale := &models.Sale{SaleNumber: "SAL-20260901-ABCD1234"}
	assert.NoError(t, publisher.PublishSaleCreated(context.Background(), sale))
}

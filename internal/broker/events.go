package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"stall-reservation/internal/models"
	"stall-reservation/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStallAvailabilityChanged publishes StallAvailabilityChanged event.
// Events of one book fair share a partition key so they stay ordered.
func (ep *EventPublisher) PublishStallAvailabilityChanged(ctx context.Context, event *models.StallAvailabilityChangedEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.FairEventID), event)
}

func eventKey(fairEventID int64) string {
	return fmt.Sprintf("event-%d", fairEventID)
}

// EventHandler handles incoming events
type EventHandler struct {
	onStallAvailabilityChanged func(context.Context, *models.StallAvailabilityChangedEvent) error
	logger                     *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnStallAvailabilityChanged registers a handler for StallAvailabilityChanged events
func (eh *EventHandler) OnStallAvailabilityChanged(handler func(context.Context, *models.StallAvailabilityChangedEvent) error) {
	eh.onStallAvailabilityChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeStallAvailabilityChanged:
		if eh.onStallAvailabilityChanged != nil {
			var event models.StallAvailabilityChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StallAvailabilityChanged event: %w", err)
			}
			return eh.onStallAvailabilityChanged(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

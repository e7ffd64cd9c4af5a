package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is satisfied by both the Kafka producer and the AMQP publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventNotifier turns notification requests into events on a broker
type EventNotifier struct {
	publisher Publisher
}

// NewEventNotifier creates a notifier publishing through p
func NewEventNotifier(p Publisher) *EventNotifier {
	return &EventNotifier{publisher: p}
}

// Notify publishes a NOTIFICATION_REQUESTED event routed by template.
func (n *EventNotifier) Notify(ctx context.Context, template, recipient string, data map[string]any) error {
	event := NewNotificationEvent(template, recipient, data)
	return n.publisher.PublishEvent(ctx, RoutingKey(template), event)
}

// NewNotificationEvent stamps a fresh event id and time.
func NewNotificationEvent(template, recipient string, data map[string]any) *models.NotificationEvent {
	return &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now().UTC(),
		},
		Template:  template,
		Recipient: recipient,
		Data:      data,
	}
}

// RoutingKey is the AMQP routing key and Kafka message key of a template.
func RoutingKey(template string) string {
	return "notification." + template
}

// DecodeNotification parses a message value. Events of other types return nil.
func DecodeNotification(value []byte) (*models.NotificationEvent, error) {
	var base models.BaseEvent
	if err := json.Unmarshal(value, &base); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base event: %w", err)
	}
	if base.EventType != models.EventTypeNotification {
		return nil, nil
	}

	var event models.NotificationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification event: %w", err)
	}
	if event.EventID == "" || event.Template == "" || event.Recipient == "" {
		return nil, fmt.Errorf("notification event %q is incomplete", event.EventID)
	}
	return &event, nil
}

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) Notify(_ context.Context, template, recipient string, data map[string]any) error {
	n.logger.Info("Notification",
		zap.String("template", template),
		zap.String("recipient", recipient),
		zap.Any("data", data))
	return nil
}

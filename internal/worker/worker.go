package worker

import (
	"context"
	"fmt"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Source is a broker subscription. Both the Kafka consumer and the AMQP
// consumer satisfy it.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
}

// EventLedger records which events have already been handled.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Deliverer sends a rendered notification to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, event *models.NotificationEvent) error
}

// NotificationWorker consumes notification events and hands each one to a
// Deliverer at most once per event id.
type NotificationWorker struct {
	source    Source
	ledger    EventLedger
	deliverer Deliverer
	logger    *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source Source, ledger EventLedger, deliverer Deliverer) *NotificationWorker {
	return &NotificationWorker{
		source:    source,
		ledger:    ledger,
		deliverer: deliverer,
		logger:    util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage processes one raw message. Undecodable messages are dropped
// so they do not block the partition; delivery failures are returned so the
// broker redelivers.
func (w *NotificationWorker) HandleMessage(ctx context.Context, value []byte) error {
	event, err := broker.DecodeNotification(value)
	if err != nil {
		w.logger.Error("Dropping malformed notification", zap.Error(err))
		return nil
	}
	if event == nil {
		return nil
	}

	done, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("check event %s: %w", event.EventID, err)
	}
	if done {
		w.logger.Debug("Notification already delivered", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.deliverer.Deliver(ctx, event); err != nil {
		util.NotificationsTotal.WithLabelValues(event.Template, "failed").Inc()
		return fmt.Errorf("deliver %s: %w", event.EventID, err)
	}
	util.NotificationsTotal.WithLabelValues(event.Template, "delivered").Inc()

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("mark event %s: %w", event.EventID, err)
	}
	return nil
}

// LogDeliverer writes notifications to the log. Real email delivery lives
// outside this service.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer() *LogDeliverer {
	return &LogDeliverer{logger: util.GetLogger()}
}

func (d *LogDeliverer) Deliver(_ context.Context, event *models.NotificationEvent) error {
	d.logger.Info("Notification delivered",
		zap.String("event_id", event.EventID),
		zap.String("template", event.Template),
		zap.String("recipient", event.Recipient),
		zap.Any("data", event.Data))
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"
)

// SaveWebhookEvent records a gateway callback. If an event with the same key
// was already stored, e is overwritten with the stored row and duplicate is true.
func (s *Store) SaveWebhookEvent(ctx context.Context, e *models.WebhookEvent) (duplicate bool, err error) {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO webhook_events (event_key, event_type, order_id, signature, raw_body, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_key) DO NOTHING
		RETURNING id, received_at`,
		e.EventKey, e.EventType, e.OrderID, e.Signature, e.RawBody, e.Status, e.Error)

	err = row.Scan(&e.ID, &e.ReceivedAt)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to save webhook event: %w", err)
	}

	if err := s.db.GetContext(ctx, e, "SELECT * FROM webhook_events WHERE event_key = $1", e.EventKey); err != nil {
		return false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return true, nil
}

// GetWebhookEvent retrieves a stored webhook event
func (s *Store) GetWebhookEvent(ctx context.Context, id int64) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event, "SELECT * FROM webhook_events WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: webhook event %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateWebhookEventStatus records the outcome of processing an event
func (s *Store) UpdateWebhookEventStatus(ctx context.Context, id int64, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, error = NULLIF($2, ''), processed_at = NOW()
		WHERE id = $3`, status, errMsg, id)
	return err
}

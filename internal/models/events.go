package models

import "time"

// Event types
const (
	EventTypeNotification = "NOTIFICATION_REQUESTED"
)

// Notification template kinds
const (
	NotifyBookingRequested = "booking_requested"
	NotifyBookingApproved  = "booking_approved"
	NotifyBookingRejected  = "booking_rejected"
	NotifyBookingExpired   = "booking_expired"
	NotifyBookingCancelled = "booking_cancelled"
	NotifyBookingConfirmed = "booking_confirmed"
	NotifyBookingSettled   = "booking_settled"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent asks the delivery side to render and send a template
type NotificationEvent struct {
	BaseEvent
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

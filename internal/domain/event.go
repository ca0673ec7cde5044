package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is a booking state machine input
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventUserCancelled    EventKind = "user_cancelled"
	EventStayCompleted    EventKind = "stay_completed"
	EventRefundIssued     EventKind = "refund_issued"
	EventRefundPending    EventKind = "refund_pending"
)

// Event drives a single booking transition
type Event struct {
	Kind   EventKind
	Reason string
}

// GatewayEventKind is the normalized type of a verified gateway callback
type GatewayEventKind string

const (
	GatewayEventPaymentSucceeded GatewayEventKind = "payment_succeeded"
	GatewayEventPaymentFailed    GatewayEventKind = "payment_failed"
	GatewayEventPaymentCanceled  GatewayEventKind = "payment_canceled"
	GatewayEventRequiresAction   GatewayEventKind = "requires_action"
	GatewayEventRefunded         GatewayEventKind = "refunded"
)

// ReconciliationEvent is a gateway callback after signature verification and
// normalization. Its contents are still cross-checked against the gateway
// before any booking changes.
type ReconciliationEvent struct {
	Provider        string           `json:"provider"`
	EventID         string           `json:"event_id"`
	Kind            GatewayEventKind `json:"kind"`
	PaymentIntentID string           `json:"payment_intent_id"`
	BookingID       string           `json:"booking_id,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	AmountRefunded  decimal.Decimal  `json:"amount_refunded"`
	Currency        string           `json:"currency"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// WebhookEvent is the dedup record of a received gateway callback
type WebhookEvent struct {
	Provider        string     `json:"provider"`
	EventID         string     `json:"event_id"`
	EventType       string     `json:"event_type"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	Payload         []byte     `json:"-"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NotificationType names a guest-facing booking notification
type NotificationType string

const (
	NotificationBookingConfirmed    NotificationType = "booking.confirmed"
	NotificationBookingCancelled    NotificationType = "booking.cancelled"
	NotificationCancellationPending NotificationType = "booking.cancellation_pending"
	NotificationBookingCompleted    NotificationType = "booking.completed"
	NotificationPaymentFailed       NotificationType = "booking.payment_failed"
)

// Notification is handed to the notifier after a committed transition
type Notification struct {
	Type       NotificationType `json:"type"`
	UserID     string           `json:"user_id"`
	BookingID  string           `json:"booking_id"`
	Status     BookingStatus    `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NotificationFor maps a booking's new state to the notification sent for it
func NotificationFor(b *Booking) (NotificationType, bool) {
	switch b.Status {
	case BookingStatusConfirmed:
		return NotificationBookingConfirmed, true
	case BookingStatusCancelled:
		if b.StatusReason == ReasonPaymentFailed {
			return NotificationPaymentFailed, true
		}
		return NotificationBookingCancelled, true
	case BookingStatusCancellationPending:
		return NotificationCancellationPending, true
	case BookingStatusCompleted:
		return NotificationBookingCompleted, true
	}
	return "", false
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyKind classifies a detected local/gateway inconsistency
type AnomalyKind string

const (
	AnomalyMetadataMismatch    AnomalyKind = "metadata_mismatch"
	AnomalyAmountMismatch      AnomalyKind = "amount_mismatch"
	AnomalyUnknownBooking      AnomalyKind = "unknown_booking"
	AnomalyUnknownIntent       AnomalyKind = "unknown_intent"
	AnomalyInvalidTransition   AnomalyKind = "invalid_transition"
	AnomalyPartialRefund       AnomalyKind = "partial_refund"
	AnomalyCancellationPending AnomalyKind = "cancellation_pending"
	AnomalyRefundFailed        AnomalyKind = "refund_failed"

	// AnomalySupersededCapture is money captured on an intent that is no
	// longer the booking's active one
	AnomalySupersededCapture AnomalyKind = "superseded_capture"
)

// Anomaly is filed for manual review. It is never resolved automatically.
type Anomaly struct {
	ID              string      `json:"id"`
	Kind            AnomalyKind `json:"kind"`
	BookingID       string      `json:"booking_id,omitempty"`
	PaymentIntentID string      `json:"payment_intent_id,omitempty"`
	Detail          string      `json:"detail"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewAnomaly builds an Anomaly with a fresh id
func NewAnomaly(kind AnomalyKind, bookingID, intentID, detail string) *Anomaly {
	return &Anomaly{
		ID:              uuid.New().String(),
		Kind:            kind,
		BookingID:       bookingID,
		PaymentIntentID: intentID,
		Detail:          detail,
		CreatedAt:       time.Now().UTC(),
	}
}

// Principal is the authenticated caller of a core operation
type Principal struct {
	UserID string
}

package dto

import (
	"github.com/shopspring/decimal"
)

// CreateIntentRequest represents request for a booking's payment intent
type CreateIntentRequest struct {
	BookingID string          `json:"booking_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" binding:"required,len=3"`
}

// CreateIntentResponse represents the intent the client completes checkout with
type CreateIntentResponse struct {
	BookingID       string `json:"booking_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Status          string `json:"status"`
}

// ConfirmPaymentRequest represents request to confirm a payment
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// PaymentStatusResponse represents an intent's gateway status
type PaymentStatusResponse struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	BookingID       string          `json:"booking_id"`
	Status          string          `json:"status"`
	BookingStatus   string          `json:"booking_status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// WebhookResponse acknowledges a gateway callback
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

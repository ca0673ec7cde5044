package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/gateway"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/repository"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnhandledEvent is returned for verified events of a type that does not
// affect bookings. They are acknowledged and dropped.
var ErrUnhandledEvent = errors.New("unhandled webhook event type")

// VerificationError means the payload could not be trusted
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "webhook verification failed: " + e.Reason
	}
	return fmt.Sprintf("webhook verification failed: %s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Gateway event types understood by the ingestor
const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventPaymentCanceled  = "payment_intent.canceled"
	eventRequiresAction   = "payment_intent.requires_action"
	eventChargeRefunded   = "charge.refunded"
)

// IngestorConfig contains configuration for the webhook ingestor
type IngestorConfig struct {
	// Provider names the gateway ("stripe" or "mock"). Both sign callbacks
	// with the t=<unix>,v1=<hex HMAC-SHA256> header scheme.
	Provider string
	Secret   string

	// Tolerance is the maximum age of a signed payload
	Tolerance time.Duration
}

// Ingestor verifies, normalizes and deduplicates gateway callbacks
type Ingestor struct {
	provider  string
	secret    string
	tolerance time.Duration
	events    repository.WebhookEventStore
	log       *logger.Logger
}

// NewIngestor creates a new webhook ingestor
func NewIngestor(cfg *IngestorConfig, events repository.WebhookEventStore) (*Ingestor, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, fmt.Errorf("webhook signing secret is required")
	}
	if events == nil {
		return nil, fmt.Errorf("webhook event store is required")
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = string(gateway.GatewayTypeMock)
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = stripewebhook.DefaultTolerance
	}

	return &Ingestor{
		provider:  provider,
		secret:    cfg.Secret,
		tolerance: tolerance,
		events:    events,
		log:       logger.Get(),
	}, nil
}

// Provider returns the gateway name events are recorded under
func (i *Ingestor) Provider() string {
	return i.provider
}

// Ingest verifies the signature of a raw callback, normalizes it and claims
// its event id. A redelivery of an event that was already processed returns
// domain.ErrDuplicateEvent; a verified event of an unknown type returns
// ErrUnhandledEvent.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) (*domain.ReconciliationEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.ingest")
	defer span.End()

	span.SetAttributes(attribute.String("provider", i.provider))

	event, err := i.verify(payload, signatureHeader)
	if err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			metrics.RecordWebhookRejected(ctx, i.provider, verr.Reason)
		}
		i.log.Warn("rejected webhook",
			zap.String("provider", i.provider),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", string(event.Type)),
	)
	metrics.RecordWebhookReceived(ctx, i.provider, string(event.Type))

	rec, err := i.normalize(event)
	if err != nil {
		if errors.Is(err, ErrUnhandledEvent) {
			i.log.Debug("ignoring webhook event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
			)
		}
		return nil, err
	}

	err = i.events.Claim(ctx, &domain.WebhookEvent{
		Provider:        i.provider,
		EventID:         rec.EventID,
		EventType:       string(event.Type),
		PaymentIntentID: rec.PaymentIntentID,
		Payload:         payload,
		CreatedAt:       time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		i.log.Info("duplicate webhook event",
			zap.String("event_id", rec.EventID),
			zap.String("payment_intent_id", rec.PaymentIntentID),
		)
		return rec, err
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	i.log.Info("webhook event accepted",
		zap.String("event_id", rec.EventID),
		zap.String("kind", string(rec.Kind)),
		zap.String("payment_intent_id", rec.PaymentIntentID),
	)
	return rec, nil
}

// Complete records the outcome of applying an event. Events that were
// applied, or that filed an anomaly, are marked processed so a redelivery is
// dropped; any other failure leaves the event claimable again.
func (i *Ingestor) Complete(ctx context.Context, ev *domain.ReconciliationEvent, applyErr error) {
	var err error
	if applyErr == nil || errors.Is(applyErr, domain.ErrConsistencyAnomaly) {
		err = i.events.MarkProcessed(ctx, i.provider, ev.EventID)
	} else {
		err = i.events.MarkFailed(ctx, i.provider, ev.EventID, applyErr.Error())
	}
	if err != nil {
		i.log.Error("failed to record webhook outcome",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
	}
}

func (i *Ingestor) verify(payload []byte, header string) (stripe.Event, error) {
	if len(payload) == 0 {
		return stripe.Event{}, &VerificationError{Reason: "empty_payload"}
	}
	if header == "" {
		return stripe.Event{}, &VerificationError{Reason: "missing_signature"}
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, header, i.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                i.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		reason := "invalid_payload"
		switch {
		case errors.Is(err, stripewebhook.ErrNotSigned):
			reason = "missing_signature"
		case errors.Is(err, stripewebhook.ErrInvalidHeader):
			reason = "invalid_header"
		case errors.Is(err, stripewebhook.ErrNoValidSignature):
			reason = "invalid_signature"
		case errors.Is(err, stripewebhook.ErrTooOld):
			reason = "expired"
		}
		return stripe.Event{}, &VerificationError{Reason: reason, Err: err}
	}
	if event.ID == "" || event.Data == nil {
		return stripe.Event{}, &VerificationError{Reason: "invalid_payload"}
	}
	return event, nil
}

func (i *Ingestor) normalize(event stripe.Event) (*domain.ReconciliationEvent, error) {
	rec := &domain.ReconciliationEvent{
		Provider:   i.provider,
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case eventPaymentSucceeded:
		rec.Kind = domain.GatewayEventPaymentSucceeded
	case eventPaymentFailed:
		rec.Kind = domain.GatewayEventPaymentFailed
	case eventPaymentCanceled:
		rec.Kind = domain.GatewayEventPaymentCanceled
	case eventRequiresAction:
		rec.Kind = domain.GatewayEventRequiresAction
	case eventChargeRefunded:
		rec.Kind = domain.GatewayEventRefunded
		return rec, fillFromCharge(rec, event.Data.Raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}
	return rec, fillFromIntent(rec, event.Data.Raw)
}

func fillFromIntent(rec *domain.ReconciliationEvent, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return &VerificationError{Reason: "invalid_payload", Err: err}
	}
	if pi.ID == "" {
		return &VerificationError{Reason: "missing_payment_intent"}
	}

	currency := strings.ToUpper(string(pi.Currency))
	rec.PaymentIntentID = pi.ID
	rec.BookingID = pi.Metadata[domain.MetadataBookingID]
	rec.Amount = gateway.FromMinorUnits(pi.Amount, currency)
	rec.Currency = currency
	if pi.LastPaymentError != nil {
		rec.FailureReason = string(pi.LastPaymentError.Code)
		if rec.FailureReason == "" {
			rec.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return nil
}

func fillFromCharge(rec *domain.ReconciliationEvent, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return &VerificationError{Reason: "invalid_payload", Err: err}
	}
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return &VerificationError{Reason: "missing_payment_intent"}
	}

	currency := strings.ToUpper(string(ch.Currency))
	rec.PaymentIntentID = ch.PaymentIntent.ID
	rec.BookingID = ch.Metadata[domain.MetadataBookingID]
	rec.Amount = gateway.FromMinorUnits(ch.Amount, currency)
	rec.AmountRefunded = gateway.FromMinorUnits(ch.AmountRefunded, currency)
	rec.Currency = currency
	return nil
}

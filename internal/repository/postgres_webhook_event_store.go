package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresWebhookEventStore implements WebhookEventStore using PostgreSQL
type PostgresWebhookEventStore struct {
	db *database.PostgresDB
}

// NewPostgresWebhookEventStore creates a new PostgresWebhookEventStore
func NewPostgresWebhookEventStore(db *database.PostgresDB) *PostgresWebhookEventStore {
	return &PostgresWebhookEventStore{db: db}
}

// Claim inserts the event if absent and reports already processed events
func (s *PostgresWebhookEventStore) Claim(ctx context.Context, event *domain.WebhookEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.webhook_event.claim")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider", event.Provider),
		attribute.String("event_id", event.EventID),
	)

	result, err := s.db.Pool().Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payment_intent_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`,
		event.Provider,
		event.EventID,
		event.EventType,
		nullString(event.PaymentIntentID),
		event.Payload,
		event.CreatedAt,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var processedAt *time.Time
	err = s.db.Pool().QueryRow(ctx, `
		SELECT processed_at FROM webhook_events WHERE provider = $1 AND event_id = $2
	`, event.Provider, event.EventID).Scan(&processedAt)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to load webhook event: %w", err)
	}
	if processedAt != nil {
		return domain.ErrDuplicateEvent
	}
	return nil
}

// MarkProcessed records successful processing
func (s *PostgresWebhookEventStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE webhook_events
		SET processed_at = NOW(), processing_error = NULL
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// MarkFailed records a processing error
func (s *PostgresWebhookEventStore) MarkFailed(ctx context.Context, provider, eventID, reason string) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE webhook_events
		SET processing_error = $3
		WHERE provider = $1 AND event_id = $2 AND processed_at IS NULL
	`, provider, eventID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

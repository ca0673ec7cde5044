package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const intentColumns = `
	id, booking_id, amount::text, currency, amount_refunded::text, idempotency_key,
	status, client_secret, metadata, superseded, created_at, updated_at
`

const upsertIntentQuery = `
	INSERT INTO payment_intents (
		id, booking_id, amount, currency, amount_refunded, idempotency_key,
		status, client_secret, metadata, superseded, created_at, updated_at
	) VALUES (
		$1, $2, $3::numeric, $4, $5::numeric, $6,
		$7, $8, $9, $10, $11, $12
	)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		amount_refunded = EXCLUDED.amount_refunded,
		superseded = EXCLUDED.superseded,
		updated_at = EXCLUDED.updated_at
`

// PostgresIntentRepository implements IntentRepository using PostgreSQL
type PostgresIntentRepository struct {
	db *database.PostgresDB
}

// NewPostgresIntentRepository creates a new PostgresIntentRepository
func NewPostgresIntentRepository(db *database.PostgresDB) *PostgresIntentRepository {
	return &PostgresIntentRepository{db: db}
}

// SaveIntent inserts or updates an intent. Amount and currency are never
// rewritten once stored.
func (r *PostgresIntentRepository) SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.intent.save")
	defer span.End()

	span.SetAttributes(attribute.String("payment_intent_id", intent.ID))

	if err := upsertIntent(ctx, r.db.Pool(), intent); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// ActivateIntent supersedes the booking's other intents and saves intent
func (r *PostgresIntentRepository) ActivateIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.intent.activate")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_intent_id", intent.ID),
		attribute.String("booking_id", intent.BookingID),
	)

	err := r.db.WithTx(ctx, func(q database.Querier) error {
		_, err := q.Exec(ctx, `
			UPDATE payment_intents
			SET superseded = TRUE, updated_at = NOW()
			WHERE booking_id = $1 AND id <> $2 AND NOT superseded
		`, intent.BookingID, intent.ID)
		if err != nil {
			return fmt.Errorf("failed to supersede intents: %w", err)
		}

		active := intent.Clone()
		active.Superseded = false
		return upsertIntent(ctx, q, active)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	intent.Superseded = false
	return nil
}

// GetIntent retrieves an intent by id
func (r *PostgresIntentRepository) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.intent.get")
	defer span.End()

	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`

	intent, err := scanIntent(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIntentNotFound
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intent, nil
}

// ListIntentsByBooking returns the intent history of a booking
func (r *PostgresIntentRepository) ListIntentsByBooking(ctx context.Context, bookingID string) ([]*domain.PaymentIntent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.intent.list_by_booking")
	defer span.End()

	query := `SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Pool().Query(ctx, query, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment intents: %w", err)
	}
	return intents, nil
}

func upsertIntent(ctx context.Context, q database.Querier, intent *domain.PaymentIntent) error {
	metadata, err := json.Marshal(intent.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode intent metadata: %w", err)
	}

	_, err = q.Exec(ctx, upsertIntentQuery,
		intent.ID,
		intent.BookingID,
		intent.Amount.String(),
		intent.Currency,
		intent.AmountRefunded.String(),
		intent.IdempotencyKey,
		string(intent.Status),
		nullString(intent.ClientSecret),
		metadata,
		intent.Superseded,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrIntentAlreadyExists
		}
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	return nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{}
	var (
		amount       string
		refunded     string
		status       string
		clientSecret *string
		metadata     []byte
	)

	err := row.Scan(
		&intent.ID,
		&intent.BookingID,
		&amount,
		&intent.Currency,
		&refunded,
		&intent.IdempotencyKey,
		&status,
		&clientSecret,
		&metadata,
		&intent.Superseded,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if intent.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if intent.AmountRefunded, err = decimal.NewFromString(refunded); err != nil {
		return nil, fmt.Errorf("invalid amount_refunded %q: %w", refunded, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &intent.Metadata); err != nil {
			return nil, fmt.Errorf("invalid intent metadata: %w", err)
		}
	}
	intent.Status = domain.IntentStatus(status)
	intent.ClientSecret = derefString(clientSecret)
	return intent, nil
}

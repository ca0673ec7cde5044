package repository

import (
	"context"
	"fmt"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
)

// PostgresAnomalyStore implements AnomalyStore using PostgreSQL
type PostgresAnomalyStore struct {
	db *database.PostgresDB
}

// NewPostgresAnomalyStore creates a new PostgresAnomalyStore
func NewPostgresAnomalyStore(db *database.PostgresDB) *PostgresAnomalyStore {
	return &PostgresAnomalyStore{db: db}
}

// Save inserts an anomaly record
func (s *PostgresAnomalyStore) Save(ctx context.Context, a *domain.Anomaly) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO reconciliation_anomalies (id, kind, booking_id, payment_intent_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		a.ID,
		string(a.Kind),
		nullString(a.BookingID),
		nullString(a.PaymentIntentID),
		a.Detail,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save anomaly: %w", err)
	}
	return nil
}

// ListByBooking returns the anomalies filed against a booking, oldest first
func (s *PostgresAnomalyStore) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Anomaly, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, kind, booking_id, payment_intent_id, detail, created_at
		FROM reconciliation_anomalies
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*domain.Anomaly
	for rows.Next() {
		var (
			a         domain.Anomaly
			kind      string
			booking   *string
			intentRef *string
		)
		if err := rows.Scan(&a.ID, &kind, &booking, &intentRef, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Kind = domain.AnomalyKind(kind)
		a.BookingID = derefString(booking)
		a.PaymentIntentID = derefString(intentRef)
		anomalies = append(anomalies, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}
	return anomalies, nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps ledger entries in the idempotency_ledger table
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a new PostgreSQL ledger store
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the entry for key
func (s *PostgresStore) Get(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	query := `
		SELECT key, operation_kind, result_snapshot, created_at
		FROM idempotency_ledger
		WHERE key = $1
	`

	entry, err := scanEntry(s.db.Pool().QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// PutIfAbsent inserts the entry, leaving an existing row untouched
func (s *PostgresStore) PutIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	query := `
		INSERT INTO idempotency_ledger (key, operation_kind, result_snapshot, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
		RETURNING key, operation_kind, result_snapshot, created_at
	`

	stored, err := scanEntry(s.db.Pool().QueryRow(ctx, query,
		entry.Key,
		string(entry.OperationKind),
		[]byte(entry.ResultSnapshot),
		entry.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	// conflict: another writer recorded the key first
	existing, err := s.Get(ctx, entry.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		entry    domain.LedgerEntry
		kind     string
		snapshot []byte
	)
	if err := row.Scan(&entry.Key, &kind, &snapshot, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.OperationKind = domain.OperationKind(kind)
	entry.ResultSnapshot = snapshot
	return &entry, nil
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrEntryNotFound is returned by Store.Get for an unknown key
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrKindMismatch means a key was reused for a different operation
	ErrKindMismatch = errors.New("idempotency key recorded for a different operation")
)

// Store persists ledger entries with insert-if-absent semantics
type Store interface {
	// Get returns the entry for key or ErrEntryNotFound
	Get(ctx context.Context, key string) (*domain.LedgerEntry, error)

	// PutIfAbsent records entry unless its key already exists. It returns the
	// entry that is stored after the call and whether this call wrote it.
	PutIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error)
}

// Operation is the gateway mutation guarded by the ledger
type Operation func(ctx context.Context) (any, error)

// Ledger guarantees that an operation keyed by an idempotency key takes
// effect at most once and that every later call sees the first result
type Ledger struct {
	store Store
	group singleflight.Group
	log   *logger.Logger
}

// New creates a ledger on top of store
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		log:   logger.Get(),
	}
}

type outcome struct {
	snapshot json.RawMessage
	replayed bool
}

// ExecuteOnce runs op unless key already has a recorded result, and decodes
// the recorded (or fresh) result into out. Failures of op are not recorded,
// so the next call runs it again. Concurrent calls with the same key in this
// process share one execution. replayed is true when the result came from an
// earlier execution.
func (l *Ledger) ExecuteOnce(ctx context.Context, key string, kind domain.OperationKind, op Operation, out any) (replayed bool, err error) {
	if key == "" {
		return false, domain.NewValidationError("idempotency_key", "is required")
	}

	entry, err := l.lookup(ctx, key, kind)
	if err != nil {
		return false, err
	}
	if entry != nil {
		return true, decode(entry.ResultSnapshot, out)
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		// another process may have recorded it since the first lookup
		entry, err := l.lookup(ctx, key, kind)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return &outcome{snapshot: entry.ResultSnapshot, replayed: true}, nil
		}

		result, err := op(ctx)
		if err != nil {
			return nil, err
		}

		snapshot, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s result: %w", kind, err)
		}

		stored, inserted, err := l.store.PutIfAbsent(ctx, &domain.LedgerEntry{
			Key:            key,
			OperationKind:  kind,
			ResultSnapshot: snapshot,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			// the gateway call succeeded; its own idempotency key covers the
			// retry, so hand the fresh result back instead of failing
			l.log.Error("failed to record ledger entry",
				zap.String("key", key),
				zap.String("operation", string(kind)),
				zap.Error(err),
			)
			return &outcome{snapshot: snapshot}, nil
		}
		if !inserted {
			l.log.Warn("ledger entry recorded by a concurrent writer",
				zap.String("key", key),
				zap.String("operation", string(kind)),
			)
			return &outcome{snapshot: stored.ResultSnapshot, replayed: true}, nil
		}
		return &outcome{snapshot: snapshot}, nil
	})
	if err != nil {
		return false, err
	}

	res := v.(*outcome)
	return res.replayed, decode(res.snapshot, out)
}

// Lookup returns the recorded entry for key, or nil when there is none
func (l *Ledger) Lookup(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	entry, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	return entry, nil
}

func (l *Ledger) lookup(ctx context.Context, key string, kind domain.OperationKind) (*domain.LedgerEntry, error) {
	entry, err := l.Lookup(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.OperationKind != kind {
		return nil, fmt.Errorf("%w: key %s is a %s, not a %s", ErrKindMismatch, key, entry.OperationKind, kind)
	}
	return entry, nil
}

func decode(snapshot json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(snapshot, out); err != nil {
		return fmt.Errorf("failed to decode ledger snapshot: %w", err)
	}
	return nil
}

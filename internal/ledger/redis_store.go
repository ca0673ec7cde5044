package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/redis"
)

const defaultKeyPrefix = "idempotency:"

// RedisStore keeps ledger entries in Redis. Entries expire after ttl, which
// must outlive the gateway's own idempotency window.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a new Redis ledger store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// Get returns the entry for key
func (s *RedisStore) Get(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	raw, ok, err := s.client.GetBytes(ctx, s.key(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if !ok {
		return nil, ErrEntryNotFound
	}

	var entry domain.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
	}
	return &entry, nil
}

// PutIfAbsent stores the entry with SET-if-absent semantics
func (s *RedisStore) PutIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode ledger entry: %w", err)
	}

	stored, written, err := s.client.GetOrSet(ctx, s.key(entry.Key), raw, s.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store ledger entry: %w", err)
	}

	var out domain.LedgerEntry
	if err := json.Unmarshal(stored, &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode ledger entry: %w", err)
	}
	return &out, written, nil
}

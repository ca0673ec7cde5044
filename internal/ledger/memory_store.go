package ledger

import (
	"context"
	"sync"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// MemoryStore is an in-process Store for tests and no-database mode
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.LedgerEntry
}

// NewMemoryStore creates a new in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*domain.LedgerEntry),
	}
}

// Get returns the entry for key
func (s *MemoryStore) Get(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

// PutIfAbsent records entry unless the key exists
func (s *MemoryStore) PutIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.Key]; ok {
		return copyEntry(existing), false, nil
	}
	s.entries[entry.Key] = copyEntry(entry)
	return copyEntry(entry), true, nil
}

// Len returns the number of recorded entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func copyEntry(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := *e
	c.ResultSnapshot = append([]byte(nil), e.ResultSnapshot...)
	return &c
}

package repository

import (
	"context"
	"sync"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// MemoryWebhookEventStore implements WebhookEventStore in memory
type MemoryWebhookEventStore struct {
	events map[string]*domain.WebhookEvent
	mu     sync.Mutex
}

// NewMemoryWebhookEventStore creates a new in-memory webhook event store
func NewMemoryWebhookEventStore() *MemoryWebhookEventStore {
	return &MemoryWebhookEventStore{
		events: make(map[string]*domain.WebhookEvent),
	}
}

func webhookKey(provider, eventID string) string {
	return provider + "/" + eventID
}

// Claim records the event unless it was already processed
func (s *MemoryWebhookEventStore) Claim(ctx context.Context, event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := webhookKey(event.Provider, event.EventID)
	if existing, ok := s.events[key]; ok {
		if existing.ProcessedAt != nil {
			return domain.ErrDuplicateEvent
		}
		return nil
	}

	e := *event
	s.events[key] = &e
	return nil
}

// MarkProcessed records successful processing
func (s *MemoryWebhookEventStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.events[webhookKey(provider, eventID)]; ok {
		now := time.Now().UTC()
		e.ProcessedAt = &now
		e.ProcessingError = ""
	}
	return nil
}

// MarkFailed records a processing error
func (s *MemoryWebhookEventStore) MarkFailed(ctx context.Context, provider, eventID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.events[webhookKey(provider, eventID)]; ok && e.ProcessedAt == nil {
		e.ProcessingError = reason
	}
	return nil
}

// MemoryAnomalyStore implements AnomalyStore in memory
type MemoryAnomalyStore struct {
	anomalies []*domain.Anomaly
	mu        sync.RWMutex
}

// NewMemoryAnomalyStore creates a new in-memory anomaly store
func NewMemoryAnomalyStore() *MemoryAnomalyStore {
	return &MemoryAnomalyStore{}
}

// Save appends an anomaly
func (s *MemoryAnomalyStore) Save(ctx context.Context, a *domain.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *a
	s.anomalies = append(s.anomalies, &c)
	return nil
}

// ListByBooking returns the anomalies filed against a booking
func (s *MemoryAnomalyStore) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Anomaly
	for _, a := range s.anomalies {
		if a.BookingID == bookingID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// MemoryCatalogReader implements CatalogReader from a fixed set of entries
type MemoryCatalogReader struct {
	entries map[string]*domain.CatalogEntry
	mu      sync.RWMutex
}

// NewMemoryCatalogReader creates a new in-memory catalog reader
func NewMemoryCatalogReader() *MemoryCatalogReader {
	return &MemoryCatalogReader{
		entries: make(map[string]*domain.CatalogEntry),
	}
}

// Put registers display data for an accommodation and room type
func (r *MemoryCatalogReader) Put(entry *domain.CatalogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *entry
	r.entries[entry.AccommodationID+"/"+entry.RoomTypeID] = &c
}

// Lookup returns display data, empty when unknown
func (r *MemoryCatalogReader) Lookup(ctx context.Context, accommodationID, roomTypeID string) (*domain.CatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[accommodationID+"/"+roomTypeID]; ok {
		c := *e
		return &c, nil
	}
	return &domain.CatalogEntry{AccommodationID: accommodationID, RoomTypeID: roomTypeID}, nil
}

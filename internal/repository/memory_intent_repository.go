package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// MemoryIntentRepository implements IntentRepository using in-memory storage
type MemoryIntentRepository struct {
	intents map[string]*domain.PaymentIntent
	byKey   map[string]string // idempotencyKey -> intentID
	mu      sync.RWMutex
}

// NewMemoryIntentRepository creates a new in-memory intent repository
func NewMemoryIntentRepository() *MemoryIntentRepository {
	return &MemoryIntentRepository{
		intents: make(map[string]*domain.PaymentIntent),
		byKey:   make(map[string]string),
	}
}

// SaveIntent inserts or updates an intent by id
func (r *MemoryIntentRepository) SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(intent)
}

// ActivateIntent supersedes other intents of the booking and saves intent
func (r *MemoryIntentRepository) ActivateIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, other := range r.intents {
		if other.BookingID == intent.BookingID && id != intent.ID && !other.Superseded {
			other.Superseded = true
			other.UpdatedAt = now
		}
	}

	intent.Superseded = false
	return r.save(intent)
}

func (r *MemoryIntentRepository) save(intent *domain.PaymentIntent) error {
	if owner, taken := r.byKey[intent.IdempotencyKey]; taken && owner != intent.ID {
		return domain.ErrIntentAlreadyExists
	}

	if existing, ok := r.intents[intent.ID]; ok {
		existing.Status = intent.Status
		existing.AmountRefunded = intent.AmountRefunded
		existing.Superseded = intent.Superseded
		existing.UpdatedAt = intent.UpdatedAt
		return nil
	}

	r.intents[intent.ID] = intent.Clone()
	r.byKey[intent.IdempotencyKey] = intent.ID
	return nil
}

// GetIntent retrieves an intent by id
func (r *MemoryIntentRepository) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	return intent.Clone(), nil
}

// ListIntentsByBooking returns a booking's intents, oldest first
func (r *MemoryIntentRepository) ListIntentsByBooking(ctx context.Context, bookingID string) ([]*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var intents []*domain.PaymentIntent
	for _, intent := range r.intents {
		if intent.BookingID == bookingID {
			intents = append(intents, intent.Clone())
		}
	}
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
	return intents, nil
}

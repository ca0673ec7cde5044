package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// MemoryBookingRepository implements BookingRepository using in-memory storage
// This is useful for testing and development
type MemoryBookingRepository struct {
	bookings  map[string]*domain.Booking
	byAttempt map[string]string // attemptKey -> bookingID
	mu        sync.RWMutex
}

// NewMemoryBookingRepository creates a new in-memory booking repository
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings:  make(map[string]*domain.Booking),
		byAttempt: make(map[string]string),
	}
}

// Create stores a new booking
func (r *MemoryBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bookings[booking.ID]; exists {
		return domain.ErrBookingAlreadyExists
	}
	if _, exists := r.byAttempt[booking.AttemptKey]; exists {
		return domain.ErrBookingAlreadyExists
	}

	r.bookings[booking.ID] = booking.Clone()
	r.byAttempt[booking.AttemptKey] = booking.ID
	return nil
}

// GetByID retrieves a booking by its ID
func (r *MemoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	booking, exists := r.bookings[id]
	if !exists {
		return nil, domain.ErrBookingNotFound
	}
	return booking.Clone(), nil
}

// GetByAttemptKey retrieves the booking created for a payment attempt
func (r *MemoryBookingRepository) GetByAttemptKey(ctx context.Context, attemptKey string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byAttempt[attemptKey]
	if !exists {
		return nil, domain.ErrBookingNotFound
	}
	return r.bookings[id].Clone(), nil
}

// Update writes the booking if the stored version matches
func (r *MemoryBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.bookings[booking.ID]
	if !exists {
		return domain.ErrBookingNotFound
	}
	if stored.Version != booking.Version {
		return domain.ErrConcurrencyConflict
	}
	if owner, taken := r.byAttempt[booking.AttemptKey]; taken && owner != booking.ID {
		return domain.ErrBookingAlreadyExists
	}

	if stored.AttemptKey != booking.AttemptKey {
		delete(r.byAttempt, stored.AttemptKey)
		r.byAttempt[booking.AttemptKey] = booking.ID
	}

	booking.Version++
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

// ListByGuest retrieves a guest's bookings, newest first
func (r *MemoryBookingRepository) ListByGuest(ctx context.Context, guestID string, limit, offset int) ([]*domain.Booking, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*domain.Booking
	for _, b := range r.bookings {
		if b.GuestID == guestID {
			all = append(all, b.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*domain.Booking{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ListStale returns bookings in status last updated before olderThan
func (r *MemoryBookingRepository) ListStale(ctx context.Context, status domain.BookingStatus, olderThan time.Time, limit int) ([]*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*domain.Booking
	for _, b := range r.bookings {
		if b.Status == status && b.UpdatedAt.Before(olderThan) {
			stale = append(stale, b.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// ListCheckedOut returns Confirmed bookings whose stay ended before before
func (r *MemoryBookingRepository) ListCheckedOut(ctx context.Context, before time.Time, limit int) ([]*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingStatusConfirmed && b.CheckOutDate.Before(before) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CheckOutDate.Before(out[j].CheckOutDate)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

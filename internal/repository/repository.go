package repository

import (
	"context"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// BookingRepository defines the interface for booking data access
type BookingRepository interface {
	// Create stores a new booking. A booking with the same attempt key
	// already stored yields domain.ErrBookingAlreadyExists.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by its ID
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// GetByAttemptKey retrieves the booking created for a payment attempt
	GetByAttemptKey(ctx context.Context, attemptKey string) (*domain.Booking, error)

	// Update writes the booking only if its stored version still equals
	// booking.Version, then bumps booking.Version. A stale version yields
	// domain.ErrConcurrencyConflict.
	Update(ctx context.Context, booking *domain.Booking) error

	// ListByGuest returns a guest's bookings, newest first, and the total count
	ListByGuest(ctx context.Context, guestID string, limit, offset int) ([]*domain.Booking, int, error)

	// ListStale returns bookings in status not updated since olderThan, oldest first
	ListStale(ctx context.Context, status domain.BookingStatus, olderThan time.Time, limit int) ([]*domain.Booking, error)

	// ListCheckedOut returns Confirmed bookings whose check-out date is before before
	ListCheckedOut(ctx context.Context, before time.Time, limit int) ([]*domain.Booking, error)
}

// IntentRepository defines the interface for payment intent records
type IntentRepository interface {
	// SaveIntent inserts or updates an intent by id
	SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error

	// ActivateIntent marks every other intent of the booking superseded and
	// saves intent as the active one, atomically
	ActivateIntent(ctx context.Context, intent *domain.PaymentIntent) error

	// GetIntent retrieves an intent by its gateway id
	GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)

	// ListIntentsByBooking returns every intent of a booking, oldest first
	ListIntentsByBooking(ctx context.Context, bookingID string) ([]*domain.PaymentIntent, error)
}

// WebhookEventStore records received gateway callbacks for dedup
type WebhookEventStore interface {
	// Claim records the event. It returns domain.ErrDuplicateEvent when the
	// same provider event was already processed successfully. An event whose
	// earlier processing failed can be claimed again.
	Claim(ctx context.Context, event *domain.WebhookEvent) error

	// MarkProcessed records successful processing
	MarkProcessed(ctx context.Context, provider, eventID string) error

	// MarkFailed records a processing error so the redelivery is not ignored
	MarkFailed(ctx context.Context, provider, eventID, reason string) error
}

// AnomalyStore persists anomalies for manual review
type AnomalyStore interface {
	Save(ctx context.Context, anomaly *domain.Anomaly) error
	ListByBooking(ctx context.Context, bookingID string) ([]*domain.Anomaly, error)
}

// CatalogReader resolves accommodation and room type display data
type CatalogReader interface {
	// Lookup returns display data. Unknown ids yield an entry with empty
	// display fields, not an error.
	Lookup(ctx context.Context, accommodationID, roomTypeID string) (*domain.CatalogEntry, error)
}

// nullString converts empty string to nil for nullable database columns
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns the value of a nullable column or ""
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus represents the lifecycle state of a booking (matches the bookings.status CHECK)
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"

	// BookingStatusCancellationPending is a Confirmed booking whose refund has
	// been requested but not yet acknowledged by the gateway.
	BookingStatusCancellationPending BookingStatus = "cancellation_pending"
)

// IsTerminal reports whether no further transitions change the booking
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// IsValid checks the status against the known set
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancellationPending,
		BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// Booking is a guest's reservation of rooms at an accommodation
type Booking struct {
	ID              string          `json:"id"`
	GuestID         string          `json:"guest_id"`
	AccommodationID string          `json:"accommodation_id"`
	RoomTypeID      string          `json:"room_type_id"`
	CheckInDate     time.Time       `json:"check_in_date"`
	CheckOutDate    time.Time       `json:"check_out_date"`
	NumRooms        int             `json:"num_rooms"`
	NumGuests       int             `json:"num_guests"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency"`
	Status          BookingStatus   `json:"status"`
	StatusReason    string          `json:"status_reason,omitempty"`

	// PaymentRef is the active (non-superseded) payment intent id
	PaymentRef string `json:"payment_ref,omitempty"`

	// AttemptNonce feeds the intent idempotency key. A new value means a new
	// logical payment attempt. AttemptKey is the key derived from it.
	AttemptNonce string `json:"-"`
	AttemptKey   string `json:"-"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBookingParams holds the caller-supplied fields of a booking
type NewBookingParams struct {
	GuestID         string
	AccommodationID string
	RoomTypeID      string
	CheckInDate     time.Time
	CheckOutDate    time.Time
	NumRooms        int
	NumGuests       int
	TotalPrice      decimal.Decimal
	Currency        string
	AttemptNonce    string
}

// Validate checks creation-time invariants
func (p *NewBookingParams) Validate() error {
	if p.GuestID == "" {
		return NewValidationError("guest_id", "is required")
	}
	if p.AccommodationID == "" {
		return NewValidationError("accommodation_id", "is required")
	}
	if p.RoomTypeID == "" {
		return NewValidationError("room_type_id", "is required")
	}
	if p.CheckInDate.IsZero() || p.CheckOutDate.IsZero() {
		return NewValidationError("check_in_date", "check-in and check-out dates are required")
	}
	if !p.CheckOutDate.After(p.CheckInDate) {
		return NewValidationError("check_out_date", "must be after check_in_date")
	}
	if p.NumRooms <= 0 {
		return NewValidationError("num_rooms", "must be greater than zero")
	}
	if p.NumGuests <= 0 {
		return NewValidationError("num_guests", "must be greater than zero")
	}
	if p.TotalPrice.IsNegative() {
		return NewValidationError("total_price", "cannot be negative")
	}
	if p.TotalPrice.IsZero() {
		return NewValidationError("total_price", "must be greater than zero to take a payment")
	}
	if len(p.Currency) != 3 {
		return NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if p.AttemptNonce == "" {
		return NewValidationError("attempt_nonce", "is required")
	}
	return nil
}

// NewBooking creates a Pending booking
func NewBooking(p NewBookingParams) (*Booking, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Booking{
		ID:              uuid.New().String(),
		GuestID:         p.GuestID,
		AccommodationID: p.AccommodationID,
		RoomTypeID:      p.RoomTypeID,
		CheckInDate:     p.CheckInDate.UTC(),
		CheckOutDate:    p.CheckOutDate.UTC(),
		NumRooms:        p.NumRooms,
		NumGuests:       p.NumGuests,
		TotalPrice:      p.TotalPrice,
		Currency:        p.Currency,
		Status:          BookingStatusPending,
		AttemptNonce:    p.AttemptNonce,
		AttemptKey:      IntentIdempotencyKey(p.GuestID, p.AccommodationID, p.CheckInDate, p.CheckOutDate, p.AttemptNonce),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Clone returns a copy safe to mutate
func (b *Booking) Clone() *Booking {
	c := *b
	return &c
}

// Nights returns the length of stay
func (b *Booking) Nights() int {
	return int(b.CheckOutDate.Sub(b.CheckInDate).Hours() / 24)
}

// BookingView is a booking joined with display fields from the catalog
type BookingView struct {
	*Booking
	AccommodationName    string `json:"accommodation_name,omitempty"`
	AccommodationAddress string `json:"accommodation_address,omitempty"`
	AccommodationImage   string `json:"accommodation_image,omitempty"`
	RoomTypeName         string `json:"room_type_name,omitempty"`
}

// CatalogEntry carries accommodation and room type display data
type CatalogEntry struct {
	AccommodationID      string
	AccommodationName    string
	AccommodationAddress string
	AccommodationImage   string
	RoomTypeID           string
	RoomTypeName         string
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() NewBookingParams {
	checkIn := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	return NewBookingParams{
		GuestID:         "guest-001",
		AccommodationID: "acc-001",
		RoomTypeID:      "room-deluxe",
		CheckInDate:     checkIn,
		CheckOutDate:    checkIn.AddDate(0, 0, 2),
		NumRooms:        1,
		NumGuests:       2,
		TotalPrice:      decimal.RequireFromString("250.00"),
		Currency:        "USD",
		AttemptNonce:    "nonce-1",
	}
}

func TestNewBooking(t *testing.T) {
	b, err := NewBooking(validParams())
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, BookingStatusPending, b.Status)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, 2, b.Nights())
	assert.Empty(t, b.PaymentRef)
	assert.NotEmpty(t, b.AttemptKey)
}

func TestNewBooking_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *NewBookingParams)
		field  string
	}{
		{"missing guest", func(p *NewBookingParams) { p.GuestID = "" }, "guest_id"},
		{"checkout equals checkin", func(p *NewBookingParams) { p.CheckOutDate = p.CheckInDate }, "check_out_date"},
		{"checkout before checkin", func(p *NewBookingParams) { p.CheckOutDate = p.CheckInDate.AddDate(0, 0, -1) }, "check_out_date"},
		{"zero rooms", func(p *NewBookingParams) { p.NumRooms = 0 }, "num_rooms"},
		{"zero guests", func(p *NewBookingParams) { p.NumGuests = 0 }, "num_guests"},
		{"negative price", func(p *NewBookingParams) { p.TotalPrice = decimal.NewFromInt(-1) }, "total_price"},
		{"zero price", func(p *NewBookingParams) { p.TotalPrice = decimal.Zero }, "total_price"},
		{"bad currency", func(p *NewBookingParams) { p.Currency = "US" }, "currency"},
		{"missing nonce", func(p *NewBookingParams) { p.AttemptNonce = "" }, "attempt_nonce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			_, err := NewBooking(p)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestIntentIdempotencyKey_Deterministic(t *testing.T) {
	p := validParams()

	k1 := IntentIdempotencyKey(p.GuestID, p.AccommodationID, p.CheckInDate, p.CheckOutDate, p.AttemptNonce)
	k2 := IntentIdempotencyKey(p.GuestID, p.AccommodationID, p.CheckInDate, p.CheckOutDate, p.AttemptNonce)
	k3 := IntentIdempotencyKey(p.GuestID, p.AccommodationID, p.CheckInDate, p.CheckOutDate, "nonce-2")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "intent_")
}

func TestErrorClassification(t *testing.T) {
	anomaly := &AnomalyError{Anomaly: NewAnomaly(AnomalyAmountMismatch, "b1", "pi_1", "amount differs")}

	assert.True(t, errors.Is(anomaly, ErrConsistencyAnomaly))
	assert.True(t, IsConflictError(&InvalidTransitionError{From: BookingStatusCancelled, Event: EventPaymentSucceeded}))
	assert.True(t, IsRetryable(ErrConcurrencyConflict))
	assert.False(t, IsRetryable(ErrPermanentGateway))
	assert.True(t, IsNotFoundError(ErrIntentNotFound))
}

func TestNotificationFor(t *testing.T) {
	tests := []struct {
		booking *Booking
		want    NotificationType
		ok      bool
	}{
		{&Booking{Status: BookingStatusConfirmed}, NotificationBookingConfirmed, true},
		{&Booking{Status: BookingStatusCancelled, StatusReason: ReasonPaymentFailed}, NotificationPaymentFailed, true},
		{&Booking{Status: BookingStatusCancelled, StatusReason: ReasonUserCancelled}, NotificationBookingCancelled, true},
		{&Booking{Status: BookingStatusCancellationPending}, NotificationCancellationPending, true},
		{&Booking{Status: BookingStatusPending}, "", false},
	}

	for _, tt := range tests {
		got, ok := NotificationFor(tt.booking)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ok, ok)
	}
}

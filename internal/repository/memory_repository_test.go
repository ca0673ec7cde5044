package repository

import (
	"context"
	"testing"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestBooking(guestID, nonce string) *domain.Booking {
	checkIn := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	b, err := domain.NewBooking(domain.NewBookingParams{
		GuestID:         guestID,
		AccommodationID: "acc-001",
		RoomTypeID:      "room-001",
		CheckInDate:     checkIn,
		CheckOutDate:    checkIn.AddDate(0, 0, 3),
		NumRooms:        1,
		NumGuests:       2,
		TotalPrice:      decimal.RequireFromString("250.00"),
		Currency:        "USD",
		AttemptNonce:    nonce,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func createTestIntent(bookingID string) *domain.PaymentIntent {
	now := time.Now().UTC()
	return &domain.PaymentIntent{
		ID:             "pi_" + uuid.New().String()[:8],
		BookingID:      bookingID,
		Amount:         decimal.RequireFromString("250.00"),
		Currency:       "USD",
		AmountRefunded: decimal.Zero,
		IdempotencyKey: "intent_" + uuid.New().String(),
		Status:         domain.IntentStatusCreated,
		Metadata:       map[string]string{domain.MetadataBookingID: bookingID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryBookingRepository_Create(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	b := createTestBooking("guest-1", "nonce-1")
	require.NoError(t, repo.Create(ctx, b))

	t.Run("same attempt key is rejected", func(t *testing.T) {
		dup := createTestBooking("guest-1", "nonce-1")
		assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrBookingAlreadyExists)
	})

	t.Run("found by attempt key", func(t *testing.T) {
		got, err := repo.GetByAttemptKey(ctx, b.AttemptKey)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	})

	t.Run("returns copies", func(t *testing.T) {
		got, err := repo.GetByID(ctx, b.ID)
		require.NoError(t, err)
		got.Status = domain.BookingStatusCancelled

		again, err := repo.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusPending, again.Status)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})
}

func TestMemoryBookingRepository_UpdateVersionCheck(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	b := createTestBooking("guest-1", "nonce-1")
	require.NoError(t, repo.Create(ctx, b))

	first, _ := repo.GetByID(ctx, b.ID)
	second, _ := repo.GetByID(ctx, b.ID)

	first.Status = domain.BookingStatusConfirmed
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = domain.BookingStatusCancelled
	assert.ErrorIs(t, repo.Update(ctx, second), domain.ErrConcurrencyConflict)

	stored, _ := repo.GetByID(ctx, b.ID)
	assert.Equal(t, domain.BookingStatusConfirmed, stored.Status)
}

func TestMemoryBookingRepository_ListStale(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	old := createTestBooking("guest-1", "old")
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	fresh := createTestBooking("guest-1", "fresh")
	confirmed := createTestBooking("guest-1", "confirmed")
	confirmed.Status = domain.BookingStatusConfirmed
	confirmed.UpdatedAt = time.Now().Add(-2 * time.Hour)

	for _, b := range []*domain.Booking{old, fresh, confirmed} {
		require.NoError(t, repo.Create(ctx, b))
	}

	stale, err := repo.ListStale(ctx, domain.BookingStatusPending, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestMemoryBookingRepository_ListByGuest(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b := createTestBooking("guest-1", uuid.New().String())
		b.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, b))
	}
	require.NoError(t, repo.Create(ctx, createTestBooking("guest-2", "other")))

	page, total, err := repo.ListByGuest(ctx, "guest-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	page, _, err = repo.ListByGuest(ctx, "guest-1", 10, 4)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, _, err = repo.ListByGuest(ctx, "guest-1", 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryIntentRepository_ActivateIntent(t *testing.T) {
	repo := NewMemoryIntentRepository()
	ctx := context.Background()

	first := createTestIntent("booking-1")
	require.NoError(t, repo.ActivateIntent(ctx, first))

	second := createTestIntent("booking-1")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.ActivateIntent(ctx, second))

	intents, err := repo.ListIntentsByBooking(ctx, "booking-1")
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.True(t, intents[0].Superseded)
	assert.False(t, intents[1].Superseded)

	active := 0
	for _, i := range intents {
		if !i.Superseded {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestMemoryIntentRepository_SaveIntentKeepsAmount(t *testing.T) {
	repo := NewMemoryIntentRepository()
	ctx := context.Background()

	intent := createTestIntent("booking-1")
	require.NoError(t, repo.SaveIntent(ctx, intent))

	update := intent.Clone()
	update.Amount = decimal.RequireFromString("999.00")
	update.Status = domain.IntentStatusSucceeded
	require.NoError(t, repo.SaveIntent(ctx, update))

	got, err := repo.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, got.Status)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("250.00")))
}

func TestMemoryWebhookEventStore_Claim(t *testing.T) {
	store := NewMemoryWebhookEventStore()
	ctx := context.Background()

	ev := &domain.WebhookEvent{Provider: "stripe", EventID: "evt_1", EventType: "payment_intent.succeeded"}

	require.NoError(t, store.Claim(ctx, ev))

	// failed processing can be retried on redelivery
	require.NoError(t, store.MarkFailed(ctx, "stripe", "evt_1", "booking store unavailable"))
	require.NoError(t, store.Claim(ctx, ev))

	require.NoError(t, store.MarkProcessed(ctx, "stripe", "evt_1"))
	assert.ErrorIs(t, store.Claim(ctx, ev), domain.ErrDuplicateEvent)

	other := &domain.WebhookEvent{Provider: "mock", EventID: "evt_1"}
	assert.NoError(t, store.Claim(ctx, other))
}

func TestMemoryCatalogReader(t *testing.T) {
	reader := NewMemoryCatalogReader()
	reader.Put(&domain.CatalogEntry{
		AccommodationID:   "acc-001",
		AccommodationName: "Seaside Inn",
		RoomTypeID:        "room-001",
		RoomTypeName:      "Deluxe",
	})

	entry, err := reader.Lookup(context.Background(), "acc-001", "room-001")
	require.NoError(t, err)
	assert.Equal(t, "Seaside Inn", entry.AccommodationName)

	entry, err = reader.Lookup(context.Background(), "acc-404", "room-001")
	require.NoError(t, err)
	assert.Empty(t, entry.AccommodationName)
}

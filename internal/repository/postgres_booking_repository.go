package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const bookingColumns = `
	id, guest_id, accommodation_id, room_type_id, check_in_date, check_out_date,
	num_rooms, num_guests, total_price::text, currency, status, status_reason,
	payment_ref, attempt_nonce, attempt_key, version, created_at, updated_at
`

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	db *database.PostgresDB
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(db *database.PostgresDB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// Create creates a new booking record in the database
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("guest_id", booking.GuestID),
	)

	query := `
		INSERT INTO bookings (
			id, guest_id, accommodation_id, room_type_id, check_in_date, check_out_date,
			num_rooms, num_guests, total_price, currency, status, status_reason,
			payment_ref, attempt_nonce, attempt_key, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9::numeric, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		booking.ID,
		booking.GuestID,
		booking.AccommodationID,
		booking.RoomTypeID,
		booking.CheckInDate,
		booking.CheckOutDate,
		booking.NumRooms,
		booking.NumGuests,
		booking.TotalPrice.String(),
		booking.Currency,
		string(booking.Status),
		nullString(booking.StatusReason),
		nullString(booking.PaymentRef),
		booking.AttemptNonce,
		booking.AttemptKey,
		booking.Version,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			span.SetStatus(codes.Error, "already exists")
			return domain.ErrBookingAlreadyExists
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to create booking: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a booking by its ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetByAttemptKey retrieves the booking created for a payment attempt
func (r *PostgresBookingRepository) GetByAttemptKey(ctx context.Context, attemptKey string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_attempt_key")
	defer span.End()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE attempt_key = $1`

	booking, err := scanBooking(r.db.Pool().QueryRow(ctx, query, attemptKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get booking by attempt key: %w", err)
	}
	return booking, nil
}

// Update writes the booking with an optimistic version check
func (r *PostgresBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("status", string(booking.Status)),
		attribute.Int64("version", booking.Version),
	)

	query := `
		UPDATE bookings SET
			status = $3,
			status_reason = $4,
			payment_ref = $5,
			attempt_nonce = $6,
			attempt_key = $7,
			version = version + 1,
			updated_at = $8
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.Pool().Exec(ctx, query,
		booking.ID,
		booking.Version,
		string(booking.Status),
		nullString(booking.StatusReason),
		nullString(booking.PaymentRef),
		booking.AttemptNonce,
		booking.AttemptKey,
		booking.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrBookingAlreadyExists
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update booking: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, booking.ID); err != nil {
			return err
		}
		span.SetStatus(codes.Error, "version conflict")
		return domain.ErrConcurrencyConflict
	}

	booking.Version++
	span.SetStatus(codes.Ok, "")
	return nil
}

// ListByGuest retrieves a guest's bookings with pagination
func (r *PostgresBookingRepository) ListByGuest(ctx context.Context, guestID string, limit, offset int) ([]*domain.Booking, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_guest")
	defer span.End()

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE guest_id = $1`, guestID).Scan(&total); err != nil {
		telemetry.RecordError(span, err)
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE guest_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool().Query(ctx, query, guestID, limit, offset)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// ListStale returns bookings stuck in a status since before olderThan
func (r *PostgresBookingRepository) ListStale(ctx context.Context, status domain.BookingStatus, olderThan time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_stale")
	defer span.End()

	span.SetAttributes(
		attribute.String("status", string(status)),
		attribute.Int("limit", limit),
	)

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Pool().Query(ctx, query, string(status), olderThan, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	defer rows.Close()

	return scanBookings(rows)
}

// ListCheckedOut returns Confirmed bookings whose stay ended before before
func (r *PostgresBookingRepository) ListCheckedOut(ctx context.Context, before time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_checked_out")
	defer span.End()

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND check_out_date < $2
		ORDER BY check_out_date ASC
		LIMIT $3`

	rows, err := r.db.Pool().Query(ctx, query, string(domain.BookingStatusConfirmed), before, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list checked-out bookings: %w", err)
	}
	defer rows.Close()

	return scanBookings(rows)
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var (
		totalPrice   string
		status       string
		statusReason *string
		paymentRef   *string
	)

	err := row.Scan(
		&b.ID,
		&b.GuestID,
		&b.AccommodationID,
		&b.RoomTypeID,
		&b.CheckInDate,
		&b.CheckOutDate,
		&b.NumRooms,
		&b.NumGuests,
		&totalPrice,
		&b.Currency,
		&status,
		&statusReason,
		&paymentRef,
		&b.AttemptNonce,
		&b.AttemptKey,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(totalPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid total_price %q: %w", totalPrice, err)
	}
	b.TotalPrice = price
	b.Status = domain.BookingStatus(status)
	b.StatusReason = derefString(statusReason)
	b.PaymentRef = derefString(paymentRef)
	return b, nil
}

func scanBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/gateway"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/ledger"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/notify"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/repository"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/retry"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Transition sources, recorded on metrics and logs
const (
	sourceInitiate  = "initiate"
	sourceSupersede = "supersede"
	sourceConfirm   = "confirm"
	sourceCancel    = "cancel"
	sourceWebhook   = "webhook"
	sourceSweep     = "sweep"
	sourceSystem    = "system"
)

// ReconciliationService keeps bookings consistent with their payments at the gateway
type ReconciliationService interface {
	// InitiateBooking persists a Pending booking and creates its payment intent
	InitiateBooking(ctx context.Context, principal domain.Principal, req *InitiateBookingRequest) (*InitiateBookingResult, error)

	// CreateIntentForBooking returns a usable intent for a Pending booking,
	// superseding a failed one
	CreateIntentForBooking(ctx context.Context, principal domain.Principal, req *CreateIntentRequest) (*IntentResult, error)

	// ConfirmBooking applies the authoritative gateway status of an intent to its booking
	ConfirmBooking(ctx context.Context, principal domain.Principal, bookingID, paymentIntentID string) (*domain.Booking, error)

	// ConfirmPayment is ConfirmBooking addressed by payment intent id
	ConfirmPayment(ctx context.Context, principal domain.Principal, paymentIntentID string) (*PaymentStatusResult, error)

	// PaymentStatus returns the gateway status of an intent without changing the booking
	PaymentStatus(ctx context.Context, principal domain.Principal, paymentIntentID string) (*PaymentStatusResult, error)

	// CancelBooking cancels a booking, refunding a captured payment first
	CancelBooking(ctx context.Context, principal domain.Principal, bookingID, reason string) (*domain.Booking, error)

	// CompleteStay moves a Confirmed booking whose stay has ended to Completed
	CompleteStay(ctx context.Context, bookingID string) (*domain.Booking, error)

	// ApplyGatewayEvent applies a verified gateway callback
	ApplyGatewayEvent(ctx context.Context, event *domain.ReconciliationEvent) (*domain.Booking, error)

	// ReconcileTimeouts sweeps stale Pending and CancellationPending bookings
	ReconcileTimeouts(ctx context.Context) (*SweepResult, error)

	// GetBooking returns one of the caller's bookings with display fields
	GetBooking(ctx context.Context, principal domain.Principal, bookingID string) (*domain.BookingView, error)

	// ListMyBookings returns the caller's bookings, newest first
	ListMyBookings(ctx context.Context, principal domain.Principal, page, pageSize int) ([]*domain.BookingView, int, error)
}

// InitiateBookingRequest is a guest's request to book and pay
type InitiateBookingRequest struct {
	AccommodationID string
	RoomTypeID      string
	CheckInDate     time.Time
	CheckOutDate    time.Time
	NumRooms        int
	NumGuests       int
	TotalPrice      decimal.Decimal
	Currency        string

	// AttemptNonce identifies the payment attempt. Requests repeating it
	// resolve to the same booking and intent. Empty means a new attempt.
	AttemptNonce string
}

// InitiateBookingResult is returned by InitiateBooking
type InitiateBookingResult struct {
	Booking         *domain.Booking
	ClientSecret    string
	PaymentIntentID string
	Replayed        bool
}

// CreateIntentRequest asks for a payment intent for an existing booking
type CreateIntentRequest struct {
	BookingID string
	Amount    decimal.Decimal
	Currency  string
}

// IntentResult describes the active intent of a booking
type IntentResult struct {
	BookingID       string
	PaymentIntentID string
	ClientSecret    string
	Status          domain.IntentStatus
}

// PaymentStatusResult pairs an intent's gateway status with its booking
type PaymentStatusResult struct {
	PaymentIntentID string
	BookingID       string
	Status          domain.IntentStatus
	BookingStatus   domain.BookingStatus
	Amount          decimal.Decimal
	Currency        string
}

// SweepResult counts what one ReconcileTimeouts run did
type SweepResult struct {
	Scanned   int
	Confirmed int
	Cancelled int
	Completed int
	Failed    int
}

// Advanced returns how many bookings changed state
func (r *SweepResult) Advanced() int {
	return r.Confirmed + r.Cancelled + r.Completed
}

func (r *SweepResult) record(prev, next *domain.Booking) {
	if next == nil || next.Status == prev.Status {
		return
	}
	switch next.Status {
	case domain.BookingStatusConfirmed:
		r.Confirmed++
	case domain.BookingStatusCancelled:
		r.Cancelled++
	case domain.BookingStatusCompleted:
		r.Completed++
	}
}

// ReconciliationServiceConfig contains configuration for the reconciliation service
type ReconciliationServiceConfig struct {
	// GraceWindow is how long a Pending booking waits for its payment
	// before the sweep resolves it
	GraceWindow time.Duration

	BatchSize          int
	MaxConflictRetries int
	DefaultCurrency    string

	// Clock overrides time.Now
	Clock func() time.Time
}

// ReconciliationDeps are the collaborators of the reconciliation service.
// Notifier, AnomalyReporter, Anomalies and Catalog are optional.
type ReconciliationDeps struct {
	Bookings        repository.BookingRepository
	Intents         repository.IntentRepository
	Anomalies       repository.AnomalyStore
	Catalog         repository.CatalogReader
	Gateway         gateway.PaymentGateway
	Ledger          *ledger.Ledger
	Notifier        notify.Notifier
	AnomalyReporter notify.AnomalyReporter
}

// reconciliationService implements ReconciliationService
type reconciliationService struct {
	bookingRepo   repository.BookingRepository
	intentRepo    repository.IntentRepository
	anomalyStore  repository.AnomalyStore
	catalog       repository.CatalogReader
	gateway       gateway.PaymentGateway
	ledger        *ledger.Ledger
	notifier      notify.Notifier
	reporter      notify.AnomalyReporter
	conflictRetry *retry.Config
	graceWindow   time.Duration
	batchSize     int
	currency      string
	now           func() time.Time
	log           *logger.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(deps ReconciliationDeps, cfg *ReconciliationServiceConfig) ReconciliationService {
	graceWindow := 30 * time.Minute
	batchSize := 100
	maxRetries := 3
	currency := "USD"
	clock := time.Now
	if cfg != nil {
		if cfg.GraceWindow > 0 {
			graceWindow = cfg.GraceWindow
		}
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		if cfg.MaxConflictRetries > 0 {
			maxRetries = cfg.MaxConflictRetries
		}
		if cfg.DefaultCurrency != "" {
			currency = strings.ToUpper(cfg.DefaultCurrency)
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
	}

	log := logger.Get()
	// Fall back to log-only delivery
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogPublisher(log)
	}
	if deps.AnomalyReporter == nil {
		deps.AnomalyReporter = notify.NewLogPublisher(log)
	}
	if deps.Anomalies == nil {
		deps.Anomalies = repository.NewMemoryAnomalyStore()
	}
	if deps.Catalog == nil {
		deps.Catalog = repository.NewMemoryCatalogReader()
	}

	return &reconciliationService{
		bookingRepo:  deps.Bookings,
		intentRepo:   deps.Intents,
		anomalyStore: deps.Anomalies,
		catalog:      deps.Catalog,
		gateway:      deps.Gateway,
		ledger:       deps.Ledger,
		notifier:     deps.Notifier,
		reporter:     deps.AnomalyReporter,
		conflictRetry: &retry.Config{
			MaxRetries:      maxRetries,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			Multiplier:      2.0,
			JitterFactor:    0.2,
			RetryIf: func(err error) bool {
				return errors.Is(err, domain.ErrConcurrencyConflict)
			},
		},
		graceWindow: graceWindow,
		batchSize:   batchSize,
		currency:    currency,
		now:         clock,
		log:         log,
	}
}

// InitiateBooking persists a Pending booking and creates its payment intent
func (s *reconciliationService) InitiateBooking(ctx context.Context, principal domain.Principal, req *InitiateBookingRequest) (*InitiateBookingResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.initiate_booking")
	defer span.End()

	if req == nil {
		span.SetStatus(codes.Error, "missing request")
		return nil, domain.NewValidationError("", "booking request is required")
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}
	nonce := req.AttemptNonce
	if nonce == "" {
		nonce = uuid.New().String()
	}

	b, err := domain.NewBooking(domain.NewBookingParams{
		GuestID:         principal.UserID,
		AccommodationID: req.AccommodationID,
		RoomTypeID:      req.RoomTypeID,
		CheckInDate:     req.CheckInDate,
		CheckOutDate:    req.CheckOutDate,
		NumRooms:        req.NumRooms,
		NumGuests:       req.NumGuests,
		TotalPrice:      req.TotalPrice,
		Currency:        currency,
		AttemptNonce:    nonce,
	})
	if err != nil {
		span.SetStatus(codes.Error, "invalid booking request")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("guest_id", principal.UserID),
		attribute.String("accommodation_id", req.AccommodationID),
		attribute.String("total_price", b.TotalPrice.String()),
		attribute.String("currency", currency),
	)

	bookingReplayed := false
	if err := s.bookingRepo.Create(ctx, b); err != nil {
		if !errors.Is(err, domain.ErrBookingAlreadyExists) {
			telemetry.RecordError(span, err)
			return nil, err
		}
		// A repeated request for the same attempt
		existing, err := s.bookingRepo.GetByAttemptKey(ctx, b.AttemptKey)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		b = existing
		bookingReplayed = true
	} else {
		metrics.RecordBookingInitiated(ctx, b.Currency)
		s.log.Info("booking initiated",
			zap.String("booking_id", b.ID),
			zap.String("guest_id", b.GuestID),
			zap.String("total_price", b.TotalPrice.String()),
			zap.String("currency", b.Currency),
		)
	}
	span.SetAttributes(attribute.String("booking_id", b.ID))

	if b.Status != domain.BookingStatusPending {
		return &InitiateBookingResult{
			Booking:         b,
			PaymentIntentID: b.PaymentRef,
			Replayed:        true,
		}, nil
	}

	intent, replayed, err := s.startAttempt(ctx, b, sourceInitiate)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	return &InitiateBookingResult{
		Booking:         intent.booking,
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Replayed:        replayed || bookingReplayed,
	}, nil
}

// linkedIntent is a gateway intent together with the booking it is linked to
type linkedIntent struct {
	*gateway.Intent
	booking *domain.Booking
}

// startAttempt creates the intent for the booking's current attempt key,
// records it as the active intent and links it to the booking. A permanent
// gateway failure cancels the booking; a transient one leaves it Pending so
// a retry with the same key resolves it.
func (s *reconciliationService) startAttempt(ctx context.Context, b *domain.Booking, source string) (*linkedIntent, bool, error) {
	intent, replayed, err := s.createIntent(ctx, b)
	if err != nil {
		if domain.IsRetryable(err) {
			return nil, false, err
		}
		s.log.Warn("payment intent rejected, cancelling booking",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
		if _, cancelErr := s.transition(ctx, b.ID, source, whilePending(domain.EventPaymentFailed, domain.ReasonPaymentFailed)); cancelErr != nil {
			s.log.Error("failed to cancel booking after rejected payment",
				zap.String("booking_id", b.ID),
				zap.Error(cancelErr),
			)
		}
		return nil, false, err
	}

	if err := s.checkIntent(ctx, b, intent); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	err = s.intentRepo.ActivateIntent(ctx, &domain.PaymentIntent{
		ID:             intent.ID,
		BookingID:      b.ID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		AmountRefunded: intent.AmountRefunded,
		IdempotencyKey: b.AttemptKey,
		Status:         intent.Status,
		ClientSecret:   intent.ClientSecret,
		Metadata:       intent.Metadata,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record payment intent: %w", err)
	}

	linked, err := s.modify(ctx, b.ID, source, func(cur *domain.Booking) (*domain.Booking, error) {
		if cur.PaymentRef == intent.ID {
			return nil, nil
		}
		next := cur.Clone()
		next.PaymentRef = intent.ID
		next.UpdatedAt = s.now().UTC()
		return next, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to link payment intent: %w", err)
	}

	return &linkedIntent{Intent: intent, booking: linked}, replayed, nil
}

// CreateIntentForBooking returns a usable intent for a Pending booking
func (s *reconciliationService) CreateIntentForBooking(ctx context.Context, principal domain.Principal, req *CreateIntentRequest) (*IntentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.create_intent")
	defer span.End()

	if req == nil {
		return nil, domain.NewValidationError("", "intent request is required")
	}
	span.SetAttributes(attribute.String("booking_id", req.BookingID))

	b, err := s.loadOwned(ctx, principal, req.BookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if b.Status != domain.BookingStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if !req.Amount.Equal(b.TotalPrice) {
		return nil, domain.NewValidationError("amount", "does not match the booking total")
	}
	if !strings.EqualFold(req.Currency, b.Currency) {
		return nil, domain.NewValidationError("currency", "does not match the booking currency")
	}

	if b.PaymentRef != "" {
		current, err := s.retrieveIntent(ctx, b.PaymentRef)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		switch current.Status {
		case domain.IntentStatusCreated, domain.IntentStatusRequiresAction, domain.IntentStatusSucceeded:
			return s.intentResult(ctx, b.ID, current), nil
		case domain.IntentStatusFailed:
			b, err = s.newAttempt(ctx, b)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: active payment intent is %s", domain.ErrInvalidTransition, current.Status)
		}
	}

	intent, _, err := s.startAttempt(ctx, b, sourceSupersede)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return s.intentResult(ctx, b.ID, intent.Intent), nil
}

// newAttempt gives the booking a fresh attempt nonce so the next intent gets
// a new idempotency key
func (s *reconciliationService) newAttempt(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	staleKey := b.AttemptKey
	next, err := s.modify(ctx, b.ID, sourceSupersede, func(cur *domain.Booking) (*domain.Booking, error) {
		if cur.Status != domain.BookingStatusPending {
			return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, cur.Status)
		}
		if cur.AttemptKey != staleKey {
			// a concurrent request already started a new attempt
			return nil, nil
		}
		next := cur.Clone()
		next.AttemptNonce = uuid.New().String()
		next.AttemptKey = domain.IntentIdempotencyKey(next.GuestID, next.AccommodationID, next.CheckInDate, next.CheckOutDate, next.AttemptNonce)
		next.UpdatedAt = s.now().UTC()
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("superseding failed payment intent",
		zap.String("booking_id", b.ID),
		zap.String("payment_intent_id", b.PaymentRef),
	)
	return next, nil
}

func (s *reconciliationService) intentResult(ctx context.Context, bookingID string, intent *gateway.Intent) *IntentResult {
	secret := intent.ClientSecret
	if secret == "" {
		if local, err := s.intentRepo.GetIntent(ctx, intent.ID); err == nil {
			secret = local.ClientSecret
		}
	}
	return &IntentResult{
		BookingID:       bookingID,
		PaymentIntentID: intent.ID,
		ClientSecret:    secret,
		Status:          intent.Status,
	}
}

// ConfirmBooking applies the authoritative gateway status of an intent
func (s *reconciliationService) ConfirmBooking(ctx context.Context, principal domain.Principal, bookingID, paymentIntentID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.confirm_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("payment_intent_id", paymentIntentID),
	)

	b, err := s.loadOwned(ctx, principal, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	next, _, err := s.confirm(ctx, b, paymentIntentID, sourceConfirm)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return next, nil
}

// ConfirmPayment looks up the booking owning the intent and confirms it
func (s *reconciliationService) ConfirmPayment(ctx context.Context, principal domain.Principal, paymentIntentID string) (*PaymentStatusResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.confirm_payment")
	defer span.End()

	span.SetAttributes(attribute.String("payment_intent_id", paymentIntentID))

	b, err := s.loadByIntent(ctx, principal, paymentIntentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	next, intent, err := s.confirm(ctx, b, paymentIntentID, sourceConfirm)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return statusResult(next, intent), nil
}

// PaymentStatus returns the gateway status of an intent
func (s *reconciliationService) PaymentStatus(ctx context.Context, principal domain.Principal, paymentIntentID string) (*PaymentStatusResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.payment_status")
	defer span.End()

	span.SetAttributes(attribute.String("payment_intent_id", paymentIntentID))

	b, err := s.loadByIntent(ctx, principal, paymentIntentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	intent, err := s.retrieveIntent(ctx, paymentIntentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.syncIntent(ctx, intent)
	return statusResult(b, intent), nil
}

func statusResult(b *domain.Booking, intent *gateway.Intent) *PaymentStatusResult {
	return &PaymentStatusResult{
		PaymentIntentID: intent.ID,
		BookingID:       b.ID,
		Status:          intent.Status,
		BookingStatus:   b.Status,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
	}
}

// confirm retrieves the intent and reconciles the booking with it
func (s *reconciliationService) confirm(ctx context.Context, b *domain.Booking, paymentIntentID, source string) (*domain.Booking, *gateway.Intent, error) {
	if paymentIntentID == "" {
		paymentIntentID = b.PaymentRef
	}
	if paymentIntentID == "" {
		return nil, nil, domain.NewValidationError("payment_intent_id", "booking has no payment intent yet")
	}

	intent, err := s.retrieveIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, nil, err
	}

	next, err := s.reconcileIntent(ctx, b, intent, source)
	if err != nil {
		return nil, nil, err
	}
	return next, intent, nil
}

// CancelBooking cancels a booking, refunding a captured payment first
func (s *reconciliationService) CancelBooking(ctx context.Context, principal domain.Principal, bookingID, reason string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.cancel_booking")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := s.loadOwned(ctx, principal, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if reason == "" {
		reason = domain.ReasonUserCancelled
	}

	next, err := s.cancel(ctx, b, reason, sourceCancel)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return next, nil
}

func (s *reconciliationService) cancel(ctx context.Context, b *domain.Booking, reason, source string) (*domain.Booking, error) {
	switch b.Status {
	case domain.BookingStatusCancelled:
		return b, nil
	case domain.BookingStatusCompleted:
		return nil, &domain.InvalidTransitionError{From: b.Status, Event: domain.EventUserCancelled}
	case domain.BookingStatusPending:
		if b.PaymentRef != "" {
			intent, err := s.retrieveIntent(ctx, b.PaymentRef)
			if err != nil {
				return nil, err
			}
			if intent, err = s.abandonIntent(ctx, intent); err != nil {
				return nil, err
			}
			if intent.Status.HasCaptured() {
				// the payment went through before its callback arrived
				confirmed, err := s.reconcileIntent(ctx, b, intent, source)
				if err != nil {
					return nil, err
				}
				if confirmed.Status != domain.BookingStatusPending {
					return s.refundAndCancel(ctx, confirmed, reason, source)
				}
			}
		}
		return s.transition(ctx, b.ID, source, always(domain.EventUserCancelled, reason))
	default:
		return s.refundAndCancel(ctx, b, reason, source)
	}
}

// refundAndCancel refunds the active intent and cancels the booking. A
// transient refund failure parks the booking in CancellationPending.
func (s *reconciliationService) refundAndCancel(ctx context.Context, b *domain.Booking, reason, source string) (*domain.Booking, error) {
	switch b.Status {
	case domain.BookingStatusCancelled:
		return b, nil
	case domain.BookingStatusConfirmed, domain.BookingStatusCancellationPending:
	default:
		return nil, &domain.InvalidTransitionError{From: b.Status, Event: domain.EventRefundIssued}
	}

	intentID := b.PaymentRef
	if intentID == "" {
		return nil, s.recordAnomaly(ctx, domain.AnomalyRefundFailed, b.ID, "", "booking has no payment intent to refund")
	}

	refund, err := s.refund(ctx, intentID)
	if err != nil {
		if domain.IsRetryable(err) {
			metrics.RecordRefund(ctx, "pending")
			pending, terr := s.transition(ctx, b.ID, source, always(domain.EventRefundPending, domain.ReasonRefundPending))
			if terr != nil {
				s.log.Error("failed to mark cancellation pending",
					zap.String("booking_id", b.ID),
					zap.Error(terr),
				)
			} else if b.Status != domain.BookingStatusCancellationPending && pending.Status == domain.BookingStatusCancellationPending {
				_ = s.recordAnomaly(ctx, domain.AnomalyCancellationPending, b.ID, intentID, "refund not acknowledged: "+err.Error())
			}
			return nil, fmt.Errorf("booking %s is cancellation pending: %w", b.ID, err)
		}

		// the intent may have been refunded outside this path
		current, rerr := s.retrieveIntent(ctx, intentID)
		if rerr != nil || current.Status != domain.IntentStatusRefunded {
			metrics.RecordRefund(ctx, "failed")
			_ = s.recordAnomaly(ctx, domain.AnomalyRefundFailed, b.ID, intentID, err.Error())
			return nil, err
		}
		refund = &gateway.RefundResult{IntentID: intentID, Status: gateway.RefundStatusSucceeded}
	}

	if refund.Status != gateway.RefundStatusSucceeded {
		// completion arrives with the refund callback or the next sweep
		metrics.RecordRefund(ctx, string(refund.Status))
		pending, err := s.transition(ctx, b.ID, source, always(domain.EventRefundPending, domain.ReasonRefundPending))
		if err != nil {
			return nil, err
		}
		if b.Status != domain.BookingStatusCancellationPending && pending.Status == domain.BookingStatusCancellationPending {
			_ = s.recordAnomaly(ctx, domain.AnomalyCancellationPending, b.ID, intentID,
				fmt.Sprintf("refund %s is %s at the gateway", refund.ID, refund.Status))
		}
		return pending, nil
	}

	metrics.RecordRefund(ctx, "succeeded")
	s.markRefunded(ctx, intentID)
	return s.transition(ctx, b.ID, source, always(domain.EventRefundIssued, reason))
}

// CompleteStay moves a Confirmed booking whose stay has ended to Completed
func (s *reconciliationService) CompleteStay(ctx context.Context, bookingID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.complete_stay")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if s.now().Before(b.CheckOutDate) {
		return nil, domain.NewValidationError("check_out_date", "stay has not ended yet")
	}

	next, err := s.transition(ctx, b.ID, sourceSystem, always(domain.EventStayCompleted, domain.ReasonStayCompleted))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return next, nil
}

// ApplyGatewayEvent applies a verified gateway callback. The event only
// names the intent; its state is re-read from the gateway before use.
func (s *reconciliationService) ApplyGatewayEvent(ctx context.Context, event *domain.ReconciliationEvent) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.apply_gateway_event")
	defer span.End()

	if event == nil || event.PaymentIntentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("event_kind", string(event.Kind)),
		attribute.String("payment_intent_id", event.PaymentIntentID),
	)

	bookingID := event.BookingID
	local, err := s.intentRepo.GetIntent(ctx, event.PaymentIntentID)
	switch {
	case err == nil:
		bookingID = local.BookingID
	case !domain.IsNotFoundError(err):
		telemetry.RecordError(span, err)
		return nil, err
	}

	if bookingID == "" {
		return nil, s.recordAnomaly(ctx, domain.AnomalyUnknownIntent, "", event.PaymentIntentID,
			fmt.Sprintf("%s event %s (%s) for an intent with no booking", event.Provider, event.EventID, event.Kind))
	}

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, s.recordAnomaly(ctx, domain.AnomalyUnknownBooking, bookingID, event.PaymentIntentID,
				fmt.Sprintf("%s event %s (%s) for an unknown booking", event.Provider, event.EventID, event.Kind))
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	intent, err := s.retrieveIntent(ctx, event.PaymentIntentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if expected := expectedIntentStatus(event.Kind); expected != "" && expected != intent.Status {
		s.log.Info("gateway event is behind the intent state",
			zap.String("event_id", event.EventID),
			zap.String("event_kind", string(event.Kind)),
			zap.String("intent_status", string(intent.Status)),
		)
	}

	next, err := s.reconcileIntent(ctx, b, intent, sourceWebhook)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return next, nil
}

func expectedIntentStatus(kind domain.GatewayEventKind) domain.IntentStatus {
	switch kind {
	case domain.GatewayEventPaymentSucceeded:
		return domain.IntentStatusSucceeded
	case domain.GatewayEventPaymentFailed, domain.GatewayEventPaymentCanceled:
		return domain.IntentStatusFailed
	case domain.GatewayEventRequiresAction:
		return domain.IntentStatusRequiresAction
	case domain.GatewayEventRefunded:
		return domain.IntentStatusRefunded
	}
	return ""
}

// GetBooking returns one of the caller's bookings with display fields
func (s *reconciliationService) GetBooking(ctx context.Context, principal domain.Principal, bookingID string) (*domain.BookingView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.get_booking")
	defer span.End()

	b, err := s.loadOwned(ctx, principal, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return s.view(ctx, b), nil
}

// ListMyBookings returns the caller's bookings, newest first
func (s *reconciliationService) ListMyBookings(ctx context.Context, principal domain.Principal, page, pageSize int) ([]*domain.BookingView, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.list_my_bookings")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	span.SetAttributes(
		attribute.String("guest_id", principal.UserID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	bookings, total, err := s.bookingRepo.ListByGuest(ctx, principal.UserID, pageSize, (page-1)*pageSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, 0, err
	}

	views := make([]*domain.BookingView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, s.view(ctx, b))
	}
	return views, total, nil
}

func (s *reconciliationService) view(ctx context.Context, b *domain.Booking) *domain.BookingView {
	v := &domain.BookingView{Booking: b}
	entry, err := s.catalog.Lookup(ctx, b.AccommodationID, b.RoomTypeID)
	if err != nil {
		s.log.Warn("failed to load catalog entry",
			zap.String("booking_id", b.ID),
			zap.String("accommodation_id", b.AccommodationID),
			zap.Error(err),
		)
		return v
	}
	v.AccommodationName = entry.AccommodationName
	v.AccommodationAddress = entry.AccommodationAddress
	v.AccommodationImage = entry.AccommodationImage
	v.RoomTypeName = entry.RoomTypeName
	return v
}

func (s *reconciliationService) loadOwned(ctx context.Context, principal domain.Principal, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, domain.NewValidationError("booking_id", "is required")
	}
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.GuestID != principal.UserID {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

func (s *reconciliationService) loadByIntent(ctx context.Context, principal domain.Principal, paymentIntentID string) (*domain.Booking, error) {
	if paymentIntentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	local, err := s.intentRepo.GetIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	return s.loadOwned(ctx, principal, local.BookingID)
}

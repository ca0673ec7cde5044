package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/gateway"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/retry"
	"go.uber.org/zap"
)

// decideFunc picks the event to apply to the current booking, if any
type decideFunc func(cur *domain.Booking) (domain.Event, bool)

func always(kind domain.EventKind, reason string) decideFunc {
	return func(*domain.Booking) (domain.Event, bool) {
		return domain.Event{Kind: kind, Reason: reason}, true
	}
}

func whilePending(kind domain.EventKind, reason string) decideFunc {
	return func(cur *domain.Booking) (domain.Event, bool) {
		return domain.Event{Kind: kind, Reason: reason}, cur.Status == domain.BookingStatusPending
	}
}

// modify re-reads the booking, lets fn derive the new version and writes it
// with a version check. Conflicts are retried on fresh state. fn returning
// nil means there is nothing to write.
func (s *reconciliationService) modify(ctx context.Context, bookingID, source string, fn func(cur *domain.Booking) (*domain.Booking, error)) (*domain.Booking, error) {
	var result *domain.Booking
	res := retry.Do(ctx, s.conflictRetry, func(ctx context.Context) error {
		cur, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			result = cur
			return nil
		}
		if err := s.bookingRepo.Update(ctx, next); err != nil {
			return err
		}
		s.onTransition(ctx, cur, next, source)
		result = next
		return nil
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return result, nil
}

// transition applies the decided event through the state machine
func (s *reconciliationService) transition(ctx context.Context, bookingID, source string, decide decideFunc) (*domain.Booking, error) {
	return s.modify(ctx, bookingID, source, func(cur *domain.Booking) (*domain.Booking, error) {
		ev, apply := decide(cur)
		if !apply {
			return nil, nil
		}
		next, changed, err := domain.Transition(cur, ev)
		if err != nil || !changed {
			return nil, err
		}
		return next, nil
	})
}

func (s *reconciliationService) onTransition(ctx context.Context, prev, next *domain.Booking, source string) {
	if prev.Status == next.Status {
		return
	}

	metrics.RecordTransition(ctx, string(prev.Status), string(next.Status), source)
	s.log.Info("booking transitioned",
		zap.String("booking_id", next.ID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)),
		zap.String("reason", next.StatusReason),
		zap.String("source", source),
	)

	kind, ok := domain.NotificationFor(next)
	if !ok {
		return
	}
	n := &domain.Notification{
		Type:       kind,
		UserID:     next.GuestID,
		BookingID:  next.ID,
		Status:     next.Status,
		Reason:     next.StatusReason,
		OccurredAt: next.UpdatedAt,
	}
	// Notify asynchronously; a failed delivery never undoes the transition
	go func() {
		if err := s.notifier.Notify(context.Background(), n); err != nil {
			s.log.Warn("failed to send booking notification",
				zap.String("booking_id", n.BookingID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	}()
}

// reconcileIntent brings the booking in line with the authoritative state of
// one of its intents
func (s *reconciliationService) reconcileIntent(ctx context.Context, b *domain.Booking, intent *gateway.Intent, source string) (*domain.Booking, error) {
	if err := s.checkIntent(ctx, b, intent); err != nil {
		return nil, err
	}
	s.syncIntent(ctx, intent)

	if b.PaymentRef != "" && intent.ID != b.PaymentRef {
		if intent.Status == domain.IntentStatusSucceeded || intent.Status == domain.IntentStatusPartiallyRefunded {
			return nil, s.recordAnomaly(ctx, domain.AnomalySupersededCapture, b.ID, intent.ID,
				fmt.Sprintf("superseded intent is %s while %s is active", intent.Status, b.PaymentRef))
		}
		return b, nil
	}

	if intent.Status == domain.IntentStatusPartiallyRefunded {
		return nil, s.recordAnomaly(ctx, domain.AnomalyPartialRefund, b.ID, intent.ID,
			fmt.Sprintf("%s of %s %s refunded", intent.AmountRefunded, intent.Amount, intent.Currency))
	}

	ev, ok := eventForIntent(intent)
	if !ok {
		return b, nil
	}

	next, err := s.modify(ctx, b.ID, source, func(cur *domain.Booking) (*domain.Booking, error) {
		if cur.PaymentRef != "" && cur.PaymentRef != intent.ID {
			return nil, nil
		}
		next, changed, err := domain.Transition(cur, ev)
		if err != nil {
			return nil, err
		}
		if cur.PaymentRef == "" {
			next.PaymentRef = intent.ID
			changed = true
		}
		if !changed {
			return nil, nil
		}
		return next, nil
	})

	var transErr *domain.InvalidTransitionError
	if errors.As(err, &transErr) {
		return nil, s.recordAnomaly(ctx, domain.AnomalyInvalidTransition, b.ID, intent.ID,
			fmt.Sprintf("gateway reports %s: %s", intent.Status, transErr.Error()))
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func eventForIntent(intent *gateway.Intent) (domain.Event, bool) {
	switch intent.Status {
	case domain.IntentStatusSucceeded:
		return domain.Event{Kind: domain.EventPaymentSucceeded, Reason: domain.ReasonPaymentReceived}, true
	case domain.IntentStatusFailed:
		return domain.Event{Kind: domain.EventPaymentFailed, Reason: domain.ReasonPaymentFailed}, true
	case domain.IntentStatusRefunded:
		return domain.Event{Kind: domain.EventRefundIssued, Reason: domain.ReasonRefunded}, true
	}
	return domain.Event{}, false
}

// checkIntent verifies that the gateway intent belongs to the booking and
// charges its total
func (s *reconciliationService) checkIntent(ctx context.Context, b *domain.Booking, intent *gateway.Intent) error {
	if got := intent.BookingID(); got != b.ID {
		return s.recordAnomaly(ctx, domain.AnomalyMetadataMismatch, b.ID, intent.ID,
			fmt.Sprintf("intent metadata booking_id %q does not match the booking", got))
	}
	if !intent.Amount.Equal(b.TotalPrice) || !strings.EqualFold(intent.Currency, b.Currency) {
		return s.recordAnomaly(ctx, domain.AnomalyAmountMismatch, b.ID, intent.ID,
			fmt.Sprintf("intent charges %s %s, booking total is %s %s",
				intent.Amount, intent.Currency, b.TotalPrice, b.Currency))
	}
	return nil
}

// syncIntent copies the gateway status onto the local intent record
func (s *reconciliationService) syncIntent(ctx context.Context, intent *gateway.Intent) {
	local, err := s.intentRepo.GetIntent(ctx, intent.ID)
	if err != nil {
		if !domain.IsNotFoundError(err) {
			s.log.Warn("failed to load payment intent",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(err),
			)
		}
		return
	}
	if local.Status == intent.Status && local.AmountRefunded.Equal(intent.AmountRefunded) {
		return
	}

	local.Status = intent.Status
	local.AmountRefunded = intent.AmountRefunded
	local.UpdatedAt = s.now().UTC()
	if err := s.intentRepo.SaveIntent(ctx, local); err != nil {
		s.log.Warn("failed to update payment intent",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err),
		)
	}
}

func (s *reconciliationService) markRefunded(ctx context.Context, intentID string) {
	local, err := s.intentRepo.GetIntent(ctx, intentID)
	if err != nil {
		return
	}
	s.syncIntent(ctx, &gateway.Intent{
		ID:             intentID,
		Status:         domain.IntentStatusRefunded,
		AmountRefunded: local.Amount,
	})
}

// recordAnomaly files an anomaly for manual review and returns it as an error
func (s *reconciliationService) recordAnomaly(ctx context.Context, kind domain.AnomalyKind, bookingID, intentID, detail string) error {
	a := domain.NewAnomaly(kind, bookingID, intentID, detail)

	metrics.RecordAnomaly(ctx, string(kind))
	s.log.Warn("consistency anomaly",
		zap.String("anomaly_id", a.ID),
		zap.String("kind", string(kind)),
		zap.String("booking_id", bookingID),
		zap.String("payment_intent_id", intentID),
		zap.String("detail", detail),
	)

	if err := s.anomalyStore.Save(ctx, a); err != nil {
		s.log.Error("failed to save anomaly",
			zap.String("anomaly_id", a.ID),
			zap.Error(err),
		)
	}

	go func() {
		if err := s.reporter.ReportAnomaly(context.Background(), a); err != nil {
			s.log.Warn("failed to report anomaly",
				zap.String("anomaly_id", a.ID),
				zap.Error(err),
			)
		}
	}()

	return &domain.AnomalyError{Anomaly: a}
}

// createIntent creates the intent for the booking's attempt key through the ledger
func (s *reconciliationService) createIntent(ctx context.Context, b *domain.Booking) (*gateway.Intent, bool, error) {
	var intent gateway.Intent
	replayed, err := s.ledger.ExecuteOnce(ctx, b.AttemptKey, domain.OperationCreateIntent, func(ctx context.Context) (any, error) {
		start := time.Now()
		created, err := s.gateway.CreateIntent(ctx, &gateway.CreateIntentRequest{
			Amount:      b.TotalPrice,
			Currency:    b.Currency,
			Description: fmt.Sprintf("Booking %s (%d nights)", b.ID, b.Nights()),
			Metadata: map[string]string{
				domain.MetadataBookingID: b.ID,
				"guest_id":               b.GuestID,
				"accommodation_id":       b.AccommodationID,
			},
			IdempotencyKey: b.AttemptKey,
		})
		metrics.RecordGatewayCall(ctx, string(gateway.OpCreateIntent), gatewayErrorKind(err), time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		return created, nil
	}, &intent)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &intent, replayed, nil
}

// refund refunds an intent in full through the ledger
func (s *reconciliationService) refund(ctx context.Context, intentID string) (*gateway.RefundResult, error) {
	key := domain.RefundIdempotencyKey(intentID)

	var result gateway.RefundResult
	_, err := s.ledger.ExecuteOnce(ctx, key, domain.OperationRefund, func(ctx context.Context) (any, error) {
		start := time.Now()
		r, err := s.gateway.CreateRefund(ctx, &gateway.RefundRequest{
			IntentID:       intentID,
			Reason:         "requested_by_customer",
			IdempotencyKey: key,
		})
		metrics.RecordGatewayCall(ctx, string(gateway.OpCreateRefund), gatewayErrorKind(err), time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		if r.Status == gateway.RefundStatusFailed {
			// not recorded, so a later attempt reaches the gateway again
			return nil, gateway.Permanent("refund_failed", "gateway reported refund "+r.ID+" as failed", nil)
		}
		return r, nil
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment intent %s: %w", intentID, err)
	}
	return &result, nil
}

// abandonIntent cancels an intent that has not captured, so a checkout that
// completes later cannot charge a cancelled booking. It returns the intent as
// the gateway last reported it, which is captured when the guest paid first.
func (s *reconciliationService) abandonIntent(ctx context.Context, intent *gateway.Intent) (*gateway.Intent, error) {
	if intent.Status != domain.IntentStatusCreated && intent.Status != domain.IntentStatusRequiresAction {
		return intent, nil
	}

	start := time.Now()
	cancelled, err := s.gateway.CancelIntent(ctx, intent.ID)
	metrics.RecordGatewayCall(ctx, string(gateway.OpCancelIntent), gatewayErrorKind(err), time.Since(start).Seconds())
	if err == nil {
		s.syncIntent(ctx, cancelled)
		return cancelled, nil
	}
	if domain.IsRetryable(err) {
		return nil, fmt.Errorf("failed to cancel payment intent %s: %w", intent.ID, err)
	}

	current, rerr := s.retrieveIntent(ctx, intent.ID)
	if rerr != nil {
		return nil, rerr
	}
	if !current.Status.HasCaptured() && current.Status != domain.IntentStatusFailed {
		return nil, fmt.Errorf("failed to cancel payment intent %s: %w", intent.ID, err)
	}
	return current, nil
}

func (s *reconciliationService) retrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	start := time.Now()
	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	metrics.RecordGatewayCall(ctx, string(gateway.OpRetrieveIntent), gatewayErrorKind(err), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", intentID, err)
	}
	return intent, nil
}

func gatewayErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return string(gwErr.Kind)
	}
	return "unknown"
}

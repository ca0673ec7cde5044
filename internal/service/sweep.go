package service

import (
	"context"
	"fmt"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReconcileTimeouts resolves Pending bookings older than the grace window by
// re-reading their intents, retries refunds of CancellationPending bookings
// and completes stays whose check-out date has passed. One failing booking
// does not stop the sweep.
func (s *reconciliationService) ReconcileTimeouts(ctx context.Context) (*SweepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.reconcile_timeouts")
	defer span.End()

	result := &SweepResult{}
	now := s.now()

	pending, err := s.bookingRepo.ListStale(ctx, domain.BookingStatusPending, now.Add(-s.graceWindow), s.batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	s.sweep(ctx, pending, result, s.expirePending)

	cancelling, err := s.bookingRepo.ListStale(ctx, domain.BookingStatusCancellationPending, now, s.batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list pending cancellations: %w", err)
	}
	s.sweep(ctx, cancelling, result, s.finishCancellation)

	checkedOut, err := s.bookingRepo.ListCheckedOut(ctx, now, s.batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list checked-out bookings: %w", err)
	}
	s.sweep(ctx, checkedOut, result, func(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
		return s.transition(ctx, b.ID, sourceSweep, always(domain.EventStayCompleted, domain.ReasonStayCompleted))
	})

	span.SetAttributes(
		attribute.Int("scanned", result.Scanned),
		attribute.Int("advanced", result.Advanced()),
		attribute.Int("failed", result.Failed),
	)
	metrics.RecordSweep(ctx, result.Advanced())

	return result, nil
}

func (s *reconciliationService) sweep(ctx context.Context, bookings []*domain.Booking, result *SweepResult, fn func(context.Context, *domain.Booking) (*domain.Booking, error)) {
	for _, b := range bookings {
		if ctx.Err() != nil {
			return
		}
		result.Scanned++

		next, err := fn(ctx, b)
		if err != nil {
			result.Failed++
			s.log.Warn("sweep could not resolve booking",
				zap.String("booking_id", b.ID),
				zap.String("status", string(b.Status)),
				zap.Error(err),
			)
			continue
		}
		result.record(b, next)
	}
}

// expirePending resolves a Pending booking whose payment window has passed
func (s *reconciliationService) expirePending(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	if b.PaymentRef == "" {
		return s.transition(ctx, b.ID, sourceSweep, whilePending(domain.EventPaymentFailed, domain.ReasonPaymentTimeout))
	}

	intent, err := s.retrieveIntent(ctx, b.PaymentRef)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case domain.IntentStatusSucceeded, domain.IntentStatusFailed,
		domain.IntentStatusRefunded, domain.IntentStatusPartiallyRefunded:
		return s.reconcileIntent(ctx, b, intent, sourceSweep)
	}

	// nothing was captured; the guest abandoned checkout
	current, err := s.abandonIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	if current.Status.HasCaptured() {
		return s.reconcileIntent(ctx, b, current, sourceSweep)
	}
	s.syncIntent(ctx, current)
	return s.transition(ctx, b.ID, sourceSweep, whilePending(domain.EventPaymentFailed, domain.ReasonPaymentTimeout))
}

// finishCancellation completes a refund that was not acknowledged earlier
func (s *reconciliationService) finishCancellation(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	if b.PaymentRef != "" {
		intent, err := s.retrieveIntent(ctx, b.PaymentRef)
		if err != nil {
			return nil, err
		}
		if intent.Status == domain.IntentStatusRefunded {
			s.syncIntent(ctx, intent)
			return s.transition(ctx, b.ID, sourceSweep, always(domain.EventRefundIssued, domain.ReasonRefunded))
		}
	}
	return s.refundAndCancel(ctx, b, domain.ReasonRefunded, sourceSweep)
}

package domain

import "time"

// Status reasons recorded on the booking when a transition happens
const (
	ReasonPaymentFailed   = "payment_failed"
	ReasonPaymentTimeout  = "payment_timeout"
	ReasonUserCancelled   = "user_cancelled"
	ReasonRefunded        = "refunded"
	ReasonRefundPending   = "refund_pending"
	ReasonStayCompleted   = "stay_completed"
	ReasonPaymentReceived = "payment_received"
)

// transitions lists every accepted (state, event) pair. A target equal to the
// source state is an accepted no-op, which is how duplicate deliveries of the
// same gateway event are absorbed.
var transitions = map[BookingStatus]map[EventKind]BookingStatus{
	BookingStatusPending: {
		EventPaymentSucceeded: BookingStatusConfirmed,
		EventPaymentFailed:    BookingStatusCancelled,
		EventUserCancelled:    BookingStatusCancelled,
	},
	BookingStatusConfirmed: {
		EventPaymentSucceeded: BookingStatusConfirmed,
		EventStayCompleted:    BookingStatusCompleted,
		EventRefundPending:    BookingStatusCancellationPending,
		EventRefundIssued:     BookingStatusCancelled,
	},
	BookingStatusCancellationPending: {
		EventPaymentSucceeded: BookingStatusCancellationPending,
		EventUserCancelled:    BookingStatusCancellationPending,
		EventRefundPending:    BookingStatusCancellationPending,
		EventRefundIssued:     BookingStatusCancelled,
	},
	BookingStatusCancelled: {
		EventPaymentFailed: BookingStatusCancelled,
		EventUserCancelled: BookingStatusCancelled,
		EventRefundIssued:  BookingStatusCancelled,
	},
	BookingStatusCompleted: {
		EventPaymentSucceeded: BookingStatusCompleted,
		EventStayCompleted:    BookingStatusCompleted,
	},
}

// CanApply reports whether the event is accepted in the given state
func CanApply(from BookingStatus, kind EventKind) bool {
	_, ok := transitions[from][kind]
	return ok
}

// Transition applies an event to a booking. It never mutates b: the returned
// booking is a copy with the new status, reason and timestamp. changed is
// false when the event is an accepted no-op. Events the current state does not
// accept return an *InvalidTransitionError.
func Transition(b *Booking, ev Event) (next *Booking, changed bool, err error) {
	target, ok := transitions[b.Status][ev.Kind]
	if !ok {
		return nil, false, &InvalidTransitionError{From: b.Status, Event: ev.Kind}
	}

	next = b.Clone()
	if target == b.Status {
		return next, false, nil
	}

	next.Status = target
	next.StatusReason = ev.Reason
	if next.StatusReason == "" {
		next.StatusReason = defaultReason(ev.Kind)
	}
	next.UpdatedAt = time.Now().UTC()
	return next, true, nil
}

func defaultReason(kind EventKind) string {
	switch kind {
	case EventPaymentSucceeded:
		return ReasonPaymentReceived
	case EventPaymentFailed:
		return ReasonPaymentFailed
	case EventUserCancelled:
		return ReasonUserCancelled
	case EventStayCompleted:
		return ReasonStayCompleted
	case EventRefundIssued:
		return ReasonRefunded
	case EventRefundPending:
		return ReasonRefundPending
	}
	return ""
}

package metrics

import (
	"context"
	"sync"

	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Booking counters
	BookingsInitiated  *telemetry.Counter
	BookingTransitions *telemetry.Counter

	// Payment counters
	RefundsIssued *telemetry.Counter
	GatewayErrors *telemetry.Counter
	Anomalies     *telemetry.Counter

	// Webhook counters
	WebhooksReceived *telemetry.Counter
	WebhooksRejected *telemetry.Counter

	// Sweep counters
	SweepRuns     *telemetry.Counter
	SweepAdvanced *telemetry.Counter

	// Histograms
	GatewayDuration *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init initializes all reconciliation metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&BookingsInitiated, telemetry.MetricOpts{Name: "booking_initiated_total", Description: "Total number of bookings initiated", Unit: "1"}},
		{&BookingTransitions, telemetry.MetricOpts{Name: "booking_transition_total", Description: "Total number of booking state changes", Unit: "1"}},
		{&RefundsIssued, telemetry.MetricOpts{Name: "payment_refund_total", Description: "Total number of refund attempts by outcome", Unit: "1"}},
		{&GatewayErrors, telemetry.MetricOpts{Name: "payment_gateway_error_total", Description: "Total number of gateway errors by kind", Unit: "1"}},
		{&Anomalies, telemetry.MetricOpts{Name: "reconciliation_anomaly_total", Description: "Total number of recorded consistency anomalies", Unit: "1"}},
		{&WebhooksReceived, telemetry.MetricOpts{Name: "webhook_received_total", Description: "Total number of verified webhook events", Unit: "1"}},
		{&WebhooksRejected, telemetry.MetricOpts{Name: "webhook_rejected_total", Description: "Total number of rejected or duplicate webhook deliveries", Unit: "1"}},
		{&SweepRuns, telemetry.MetricOpts{Name: "reconcile_sweep_runs_total", Description: "Total number of reconciliation sweeps", Unit: "1"}},
		{&SweepAdvanced, telemetry.MetricOpts{Name: "reconcile_sweep_advanced_total", Description: "Total number of bookings advanced by the sweep", Unit: "1"}},
	}

	for _, c := range counters {
		counter, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	GatewayDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_gateway_duration_seconds",
		Description: "Latency of payment gateway calls",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	return nil
}

// RecordBookingInitiated records a new booking
func RecordBookingInitiated(ctx context.Context, currency string) {
	if BookingsInitiated != nil {
		BookingsInitiated.Inc(ctx, attribute.String("currency", currency))
	}
}

// RecordTransition records a committed booking state change
func RecordTransition(ctx context.Context, from, to, source string) {
	if BookingTransitions != nil {
		BookingTransitions.Inc(ctx,
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("source", source),
		)
	}
}

// RecordRefund records a refund attempt outcome
func RecordRefund(ctx context.Context, outcome string) {
	if RefundsIssued != nil {
		RefundsIssued.Inc(ctx, attribute.String("outcome", outcome))
	}
}

// RecordGatewayCall records a gateway call duration and its error kind, if any
func RecordGatewayCall(ctx context.Context, operation, errorKind string, durationSeconds float64) {
	if GatewayDuration != nil {
		GatewayDuration.Record(ctx, durationSeconds, attribute.String("operation", operation))
	}
	if errorKind != "" && GatewayErrors != nil {
		GatewayErrors.Inc(ctx,
			attribute.String("operation", operation),
			attribute.String("kind", errorKind),
		)
	}
}

// RecordAnomaly records a consistency anomaly
func RecordAnomaly(ctx context.Context, kind string) {
	if Anomalies != nil {
		Anomalies.Inc(ctx, attribute.String("kind", kind))
	}
}

// RecordWebhookReceived records a verified webhook event
func RecordWebhookReceived(ctx context.Context, provider, eventType string) {
	if WebhooksReceived != nil {
		WebhooksReceived.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("event_type", eventType),
		)
	}
}

// RecordWebhookRejected records a webhook delivery that was not applied
func RecordWebhookRejected(ctx context.Context, provider, reason string) {
	if WebhooksRejected != nil {
		WebhooksRejected.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		)
	}
}

// RecordSweep records a sweep run and how many bookings it advanced
func RecordSweep(ctx context.Context, advanced int) {
	if SweepRuns != nil {
		SweepRuns.Inc(ctx)
	}
	if SweepAdvanced != nil && advanced > 0 {
		SweepAdvanced.Add(ctx, int64(advanced))
	}
}

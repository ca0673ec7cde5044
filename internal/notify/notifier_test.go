package notify

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(logger.New(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, p.Notify(ctx, &domain.Notification{
		Type:      domain.NotificationBookingConfirmed,
		UserID:    "guest-1",
		BookingID: "booking-1",
		Status:    domain.BookingStatusConfirmed,
	}))
	require.NoError(t, p.ReportAnomaly(ctx, domain.NewAnomaly(domain.AnomalyAmountMismatch, "booking-1", "pi_1", "amount differs")))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "booking notification", entries[0].Message)
	assert.Equal(t, "booking.confirmed", entries[0].ContextMap()["type"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "amount_mismatch", entries[1].ContextMap()["kind"])
	assert.NoError(t, p.Close())
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewKafkaPublisher(context.Background(), &KafkaPublisherConfig{})
	assert.Error(t, err)
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}

	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewKafkaPublisher(ctx, &KafkaPublisherConfig{Brokers: strings.Split(brokers, ",")})
	require.NoError(t, err)
	defer p.Close()

	err = p.Notify(ctx, &domain.Notification{
		Type:       domain.NotificationBookingCancelled,
		UserID:     "guest-1",
		BookingID:  "booking-1",
		Status:     domain.BookingStatusCancelled,
		OccurredAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}

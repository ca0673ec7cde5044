package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/kafka"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers guest-facing booking notifications. Delivery is best
// effort: callers log failures and never undo a booking change because of one.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

// AnomalyReporter forwards anomalies to the manual review queue
type AnomalyReporter interface {
	ReportAnomaly(ctx context.Context, a *domain.Anomaly) error
}

// Publisher is both a Notifier and an AnomalyReporter
type Publisher interface {
	Notifier
	AnomalyReporter
	Close() error
}

// message is the envelope written to Kafka
type message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// KafkaPublisherConfig contains configuration for the Kafka publisher
type KafkaPublisherConfig struct {
	Brokers           []string
	ClientID          string
	NotificationTopic string
	AnomalyTopic      string
	ServiceName       string
}

// KafkaPublisher publishes notifications and anomalies to Kafka topics
type KafkaPublisher struct {
	producer          *kafka.Producer
	notificationTopic string
	anomalyTopic      string
	serviceName       string
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(ctx context.Context, cfg *KafkaPublisherConfig) (*KafkaPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	notificationTopic := cfg.NotificationTopic
	if notificationTopic == "" {
		notificationTopic = "booking-notifications"
	}
	anomalyTopic := cfg.AnomalyTopic
	if anomalyTopic == "" {
		anomalyTopic = "reconciliation-anomalies"
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "reconciliation-service"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = serviceName + "-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:        cfg.Brokers,
		ClientID:       clientID,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		ProduceTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaPublisher{
		producer:          producer,
		notificationTopic: notificationTopic,
		anomalyTopic:      anomalyTopic,
		serviceName:       serviceName,
	}, nil
}

// Notify publishes a booking notification keyed by booking id
func (p *KafkaPublisher) Notify(ctx context.Context, n *domain.Notification) error {
	return p.publish(ctx, p.notificationTopic, n.BookingID, string(n.Type), n)
}

// ReportAnomaly publishes an anomaly keyed by booking id
func (p *KafkaPublisher) ReportAnomaly(ctx context.Context, a *domain.Anomaly) error {
	return p.publish(ctx, p.anomalyTopic, a.BookingID, "anomaly."+string(a.Kind), a)
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key, eventType string, data any) error {
	msg := &message{
		ID:         uuid.New().String(),
		Type:       eventType,
		Source:     p.serviceName,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}

	headers := map[string]string{
		"event_type": eventType,
		"source":     p.serviceName,
	}
	if err := p.producer.ProduceJSON(ctx, topic, key, msg, headers); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// LogPublisher writes notifications and anomalies to the log. Used when
// Kafka is disabled.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a log-only publisher. A nil logger uses the global one.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.Get()
	}
	return &LogPublisher{log: log}
}

// Notify logs the notification
func (p *LogPublisher) Notify(ctx context.Context, n *domain.Notification) error {
	p.log.Info("booking notification",
		zap.String("type", string(n.Type)),
		zap.String("user_id", n.UserID),
		zap.String("booking_id", n.BookingID),
		zap.String("status", string(n.Status)),
		zap.String("reason", n.Reason),
	)
	return nil
}

// ReportAnomaly logs the anomaly
func (p *LogPublisher) ReportAnomaly(ctx context.Context, a *domain.Anomaly) error {
	p.log.Warn("reconciliation anomaly",
		zap.String("anomaly_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("booking_id", a.BookingID),
		zap.String("payment_intent_id", a.PaymentIntentID),
		zap.String("detail", a.Detail),
	)
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}

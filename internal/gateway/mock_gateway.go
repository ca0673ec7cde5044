package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlphanumeric generates a random alphanumeric string of given length
func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// Operation names a gateway call that can be scripted to fail
type Operation string

const (
	OpCreateIntent   Operation = "create_intent"
	OpRetrieveIntent Operation = "retrieve_intent"
	OpCreateRefund   Operation = "create_refund"
	OpCancelIntent   Operation = "cancel_intent"
)

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability that an auto-settled intent succeeds
	SuccessRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// AutoSettle makes RetrieveIntent settle a Created intent as if the guest
	// had completed checkout. Used for local runs without a frontend.
	AutoSettle bool

	// FailureReasons is a list of possible decline codes
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		AutoSettle:  true,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
		},
	}
}

// MockGateway implements PaymentGateway in memory. It honors idempotency keys
// the way Stripe does and lets tests script outcomes.
type MockGateway struct {
	config *MockGatewayConfig

	mu       sync.Mutex
	intents  map[string]*Intent
	byKey    map[string]string
	refunds  map[string]*RefundResult
	failures map[Operation][]*Error
	calls    map[Operation]int
	outcomes []RefundStatus
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}

	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}

	return &MockGateway{
		config:   config,
		intents:  make(map[string]*Intent),
		byKey:    make(map[string]string),
		refunds:  make(map[string]*RefundResult),
		failures: make(map[Operation][]*Error),
		calls:    make(map[Operation]int),
	}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// CreateIntent creates a mock PaymentIntent
func (g *MockGateway) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error) {
	if req == nil {
		return nil, fmt.Errorf("payment intent request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	minor, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[OpCreateIntent]++
	if err := g.popFailure(OpCreateIntent); err != nil {
		return nil, err
	}

	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		existing := g.intents[id]
		if existing.MinorAmount != minor || existing.Currency != strings.ToUpper(req.Currency) {
			return nil, Permanent("idempotency_key_in_use",
				"keys for idempotent requests can only be used with the same parameters", nil)
		}
		return cloneIntent(existing), nil
	}

	id := fmt.Sprintf("pi_mock_%s", randomAlphanumeric(24))
	currency := strings.ToUpper(req.Currency)
	intent := &Intent{
		ID:             id,
		Amount:         FromMinorUnits(minor, currency),
		MinorAmount:    minor,
		Currency:       currency,
		AmountRefunded: FromMinorUnits(0, currency),
		Status:         domain.IntentStatusCreated,
		ClientSecret:   fmt.Sprintf("%s_secret_%s", id, randomAlphanumeric(24)),
		Metadata:       copyMetadata(req.Metadata),
		CreatedAt:      time.Now().UTC(),
	}
	g.intents[id] = intent
	g.byKey[req.IdempotencyKey] = id

	return cloneIntent(intent), nil
}

// RetrieveIntent returns the stored intent
func (g *MockGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[OpRetrieveIntent]++
	if err := g.popFailure(OpRetrieveIntent); err != nil {
		return nil, err
	}

	intent, ok := g.intents[intentID]
	if !ok {
		return nil, Permanent("resource_missing", "no such payment_intent: "+intentID, nil)
	}

	if g.config.AutoSettle && intent.Status == domain.IntentStatusCreated {
		if rand.Float64() < g.config.SuccessRate {
			intent.Status = domain.IntentStatusSucceeded
		} else {
			intent.Status = domain.IntentStatusFailed
			intent.FailureCode = g.randomFailureReason()
			intent.FailureMessage = "Your card was declined."
		}
	}

	return cloneIntent(intent), nil
}

// CreateRefund refunds a captured mock intent
func (g *MockGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req == nil || req.IntentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	if req.IdempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency_key", "is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[OpCreateRefund]++
	if err := g.popFailure(OpCreateRefund); err != nil {
		return nil, err
	}

	if r, ok := g.refunds[req.IdempotencyKey]; ok {
		c := *r
		return &c, nil
	}

	intent, ok := g.intents[req.IntentID]
	if !ok {
		return nil, Permanent("resource_missing", "no such payment_intent: "+req.IntentID, nil)
	}
	if !intent.Status.HasCaptured() {
		return nil, Permanent("charge_not_captured", "payment intent has no successful charge to refund", nil)
	}

	refunded, _ := ToMinorUnits(intent.AmountRefunded, intent.Currency)
	remaining := intent.MinorAmount - refunded
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > remaining {
		return nil, Permanent("charge_already_refunded", "refund amount exceeds the remaining charge", nil)
	}

	status := RefundStatusSucceeded
	if len(g.outcomes) > 0 {
		status = g.outcomes[0]
		g.outcomes = g.outcomes[1:]
	}

	r := &RefundResult{
		ID:          fmt.Sprintf("re_mock_%s", randomAlphanumeric(24)),
		IntentID:    intent.ID,
		Amount:      FromMinorUnits(amount, intent.Currency),
		MinorAmount: amount,
		Currency:    intent.Currency,
		Status:      status,
	}
	g.refunds[req.IdempotencyKey] = r

	// pending and failed refunds leave the charge untouched
	if status == RefundStatusSucceeded {
		refunded += amount
		intent.AmountRefunded = FromMinorUnits(refunded, intent.Currency)
		if refunded == intent.MinorAmount {
			intent.Status = domain.IntentStatusRefunded
		} else {
			intent.Status = domain.IntentStatusPartiallyRefunded
		}
	}

	c := *r
	return &c, nil
}

// CancelIntent cancels an intent that has not captured. Cancelled intents
// report IntentStatusFailed.
func (g *MockGateway) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[OpCancelIntent]++
	if err := g.popFailure(OpCancelIntent); err != nil {
		return nil, err
	}

	intent, ok := g.intents[intentID]
	if !ok {
		return nil, Permanent("resource_missing", "no such payment_intent: "+intentID, nil)
	}
	switch intent.Status {
	case domain.IntentStatusCreated, domain.IntentStatusRequiresAction:
		intent.Status = domain.IntentStatusFailed
		intent.FailureCode = "canceled"
		intent.FailureMessage = "The payment was canceled."
	case domain.IntentStatusFailed:
	default:
		return nil, Permanent("payment_intent_unexpected_state",
			fmt.Sprintf("cannot cancel a payment intent with status %s", intent.Status), nil)
	}
	return cloneIntent(intent), nil
}

// NextRefundStatus makes the next new refund settle with status. Statuses
// queue up; refunds default to succeeded.
func (g *MockGateway) NextRefundStatus(status RefundStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, status)
}

// FailNext makes the next call of op return err. Calls queue up.
func (g *MockGateway) FailNext(op Operation, err *Error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], err)
}

// SetIntentStatus forces the gateway-side status of an intent
func (g *MockGateway) SetIntentStatus(intentID string, status domain.IntentStatus) error {
	return g.UpdateIntent(intentID, func(i *Intent) {
		i.Status = status
	})
}

// Decline marks an intent as declined with the given code
func (g *MockGateway) Decline(intentID, code string) error {
	return g.UpdateIntent(intentID, func(i *Intent) {
		i.Status = domain.IntentStatusFailed
		i.FailureCode = code
		i.FailureMessage = "Your card was declined."
	})
}

// UpdateIntent applies fn to a stored intent
func (g *MockGateway) UpdateIntent(intentID string, fn func(*Intent)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("payment intent not found: %s", intentID)
	}
	fn(intent)
	return nil
}

// Calls returns how many times op reached the gateway
func (g *MockGateway) Calls(op Operation) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// IntentCount returns the number of distinct intents created
func (g *MockGateway) IntentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

func (g *MockGateway) popFailure(op Operation) error {
	queue := g.failures[op]
	if len(queue) == 0 {
		return nil
	}
	g.failures[op] = queue[1:]
	return queue[0]
}

func (g *MockGateway) delay(ctx context.Context) error {
	if g.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return Transient("timeout", "mock gateway request timed out", ctx.Err())
	case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		return nil
	}
}

func (g *MockGateway) randomFailureReason() string {
	if len(g.config.FailureReasons) == 0 {
		return "card_declined"
	}
	return g.config.FailureReasons[rand.Intn(len(g.config.FailureReasons))]
}

func cloneIntent(i *Intent) *Intent {
	c := *i
	c.Metadata = copyMetadata(i.Metadata)
	return &c
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

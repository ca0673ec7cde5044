package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScriptedGateway() *MockGateway {
	return NewMockGateway(&MockGatewayConfig{SuccessRate: 1})
}

func intentRequest(key string) *CreateIntentRequest {
	return &CreateIntentRequest{
		Amount:         decimal.RequireFromString("250.00"),
		Currency:       "USD",
		Metadata:       map[string]string{domain.MetadataBookingID: "booking-001"},
		IdempotencyKey: key,
	}
}

func TestNewMockGateway(t *testing.T) {
	t.Run("with nil config uses defaults", func(t *testing.T) {
		g := NewMockGateway(nil)
		assert.Equal(t, "mock", g.Name())
		assert.True(t, g.config.AutoSettle)
	})

	t.Run("clamps success rate", func(t *testing.T) {
		g := NewMockGateway(&MockGatewayConfig{SuccessRate: 1.5})
		assert.Equal(t, 1.0, g.config.SuccessRate)

		g = NewMockGateway(&MockGatewayConfig{SuccessRate: -0.5})
		assert.Equal(t, 0.0, g.config.SuccessRate)
	})
}

func TestMockGateway_CreateIntent(t *testing.T) {
	g := newScriptedGateway()
	ctx := context.Background()

	intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
	require.NoError(t, err)

	assert.Contains(t, intent.ID, "pi_mock_")
	assert.Contains(t, intent.ClientSecret, intent.ID+"_secret_")
	assert.Equal(t, int64(25000), intent.MinorAmount)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, domain.IntentStatusCreated, intent.Status)
	assert.Equal(t, "booking-001", intent.BookingID())
}

func TestMockGateway_CreateIntent_IdempotencyKey(t *testing.T) {
	g := newScriptedGateway()
	ctx := context.Background()

	first, err := g.CreateIntent(ctx, intentRequest("key-1"))
	require.NoError(t, err)
	second, err := g.CreateIntent(ctx, intentRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, g.IntentCount())

	t.Run("same key different amount is rejected", func(t *testing.T) {
		req := intentRequest("key-1")
		req.Amount = decimal.RequireFromString("300.00")

		_, err := g.CreateIntent(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPermanentGateway)
	})
}

func TestMockGateway_CreateIntent_Concurrent(t *testing.T) {
	g := newScriptedGateway()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent, err := g.CreateIntent(ctx, intentRequest("same-key"))
			if err == nil {
				ids[i] = intent.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, g.IntentCount())
}

func TestMockGateway_CreateIntent_Validation(t *testing.T) {
	g := newScriptedGateway()

	req := intentRequest("")
	_, err := g.CreateIntent(context.Background(), req)
	assert.True(t, domain.IsValidationError(err))

	req = intentRequest("key")
	req.Amount = decimal.RequireFromString("10.001")
	_, err = g.CreateIntent(context.Background(), req)
	assert.True(t, domain.IsValidationError(err))
}

func TestMockGateway_FailNext(t *testing.T) {
	g := newScriptedGateway()
	ctx := context.Background()

	g.FailNext(OpCreateIntent, Transient("rate_limit", "too many requests", nil))

	_, err := g.CreateIntent(ctx, intentRequest("key-1"))
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrorKindTransient, gwErr.Kind)
	assert.Equal(t, 0, g.IntentCount())

	_, err = g.CreateIntent(ctx, intentRequest("key-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, g.Calls(OpCreateIntent))
}

func TestMockGateway_RetrieveIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("not found is permanent", func(t *testing.T) {
		g := newScriptedGateway()
		_, err := g.RetrieveIntent(ctx, "pi_missing")
		assert.ErrorIs(t, err, domain.ErrPermanentGateway)
	})

	t.Run("without auto settle keeps status", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)

		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusCreated, got.Status)
	})

	t.Run("auto settle succeeds at full success rate", func(t *testing.T) {
		g := NewMockGateway(&MockGatewayConfig{SuccessRate: 1, AutoSettle: true})
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)

		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusSucceeded, got.Status)
	})

	t.Run("auto settle declines at zero success rate", func(t *testing.T) {
		g := NewMockGateway(&MockGatewayConfig{SuccessRate: 0, AutoSettle: true})
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)

		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusFailed, got.Status)
		assert.Equal(t, "card_declined", got.FailureCode)
	})

	t.Run("returned intent is a copy", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)

		intent.Metadata[domain.MetadataBookingID] = "tampered"
		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, "booking-001", got.BookingID())
	})
}

func TestMockGateway_CreateRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("full refund", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)
		require.NoError(t, g.SetIntentStatus(intent.ID, domain.IntentStatusSucceeded))

		r, err := g.CreateRefund(ctx, &RefundRequest{IntentID: intent.ID, IdempotencyKey: "refund_" + intent.ID})
		require.NoError(t, err)
		assert.Equal(t, RefundStatusSucceeded, r.Status)
		assert.Equal(t, int64(25000), r.MinorAmount)

		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusRefunded, got.Status)
	})

	t.Run("same key refunds once", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)
		require.NoError(t, g.SetIntentStatus(intent.ID, domain.IntentStatusSucceeded))

		req := &RefundRequest{IntentID: intent.ID, IdempotencyKey: "refund_" + intent.ID}
		first, err := g.CreateRefund(ctx, req)
		require.NoError(t, err)
		second, err := g.CreateRefund(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("partial refund", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)
		require.NoError(t, g.SetIntentStatus(intent.ID, domain.IntentStatusSucceeded))

		amount := int64(5000)
		_, err = g.CreateRefund(ctx, &RefundRequest{IntentID: intent.ID, Amount: &amount, IdempotencyKey: "partial"})
		require.NoError(t, err)

		got, err := g.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusPartiallyRefunded, got.Status)
		assert.True(t, got.AmountRefunded.Equal(decimal.NewFromInt(50)))
	})

	t.Run("pending and failed refunds keep the charge", func(t *testing.T) {
		for _, status := range []RefundStatus{RefundStatusPending, RefundStatusFailed} {
			g := newScriptedGateway()
			intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
			require.NoError(t, err)
			require.NoError(t, g.SetIntentStatus(intent.ID, domain.IntentStatusSucceeded))

			g.NextRefundStatus(status)
			req := &RefundRequest{IntentID: intent.ID, IdempotencyKey: "refund_" + intent.ID}
			r, err := g.CreateRefund(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, status, r.Status)

			got, err := g.RetrieveIntent(ctx, intent.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.IntentStatusSucceeded, got.Status)

			// the same key replays the recorded outcome
			again, err := g.CreateRefund(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, r.ID, again.ID)
			assert.Equal(t, status, again.Status)
		}
	})

	t.Run("uncaptured intent cannot be refunded", func(t *testing.T) {
		g := newScriptedGateway()
		intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
		require.NoError(t, err)

		_, err = g.CreateRefund(ctx, &RefundRequest{IntentID: intent.ID, IdempotencyKey: "r"})
		assert.ErrorIs(t, err, domain.ErrPermanentGateway)
	})
}

func TestMockGateway_CancelIntent(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		status   domain.IntentStatus
		want     domain.IntentStatus
		wantCode string
	}{
		{name: "created", status: domain.IntentStatusCreated, want: domain.IntentStatusFailed},
		{name: "requires action", status: domain.IntentStatusRequiresAction, want: domain.IntentStatusFailed},
		{name: "already failed", status: domain.IntentStatusFailed, want: domain.IntentStatusFailed},
		{name: "succeeded", status: domain.IntentStatusSucceeded, wantCode: "payment_intent_unexpected_state"},
		{name: "refunded", status: domain.IntentStatusRefunded, wantCode: "payment_intent_unexpected_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newScriptedGateway()
			intent, err := g.CreateIntent(ctx, intentRequest("key-1"))
			require.NoError(t, err)
			require.NoError(t, g.SetIntentStatus(intent.ID, tt.status))

			got, err := g.CancelIntent(ctx, intent.ID)
			assert.Equal(t, 1, g.Calls(OpCancelIntent))
			if tt.wantCode != "" {
				var gwErr *Error
				require.True(t, errors.As(err, &gwErr))
				assert.Equal(t, ErrorKindPermanent, gwErr.Kind)
				assert.Equal(t, tt.wantCode, gwErr.Code)

				stored, err := g.RetrieveIntent(ctx, intent.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.status, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	t.Run("unknown intent", func(t *testing.T) {
		_, err := newScriptedGateway().CancelIntent(ctx, "pi_missing")
		assert.ErrorIs(t, err, domain.ErrPermanentGateway)
	})
}

func TestNewPaymentGateway(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		config   *GatewayConfig
		wantName string
		wantErr  bool
	}{
		{"default is mock", "", nil, "mock", false},
		{"mock", "MOCK", nil, "mock", false},
		{"stripe", "stripe", &GatewayConfig{SecretKey: "sk_test_123"}, "stripe", false},
		{"stripe without key", "stripe", &GatewayConfig{}, "", true},
		{"unknown", "paypal", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewPaymentGateway(tt.kind, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, g.Name())
		})
	}
}

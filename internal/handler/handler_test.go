package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/repository"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/webhook"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// MockReconciliationService is a func-field fake of service.ReconciliationService
type MockReconciliationService struct {
	InitiateBookingFunc        func(ctx context.Context, p domain.Principal, req *service.InitiateBookingRequest) (*service.InitiateBookingResult, error)
	CreateIntentForBookingFunc func(ctx context.Context, p domain.Principal, req *service.CreateIntentRequest) (*service.IntentResult, error)
	ConfirmBookingFunc         func(ctx context.Context, p domain.Principal, bookingID, intentID string) (*domain.Booking, error)
	ConfirmPaymentFunc         func(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error)
	PaymentStatusFunc          func(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error)
	CancelBookingFunc          func(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error)
	CompleteStayFunc           func(ctx context.Context, bookingID string) (*domain.Booking, error)
	ApplyGatewayEventFunc      func(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error)
	ReconcileTimeoutsFunc      func(ctx context.Context) (*service.SweepResult, error)
	GetBookingFunc             func(ctx context.Context, p domain.Principal, bookingID string) (*domain.BookingView, error)
	ListMyBookingsFunc         func(ctx context.Context, p domain.Principal, page, pageSize int) ([]*domain.BookingView, int, error)
}

func (m *MockReconciliationService) InitiateBooking(ctx context.Context, p domain.Principal, req *service.InitiateBookingRequest) (*service.InitiateBookingResult, error) {
	if m.InitiateBookingFunc != nil {
		return m.InitiateBookingFunc(ctx, p, req)
	}
	return nil, nil
}

func (m *MockReconciliationService) CreateIntentForBooking(ctx context.Context, p domain.Principal, req *service.CreateIntentRequest) (*service.IntentResult, error) {
	if m.CreateIntentForBookingFunc != nil {
		return m.CreateIntentForBookingFunc(ctx, p, req)
	}
	return nil, nil
}

func (m *MockReconciliationService) ConfirmBooking(ctx context.Context, p domain.Principal, bookingID, intentID string) (*domain.Booking, error) {
	if m.ConfirmBookingFunc != nil {
		return m.ConfirmBookingFunc(ctx, p, bookingID, intentID)
	}
	return nil, nil
}

func (m *MockReconciliationService) ConfirmPayment(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error) {
	if m.ConfirmPaymentFunc != nil {
		return m.ConfirmPaymentFunc(ctx, p, intentID)
	}
	return nil, nil
}

func (m *MockReconciliationService) PaymentStatus(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error) {
	if m.PaymentStatusFunc != nil {
		return m.PaymentStatusFunc(ctx, p, intentID)
	}
	return nil, nil
}

func (m *MockReconciliationService) CancelBooking(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
	if m.CancelBookingFunc != nil {
		return m.CancelBookingFunc(ctx, p, bookingID, reason)
	}
	return nil, nil
}

func (m *MockReconciliationService) CompleteStay(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if m.CompleteStayFunc != nil {
		return m.CompleteStayFunc(ctx, bookingID)
	}
	return nil, nil
}

func (m *MockReconciliationService) ApplyGatewayEvent(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error) {
	if m.ApplyGatewayEventFunc != nil {
		return m.ApplyGatewayEventFunc(ctx, ev)
	}
	return nil, nil
}

func (m *MockReconciliationService) ReconcileTimeouts(ctx context.Context) (*service.SweepResult, error) {
	if m.ReconcileTimeoutsFunc != nil {
		return m.ReconcileTimeoutsFunc(ctx)
	}
	return &service.SweepResult{}, nil
}

func (m *MockReconciliationService) GetBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.BookingView, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, p, bookingID)
	}
	return nil, nil
}

func (m *MockReconciliationService) ListMyBookings(ctx context.Context, p domain.Principal, page, pageSize int) ([]*domain.BookingView, int, error) {
	if m.ListMyBookingsFunc != nil {
		return m.ListMyBookingsFunc(ctx, p, page, pageSize)
	}
	return nil, 0, nil
}

const webhookSecret = "whsec_handler_test"

func setupTestRouter(t *testing.T, svc *MockReconciliationService, userID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	ingestor, err := webhook.NewIngestor(&webhook.IngestorConfig{
		Provider: "mock",
		Secret:   webhookSecret,
	}, repository.NewMemoryWebhookEventStore())
	require.NoError(t, err)

	bookingHandler := NewBookingHandler(svc)
	paymentHandler := NewPaymentHandler(svc)
	webhookHandler := NewWebhookHandler(ingestor, svc)

	api := router.Group("/api/v1")
	api.POST("/payments/webhook", webhookHandler.HandleWebhook)

	authed := api.Group("")
	authed.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextKeyUserID, userID)
		}
		c.Next()
	})
	authed.Use(middleware.IdempotencyKey())
	{
		authed.POST("/bookings", bookingHandler.CreateBooking)
		authed.GET("/bookings/my-bookings", bookingHandler.ListMyBookings)
		authed.GET("/bookings/:id", bookingHandler.GetBooking)
		authed.POST("/bookings/:id/confirm", bookingHandler.ConfirmBooking)
		authed.POST("/bookings/:id/cancel", bookingHandler.CancelBooking)
		authed.POST("/payments/create-intent", paymentHandler.CreateIntent)
		authed.POST("/payments/confirm", paymentHandler.ConfirmPayment)
		authed.GET("/payments/status/:paymentIntentId", paymentHandler.PaymentStatus)
	}
	return router
}

func doRequest(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Details   string `json:"details"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func testBooking(status domain.BookingStatus) *domain.Booking {
	checkIn := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Booking{
		ID:              "booking-1",
		GuestID:         "guest-1",
		AccommodationID: "acc-001",
		RoomTypeID:      "room-001",
		CheckInDate:     checkIn,
		CheckOutDate:    checkIn.AddDate(0, 0, 3),
		NumRooms:        1,
		NumGuests:       2,
		TotalPrice:      decimal.RequireFromString("250.00"),
		Currency:        "USD",
		Status:          status,
		PaymentRef:      "pi_123",
		Version:         2,
	}
}

func validBookingBody() map[string]any {
	return map[string]any{
		"accommodation_id": "acc-001",
		"room_type_id":     "room-001",
		"check_in_date":    "2026-12-01",
		"check_out_date":   "2026-12-04",
		"num_rooms":        1,
		"num_guests":       2,
		"total_price":      "250.00",
		"currency":         "USD",
	}
}

func TestCreateBooking(t *testing.T) {
	var got *service.InitiateBookingRequest
	svc := &MockReconciliationService{
		InitiateBookingFunc: func(ctx context.Context, p domain.Principal, req *service.InitiateBookingRequest) (*service.InitiateBookingResult, error) {
			assert.Equal(t, "guest-1", p.UserID)
			got = req
			return &service.InitiateBookingResult{
				Booking:         testBooking(domain.BookingStatusPending),
				ClientSecret:    "pi_123_secret_abc",
				PaymentIntentID: "pi_123",
			}, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", validBookingBody(), map[string]string{
		middleware.IdempotencyKeyHeader: "attempt-42",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "attempt-42", got.AttemptNonce)
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, time.Date(2026, 12, 4, 0, 0, 0, 0, time.UTC), got.CheckOutDate)

	env := decodeEnvelope(t, w)
	var data struct {
		Booking struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"booking"`
		ClientSecret    string `json:"client_secret"`
		PaymentIntentID string `json:"payment_intent_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "booking-1", data.Booking.ID)
	assert.Equal(t, "pending", data.Booking.Status)
	assert.Equal(t, "pi_123_secret_abc", data.ClientSecret)
	assert.Equal(t, "pi_123", data.PaymentIntentID)
}

func TestCreateBooking_ReplayReturnsOK(t *testing.T) {
	svc := &MockReconciliationService{
		InitiateBookingFunc: func(ctx context.Context, p domain.Principal, req *service.InitiateBookingRequest) (*service.InitiateBookingResult, error) {
			return &service.InitiateBookingResult{Booking: testBooking(domain.BookingStatusPending), Replayed: true}, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", validBookingBody(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateBooking_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body map[string]any)
	}{
		{"missing accommodation", func(b map[string]any) { delete(b, "accommodation_id") }},
		{"zero rooms", func(b map[string]any) { b["num_rooms"] = 0 }},
		{"bad date", func(b map[string]any) { b["check_in_date"] = "01/12/2026" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &MockReconciliationService{
				InitiateBookingFunc: func(ctx context.Context, p domain.Principal, req *service.InitiateBookingRequest) (*service.InitiateBookingResult, error) {
					called = true
					return nil, nil
				},
			}
			router := setupTestRouter(t, svc, "guest-1")
			body := validBookingBody()
			tt.mutate(body)

			w := doRequest(router, http.MethodPost, "/api/v1/bookings", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, called)
		})
	}
}

func TestHandlers_RequireAuthentication(t *testing.T) {
	router := setupTestRouter(t, &MockReconciliationService{}, "")

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", validBookingBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/bookings/my-bookings", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{"validation", domain.NewValidationError("amount", "does not match"), http.StatusBadRequest, "VALIDATION_ERROR", false},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN", false},
		{"not found", domain.ErrBookingNotFound, http.StatusNotFound, "NOT_FOUND", false},
		{"conflict", fmt.Errorf("update: %w", domain.ErrConcurrencyConflict), http.StatusConflict, "CONCURRENT_MODIFICATION", false},
		{"invalid transition", &domain.InvalidTransitionError{From: domain.BookingStatusCompleted, Event: domain.EventUserCancelled}, http.StatusConflict, "INVALID_TRANSITION", false},
		{"anomaly", &domain.AnomalyError{Anomaly: domain.NewAnomaly(domain.AnomalyAmountMismatch, "booking-1", "pi_123", "mismatch")}, http.StatusUnprocessableEntity, "CONSISTENCY_ANOMALY", false},
		{"transient", fmt.Errorf("retrieve: %w", domain.ErrTransientGateway), http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", true},
		{"permanent", fmt.Errorf("refund: %w", domain.ErrPermanentGateway), http.StatusPaymentRequired, "PAYMENT_REJECTED", false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockReconciliationService{
				CancelBookingFunc: func(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
					return nil, tt.err
				},
			}
			router := setupTestRouter(t, svc, "guest-1")

			w := doRequest(router, http.MethodPost, "/api/v1/bookings/booking-1/cancel", nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Equal(t, tt.retryable, env.Error.Retryable)
		})
	}
}

func TestConfirmBooking_PassesIntentID(t *testing.T) {
	svc := &MockReconciliationService{
		ConfirmBookingFunc: func(ctx context.Context, p domain.Principal, bookingID, intentID string) (*domain.Booking, error) {
			assert.Equal(t, "booking-1", bookingID)
			assert.Equal(t, "pi_123", intentID)
			return testBooking(domain.BookingStatusConfirmed), nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/booking-1/confirm", map[string]string{"payment_intent_id": "pi_123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"confirmed"`)
}

func TestConfirmBooking_Body(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCalled bool
	}{
		{name: "empty body uses the active intent", body: "", wantStatus: http.StatusOK, wantCalled: true},
		{name: "malformed json", body: `{"payment_intent_id":`, wantStatus: http.StatusBadRequest},
		{name: "wrong field type", body: `{"payment_intent_id":42}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &MockReconciliationService{
				ConfirmBookingFunc: func(ctx context.Context, p domain.Principal, bookingID, intentID string) (*domain.Booking, error) {
					called = true
					assert.Empty(t, intentID)
					return testBooking(domain.BookingStatusConfirmed), nil
				},
			}
			router := setupTestRouter(t, svc, "guest-1")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/booking-1/confirm", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, called)
			if tt.wantStatus == http.StatusBadRequest {
				env := decodeEnvelope(t, w)
				require.NotNil(t, env.Error)
				assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
			}
		})
	}
}

func TestCancelBooking_MalformedBodyIsRejected(t *testing.T) {
	svc := &MockReconciliationService{
		CancelBookingFunc: func(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
			t.Error("cancel must not run on a malformed body")
			return nil, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/booking-1/cancel", bytes.NewBufferString(`{"reason":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelBooking_PassesReason(t *testing.T) {
	svc := &MockReconciliationService{
		CancelBookingFunc: func(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
			assert.Equal(t, "change_of_plans", reason)
			return testBooking(domain.BookingStatusCancelled), nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/booking-1/cancel", map[string]string{"reason": "change_of_plans"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListMyBookings(t *testing.T) {
	svc := &MockReconciliationService{
		ListMyBookingsFunc: func(ctx context.Context, p domain.Principal, page, pageSize int) ([]*domain.BookingView, int, error) {
			assert.Equal(t, 2, page)
			assert.Equal(t, 20, pageSize)
			return []*domain.BookingView{{Booking: testBooking(domain.BookingStatusConfirmed), AccommodationName: "Seaside Inn"}}, 21, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/my-bookings?page=2&page_size=500", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	var page struct {
		Data []struct {
			AccommodationName string `json:"accommodation_name"`
		} `json:"data"`
		Total      int `json:"total"`
		TotalPages int `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 21, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Seaside Inn", page.Data[0].AccommodationName)
}

func TestCreateIntent(t *testing.T) {
	svc := &MockReconciliationService{
		CreateIntentForBookingFunc: func(ctx context.Context, p domain.Principal, req *service.CreateIntentRequest) (*service.IntentResult, error) {
			assert.Equal(t, "booking-1", req.BookingID)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("250")))
			return &service.IntentResult{
				BookingID:       req.BookingID,
				PaymentIntentID: "pi_456",
				ClientSecret:    "pi_456_secret",
				Status:          domain.IntentStatusCreated,
			}, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/payments/create-intent", map[string]any{
		"booking_id": "booking-1",
		"amount":     250,
		"currency":   "USD",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"client_secret":"pi_456_secret"`)

	w = doRequest(router, http.MethodPost, "/api/v1/payments/create-intent", map[string]any{"booking_id": "booking-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentStatusEndpoints(t *testing.T) {
	result := &service.PaymentStatusResult{
		PaymentIntentID: "pi_123",
		BookingID:       "booking-1",
		Status:          domain.IntentStatusSucceeded,
		BookingStatus:   domain.BookingStatusConfirmed,
		Amount:          decimal.RequireFromString("250.00"),
		Currency:        "USD",
	}
	svc := &MockReconciliationService{
		ConfirmPaymentFunc: func(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error) {
			return result, nil
		},
		PaymentStatusFunc: func(ctx context.Context, p domain.Principal, intentID string) (*service.PaymentStatusResult, error) {
			assert.Equal(t, "pi_123", intentID)
			return result, nil
		},
	}
	router := setupTestRouter(t, svc, "guest-1")

	w := doRequest(router, http.MethodPost, "/api/v1/payments/confirm", map[string]string{"payment_intent_id": "pi_123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"succeeded"`)

	w = doRequest(router, http.MethodGet, "/api/v1/payments/status/pi_123", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"booking_status":"confirmed"`)
}

func signedWebhook(t *testing.T, eventID, eventType string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":{"id":"pi_123","object":"payment_intent","amount":25000,"currency":"usd","metadata":{"booking_id":"booking-1"}}}}`,
		eventID, eventType, time.Now().Unix()))
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func postWebhook(router *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhook_AppliesOnceAndAcknowledgesDuplicates(t *testing.T) {
	applied := 0
	svc := &MockReconciliationService{
		ApplyGatewayEventFunc: func(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error) {
			applied++
			assert.Equal(t, domain.GatewayEventPaymentSucceeded, ev.Kind)
			assert.Equal(t, "pi_123", ev.PaymentIntentID)
			return testBooking(domain.BookingStatusConfirmed), nil
		},
	}
	router := setupTestRouter(t, svc, "")
	payload, sig := signedWebhook(t, "evt_1", "payment_intent.succeeded")

	w := postWebhook(router, payload, sig)
	require.Equal(t, http.StatusOK, w.Code)

	w = postWebhook(router, payload, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)
	assert.Equal(t, 1, applied)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	svc := &MockReconciliationService{
		ApplyGatewayEventFunc: func(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error) {
			t.Error("unverified event must not be applied")
			return nil, nil
		},
	}
	router := setupTestRouter(t, svc, "")
	payload, _ := signedWebhook(t, "evt_1", "payment_intent.succeeded")

	w := postWebhook(router, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(router, payload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"anomaly is acknowledged", &domain.AnomalyError{Anomaly: domain.NewAnomaly(domain.AnomalyUnknownIntent, "", "pi_123", "unknown")}, http.StatusOK},
		{"transient asks for redelivery", fmt.Errorf("retrieve: %w", domain.ErrTransientGateway), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockReconciliationService{
				ApplyGatewayEventFunc: func(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error) {
					return nil, tt.err
				},
			}
			router := setupTestRouter(t, svc, "")
			payload, sig := signedWebhook(t, "evt_1", "payment_intent.succeeded")

			w := postWebhook(router, payload, sig)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestWebhook_OversizedPayloadIsRejected(t *testing.T) {
	svc := &MockReconciliationService{
		ApplyGatewayEventFunc: func(ctx context.Context, ev *domain.ReconciliationEvent) (*domain.Booking, error) {
			t.Error("oversized event must not be applied")
			return nil, nil
		},
	}
	router := setupTestRouter(t, svc, "")

	head := fmt.Sprintf(`{"id":"evt_big","object":"event","type":"payment_intent.succeeded","created":%d,"padding":"`, time.Now().Unix())
	tail := `"}`
	payload := []byte(head + strings.Repeat("x", maxWebhookBody+1-len(head)-len(tail)) + tail)
	require.Len(t, payload, maxWebhookBody+1)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})

	w := postWebhook(router, payload, signed.Header)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env.Error.Code)
}

func TestWebhook_UnhandledTypeIsAcknowledged(t *testing.T) {
	router := setupTestRouter(t, &MockReconciliationService{}, "")
	payload, sig := signedWebhook(t, "evt_1", "customer.updated")

	w := postWebhook(router, payload, sig)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not handled")
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		components map[string]HealthChecker
		wantStatus int
	}{
		{"all healthy", map[string]HealthChecker{"database": fakeChecker{}, "redis": fakeChecker{}}, http.StatusOK},
		{"redis not configured", map[string]HealthChecker{"database": fakeChecker{}, "redis": nil}, http.StatusOK},
		{"database down", map[string]HealthChecker{"database": fakeChecker{err: errors.New("connection refused")}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.components)
			router := gin.New()
			router.GET("/health", h.Health)
			router.GET("/ready", h.Ready)

			w := doRequest(router, http.MethodGet, "/health", nil, nil)
			assert.Equal(t, http.StatusOK, w.Code)

			w = doRequest(router, http.MethodGet, "/ready", nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

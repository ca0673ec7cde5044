package handler

import (
	"net/http"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/dto"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentHandler handles payment HTTP requests
type PaymentHandler struct {
	service service.ReconciliationService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(svc service.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{service: svc}
}

// CreateIntent handles POST /payments/create-intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.create_intent")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("booking_id", req.BookingID),
		attribute.String("amount", req.Amount.String()),
		attribute.String("currency", req.Currency),
	)

	result, err := h.service.CreateIntentForBooking(ctx, p, &service.CreateIntentRequest{
		BookingID: req.BookingID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("payment_intent_id", result.PaymentIntentID))
	span.SetStatus(codes.Ok, "")
	response.Success(c, &dto.CreateIntentResponse{
		BookingID:       result.BookingID,
		PaymentIntentID: result.PaymentIntentID,
		ClientSecret:    result.ClientSecret,
		Status:          string(result.Status),
	})
}

// ConfirmPayment handles POST /payments/confirm
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.confirm")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.String("payment_intent_id", req.PaymentIntentID))

	result, err := h.service.ConfirmPayment(ctx, p, req.PaymentIntentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, toPaymentStatus(result))
}

// PaymentStatus handles GET /payments/status/:paymentIntentId
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		return
	}

	intentID := c.Param("paymentIntentId")
	span.SetAttributes(attribute.String("payment_intent_id", intentID))

	result, err := h.service.PaymentStatus(ctx, p, intentID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Success(c, toPaymentStatus(result))
}

func toPaymentStatus(r *service.PaymentStatusResult) *dto.PaymentStatusResponse {
	return &dto.PaymentStatusResponse{
		PaymentIntentID: r.PaymentIntentID,
		BookingID:       r.BookingID,
		Status:          string(r.Status),
		BookingStatus:   string(r.BookingStatus),
		Amount:          r.Amount,
		Currency:        r.Currency,
	}
}

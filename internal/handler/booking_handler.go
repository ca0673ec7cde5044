package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/dto"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/middleware"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	service service.ReconciliationService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(svc service.ReconciliationService) *BookingHandler {
	return &BookingHandler{service: svc}
}

// CreateBooking handles POST /bookings. The X-Idempotency-Key header (or the
// idempotency_key field) ties retried submissions to one booking and one
// payment intent.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	checkIn, checkOut, err := req.Dates()
	if err != nil {
		span.SetStatus(codes.Error, "invalid dates")
		handleError(c, err)
		return
	}

	nonce := req.IdempotencyKey
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		nonce = key
	}

	span.SetAttributes(
		attribute.String("user_id", p.UserID),
		attribute.String("accommodation_id", req.AccommodationID),
		attribute.Bool("client_idempotency_key", nonce != ""),
	)

	result, err := h.service.InitiateBooking(ctx, p, &service.InitiateBookingRequest{
		AccommodationID: req.AccommodationID,
		RoomTypeID:      req.RoomTypeID,
		CheckInDate:     checkIn,
		CheckOutDate:    checkOut,
		NumRooms:        req.NumRooms,
		NumGuests:       req.NumGuests,
		TotalPrice:      req.TotalPrice,
		Currency:        req.Currency,
		AttemptNonce:    nonce,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.Booking.ID))
	span.SetStatus(codes.Ok, "")

	resp := &dto.CreateBookingResponse{
		Booking:         dto.FromDomain(result.Booking),
		ClientSecret:    result.ClientSecret,
		PaymentIntentID: result.PaymentIntentID,
	}
	if result.Replayed {
		response.Success(c, resp)
		return
	}
	response.Created(c, resp)
}

// ConfirmBooking handles POST /bookings/:id/confirm
func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID := c.Param("id")
	var req dto.ConfirmBookingRequest
	// payment_intent_id is optional; the booking's active intent is used.
	// An empty body is fine, a malformed one is not.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("payment_intent_id", req.PaymentIntentID),
	)

	b, err := h.service.ConfirmBooking(ctx, p, bookingID, req.PaymentIntentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromDomain(b))
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID := c.Param("id")
	var req dto.CancelBookingRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := h.service.CancelBooking(ctx, p, bookingID, req.Reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromDomain(b))
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	view, err := h.service.GetBooking(ctx, p, bookingID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromView(view))
}

// ListMyBookings handles GET /bookings/my-bookings
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list_mine")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	p, ok := principal(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	views, total, err := h.service.ListMyBookings(ctx, p, page, pageSize)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("total", total))
	response.Success(c, dto.NewPaginatedResponse(views, page, pageSize, total))
}

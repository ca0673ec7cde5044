package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/dto"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/webhook"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// SignatureHeader carries the gateway's t=<unix>,v1=<hex> signature
const SignatureHeader = "Stripe-Signature"

// maxWebhookBody matches Stripe's documented maximum event size
const maxWebhookBody = 64 << 10

// WebhookHandler handles gateway callbacks
type WebhookHandler struct {
	ingestor *webhook.Ingestor
	service  service.ReconciliationService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingestor *webhook.Ingestor, svc service.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{
		ingestor: ingestor,
		service:  svc,
	}
}

// HandleWebhook handles POST /payments/webhook. Verified events are always
// acknowledged with 200 unless applying them failed transiently; the 503
// makes the gateway redeliver.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.webhook.receive")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	log := logger.Get()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		span.RecordError(err)
		response.BadRequest(c, "failed to read request body")
		return
	}
	if len(payload) > maxWebhookBody {
		span.SetStatus(codes.Error, "payload too large")
		log.Warn("webhook payload over the size limit", zap.Int("limit_bytes", maxWebhookBody))
		response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook payload too large", "")
		return
	}

	ev, err := h.ingestor.Ingest(ctx, payload, c.GetHeader(SignatureHeader))
	var verr *webhook.VerificationError
	switch {
	case errors.As(err, &verr):
		span.SetStatus(codes.Error, "invalid signature")
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature verification failed", verr.Reason)
		return
	case errors.Is(err, webhook.ErrUnhandledEvent):
		c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, Message: "event type not handled"})
		return
	case errors.Is(err, domain.ErrDuplicateEvent):
		c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, EventID: ev.EventID, Duplicate: true})
		return
	case err != nil:
		span.RecordError(err)
		handleError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("event_id", ev.EventID),
		attribute.String("payment_intent_id", ev.PaymentIntentID),
	)

	b, applyErr := h.service.ApplyGatewayEvent(ctx, ev)
	h.ingestor.Complete(ctx, ev, applyErr)

	switch {
	case applyErr == nil:
		log.Info("webhook applied",
			zap.String("event_id", ev.EventID),
			zap.String("booking_id", b.ID),
			zap.String("status", string(b.Status)),
		)
		span.SetStatus(codes.Ok, "")
		c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, EventID: ev.EventID})
	case domain.IsRetryable(applyErr):
		span.RecordError(applyErr)
		response.Retryable(c, http.StatusServiceUnavailable, "RETRY_LATER", "event could not be applied yet")
	default:
		// anomalies are filed for review; a redelivery would not help
		log.Warn("webhook not applied",
			zap.String("event_id", ev.EventID),
			zap.String("payment_intent_id", ev.PaymentIntentID),
			zap.Error(applyErr),
		)
		c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, EventID: ev.EventID, Message: "recorded for review"})
	}
}

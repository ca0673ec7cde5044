package handler

import (
	"errors"
	"net/http"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/middleware"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleError maps reconciliation errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	var anomalyErr *domain.AnomalyError

	switch {
	case errors.As(err, &validationErr):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Error(), validationErr.Field)
	case errors.Is(err, domain.ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(c, "booking does not belong to caller")
	case errors.Is(err, domain.ErrBookingNotFound):
		response.NotFound(c, "booking not found")
	case errors.Is(err, domain.ErrIntentNotFound):
		response.NotFound(c, "payment intent not found")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		response.Conflict(c, "CONCURRENT_MODIFICATION", "booking was modified concurrently, please retry")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Conflict(c, "INVALID_TRANSITION", err.Error())
	case errors.As(err, &anomalyErr):
		response.Error(c, http.StatusUnprocessableEntity, "CONSISTENCY_ANOMALY",
			"payment state needs manual review", string(anomalyErr.Anomaly.Kind))
	case errors.Is(err, domain.ErrTransientGateway):
		response.Retryable(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway is temporarily unavailable")
	case errors.Is(err, domain.ErrPermanentGateway):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_REJECTED", "payment was rejected by the gateway", err.Error())
	default:
		logger.Get().Error("unhandled error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("trace_id", telemetry.GetTraceID(c.Request.Context())),
			zap.Error(err),
		)
		response.InternalError(c, err)
	}
}

// principal returns the authenticated caller or writes 401
func principal(c *gin.Context) (domain.Principal, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return domain.Principal{}, false
	}
	return domain.Principal{UserID: userID}, true
}

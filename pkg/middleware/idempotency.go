package middleware

import (
	"net/http"

	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	// IdempotencyKeyHeader lets a client tie retried requests to one logical attempt
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the context key for the idempotency key
	ContextKeyIdempotencyKey = "idempotency_key"

	maxIdempotencyKeyLength = 255
)

// IdempotencyKey captures an optional X-Idempotency-Key header. Deduplication
// itself happens in the service layer, which folds the key into the gateway
// idempotency key.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if len(key) > maxIdempotencyKeyLength {
			c.Abort()
			response.Error(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "X-Idempotency-Key is too long", "")
			return
		}
		if key != "" {
			c.Set(ContextKeyIdempotencyKey, key)
		}
		c.Next()
	}
}

// GetIdempotencyKey extracts the idempotency key from gin context
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key, exists := c.Get(ContextKeyIdempotencyKey)
	if !exists {
		return "", false
	}
	k, ok := key.(string)
	return k, ok
}

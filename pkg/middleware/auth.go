package middleware

import (
	"errors"
	"strings"

	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserIDHeader is set by the API gateway after it has authenticated the caller
	UserIDHeader = "X-User-ID"
	// ContextKeyUserID is the gin context key holding the authenticated user id
	ContextKeyUserID = "user_id"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthConfig configures principal extraction
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// TrustGatewayHeader accepts X-User-ID when no bearer token is present
	TrustGatewayHeader bool
}

// Auth establishes the authenticated principal before handlers run
func Auth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := extractUserID(c, cfg)
		if err != nil {
			c.Abort()
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

func extractUserID(c *gin.Context, cfg *AuthConfig) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", ErrInvalidToken
		}
		return ParseUserID(token, cfg)
	}

	if cfg.TrustGatewayHeader {
		if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
			return userID, nil
		}
	}

	return "", ErrMissingCredentials
}

// ParseUserID validates an HMAC-signed access token and returns its subject
func ParseUserID(tokenString string, cfg *AuthConfig) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", ErrInvalidToken
}

// GetUserID returns the principal set by Auth
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}

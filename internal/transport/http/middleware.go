package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/core"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"

	// HeaderRelayKey carries the internal publish API key.
	HeaderRelayKey = "X-Relay-Key"
)

// AuthMiddleware creates a middleware that validates bearer tokens. A zero
// timeout leaves verification bounded only by the request.
func AuthMiddleware(verifier auth.Verifier, timeout time.Duration, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized, Reason: "missing authorization header"})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			logger.Debug().Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized, Reason: "invalid authorization header format"})
			return
		}

		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		id, err := verifier.Verify(ctx, strings.TrimSpace(parts[1]))
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			reason := "invalid token"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "verification timed out"
			}
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized, Reason: reason})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyUsername, id.Username)

		c.Next()
	}
}

// APIKeyMiddleware admits requests whose X-Relay-Key matches the configured hash.
func APIKeyMiddleware(keys *auth.APIKeyChecker, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.Check(c.GetHeader(HeaderRelayKey)) {
			logger.Warn().Str("remote", c.ClientIP()).Msg("internal api key rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized})
			return
		}
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

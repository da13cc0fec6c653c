package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/gateway"
	"github.com/vovakirdan/wirerelay/internal/relay"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// Hub is the part of core.Hub the transport talks to.
type Hub interface {
	Submit(ctx context.Context, conn *core.Connection, cmd *core.Command) error
	Presence(ctx context.Context, userID int64) (core.Presence, error)
	Done() <-chan struct{}
}

// Relay is the part of relay.Relay the transport talks to.
type Relay interface {
	MessageDelivered(ctx context.Context, senderID, recipientID int64, content string) (*store.Message, error)
	Dispatch(ctx context.Context, name string, data json.RawMessage) error
}

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Hub      Hub
	Gateway  *gateway.Gateway
	Relay    Relay
	Verifier auth.Verifier
	// APIKeys guards POST /internal/events. Nil leaves the endpoint unregistered.
	APIKeys *auth.APIKeyChecker
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// PresenceResponse is the body of GET /api/presence/:userId.
type PresenceResponse struct {
	UserID      int64 `json:"user_id"`
	Online      bool  `json:"online"`
	Connections int   `json:"connections"`
}

// PublishRequest is the body of POST /internal/events.
type PublishRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// NewServer builds an HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine serving the websocket endpoint and the HTTP API.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	httpLog := logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(&httpLog))

	r.GET("/health", healthHandler)
	r.GET("/ws", gin.WrapH(NewWSHandler(deps, cfg, &httpLog)))

	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.Verifier, cfg.Auth.VerifyTimeout, &httpLog))
	api.GET("/presence/:userId", presenceHandler(deps.Hub, &httpLog))

	if deps.APIKeys != nil {
		internal := r.Group("/internal")
		internal.Use(APIKeyMiddleware(deps.APIKeys, &httpLog))
		internal.POST("/events", publishHandler(deps.Relay, &httpLog))
	} else {
		httpLog.Warn().Msg("relay.api_key_hash is empty, internal publish API disabled")
	}

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// presenceHandler reports whether a user has live connections.
// GET /api/presence/:userId
func presenceHandler(hub Hub, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil || userID <= 0 {
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: core.ErrCodeBadRequest, Reason: "invalid user id"})
			return
		}

		p, err := hub.Presence(c.Request.Context(), userID)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("presence query")
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: core.ErrCodeInternal})
			return
		}

		c.JSON(stdhttp.StatusOK, PresenceResponse{
			UserID:      p.UserID,
			Online:      p.Online,
			Connections: p.Connections,
		})
	}
}

// publishHandler lets the CRUD layer push domain events into the relay.
// POST /internal/events
func publishHandler(rl Relay, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PublishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: core.ErrCodeBadRequest, Reason: "invalid request body"})
			return
		}

		err := rl.Dispatch(c.Request.Context(), req.Event, req.Data)
		switch {
		case err == nil:
			c.JSON(stdhttp.StatusAccepted, gin.H{"status": "accepted"})
		case errors.Is(err, relay.ErrUnknownEvent), errors.Is(err, core.ErrBadRequest):
			logger.Debug().Err(err).Str("event", req.Event).Msg("publish rejected")
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: core.ErrCodeBadRequest, Reason: err.Error()})
		default:
			logger.Error().Err(err).Str("event", req.Event).Msg("publish failed")
			c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: core.ErrCodeInternal})
		}
	}
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// Lifecycle event kinds.
const (
	ConnectionEstablished = "connection_established"
	ConnectionClosed      = "connection_closed"
)

// DefaultVerifyTimeout bounds token verification when Options leaves it unset.
const DefaultVerifyTimeout = 3 * time.Second

// LifecycleEvent is emitted when a connection is admitted or leaves.
type LifecycleEvent struct {
	Kind         string
	ConnectionID string
	UserID       int64
	At           time.Time
}

// AuthError is returned by Connect when the credential is refused. It matches core.ErrAuth.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return "unauthorized: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == core.ErrAuth }

// Registrar is the part of core.Hub the gateway needs.
type Registrar interface {
	Register(ctx context.Context, conn *core.Connection) error
	Unregister(conn *core.Connection)
}

// Options tunes the gateway.
type Options struct {
	VerifyTimeout time.Duration
	SendBuffer    int
}

// Gateway admits authenticated connections into the hub.
type Gateway struct {
	verifier auth.Verifier
	hub      Registrar
	users    store.UserStore
	opts     Options
	log      *zerolog.Logger

	mu        sync.RWMutex
	observers []func(LifecycleEvent)
}

// New builds a gateway. users may be nil when tokens always carry a username.
func New(verifier auth.Verifier, hub Registrar, users store.UserStore, opts Options, logger *zerolog.Logger) *Gateway {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultVerifyTimeout
	}
	gwLog := logger.With().Str("component", "gateway").Logger()
	return &Gateway{
		verifier: verifier,
		hub:      hub,
		users:    users,
		opts:     opts,
		log:      &gwLog,
	}
}

// OnLifecycle registers fn to be called for every lifecycle event.
func (g *Gateway) OnLifecycle(fn func(LifecycleEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// Connect verifies credential and registers a new connection. The returned
// connection is already reachable through its user room.
func (g *Gateway) Connect(ctx context.Context, credential string) (*core.Connection, error) {
	vctx, cancel := context.WithTimeout(ctx, g.opts.VerifyTimeout)
	defer cancel()

	id, err := g.verify(vctx, credential)
	if err != nil {
		authErr := &AuthError{Reason: reasonFor(err), Err: err}
		g.log.Info().Str("reason", authErr.Reason).Msg("handshake refused")
		return nil, authErr
	}

	username := id.Username
	if username == "" {
		username = g.lookupUsername(vctx, id.UserID)
	} else {
		g.rememberUsername(vctx, id.UserID, username)
	}

	conn := core.NewConnection(id.UserID, username, g.opts.SendBuffer)
	if err := g.hub.Register(ctx, conn); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	g.emit(LifecycleEvent{Kind: ConnectionEstablished, ConnectionID: conn.ID, UserID: conn.UserID, At: time.Now()})
	return conn, nil
}

// Disconnect removes conn from the hub and tears down its calls. Safe to call twice.
func (g *Gateway) Disconnect(conn *core.Connection) {
	g.hub.Unregister(conn)
	g.emit(LifecycleEvent{Kind: ConnectionClosed, ConnectionID: conn.ID, UserID: conn.UserID, At: time.Now()})
}

// verify runs the verifier but never waits past ctx, even if the verifier ignores it.
func (g *Gateway) verify(ctx context.Context, credential string) (auth.Identity, error) {
	if credential == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}

	type result struct {
		id  auth.Identity
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := g.verifier.Verify(ctx, credential)
		done <- result{id: id, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.id.UserID <= 0 {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return res.id, res.err
	case <-ctx.Done():
		return auth.Identity{}, ctx.Err()
	}
}

func (g *Gateway) lookupUsername(ctx context.Context, userID int64) string {
	if g.users == nil {
		return ""
	}
	u, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.log.Warn().Err(err).Int64("user_id", userID).Msg("profile lookup")
		}
		return ""
	}
	return u.Username
}

// rememberUsername records a verified username so later lookups for tokens
// without one, and relay display names, can resolve it.
func (g *Gateway) rememberUsername(ctx context.Context, userID int64, username string) {
	if g.users == nil {
		return
	}
	if err := g.users.UpsertUser(ctx, userID, username); err != nil {
		g.log.Warn().Err(err).Int64("user_id", userID).Msg("record profile")
	}
}

func (g *Gateway) emit(ev LifecycleEvent) {
	g.log.Info().
		Str("event", ev.Kind).
		Str("conn_id", ev.ConnectionID).
		Int64("user_id", ev.UserID).
		Msg("lifecycle")

	g.mu.RLock()
	observers := g.observers
	g.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "missing token"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, context.DeadlineExceeded):
		return "verification timed out"
	case errors.Is(err, context.Canceled):
		return "handshake cancelled"
	default:
		return "invalid token"
	}
}

// Credential extracts the bearer token from the handshake request: the
// Authorization header first, then the access_token query parameter for
// browsers that cannot set headers on websocket requests.
func Credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/gateway"
	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/relay"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	relay           *relay.Relay
	store           store.Store
	log             *zerolog.Logger
	configPath      string
	overrides       config.Config
}

// New constructs the application with provided configuration. configPath,
// when set, is watched for live changes; overrides are the command-line values
// already merged into cfg and win over every reloaded file.
func New(cfg *config.Config, configPath string, overrides config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a, err := newWithStore(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.configPath = configPath
	a.overrides = overrides
	return a, nil
}

func newWithStore(cfg *config.Config, st store.Store, logger *zerolog.Logger) (*App, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	hub := core.NewHub(logger, core.HubConfig{RingTimeout: cfg.Calls.RingTimeout})
	gw := gateway.New(verifier, hub, st, gateway.Options{
		VerifyTimeout: cfg.Auth.VerifyTimeout,
		SendBuffer:    cfg.WS.SendBuffer,
	}, logger)
	rl := relay.New(hub, st, cfg.Relay.Fanout, logger)

	deps := transporthttp.Deps{
		Hub:      hub,
		Gateway:  gw,
		Relay:    rl,
		Verifier: verifier,
	}
	if cfg.Relay.APIKeyHash != "" {
		deps.APIKeys = auth.NewAPIKeyChecker(cfg.Relay.APIKeyHash)
	}

	return &App{
		server:          transporthttp.NewServer(deps, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		relay:           rl,
		store:           st,
		log:             logger,
	}, nil
}

// Relay exposes the event relay for in-process callers.
func (a *App) Relay() *relay.Relay {
	return a.relay
}

// Run starts the hub and the HTTP server and blocks until ctx is cancelled
// or either of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	if a.configPath != "" {
		config.Watch(a.log, a.configPath, a.reload)
	}

	g, gctx := errgroup.WithContext(ctx)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)

		// Websocket handlers are hijacked and not tracked by Shutdown; stopping
		// the hub makes them close with a going-away status.
		stopHub()
		select {
		case <-hubDone:
		case <-shutdownCtx.Done():
		}
		return err
	})

	return g.Wait()
}

// reload applies the keys that are safe to change on a running server.
func (a *App) reload(cfg config.Config) {
	cfg.UpdateFrom(a.overrides)
	log.SetLevel(cfg.Log.Level)
	a.hub.SetRingTimeout(cfg.Calls.RingTimeout)
	a.log.Info().
		Str("log_level", cfg.Log.Level).
		Dur("ring_timeout", a.hub.RingTimeout()).
		Msg("applied live config")
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

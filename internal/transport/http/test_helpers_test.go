package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/gateway"
	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/relay"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
)

const (
	testJWTSecret = "testsecret"
	testRelayKey  = "relay-key"
)

type testServer struct {
	*httptest.Server
	hub     *core.Hub
	stopHub context.CancelFunc
	jwt     auth.JWTConfig
}

// startTestServer runs the full stack against an in-memory database.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	hash, err := auth.HashAPIKey(testRelayKey)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}

	cfg := config.Default()
	cfg.JWT.Secret = testJWTSecret
	cfg.Relay.APIKeyHash = hash
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	hub := core.NewHub(logger, core.HubConfig{RingTimeout: cfg.Calls.RingTimeout})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	jwtCfg := auth.JWTConfig{Secret: []byte(cfg.JWT.Secret), TTL: time.Minute}
	verifier := auth.NewJWTVerifier(jwtCfg)

	deps := Deps{
		Hub:      hub,
		Gateway:  gateway.New(verifier, hub, st, gateway.Options{VerifyTimeout: cfg.Auth.VerifyTimeout, SendBuffer: cfg.WS.SendBuffer}, logger),
		Relay:    relay.New(hub, st, cfg.Relay.Fanout, logger),
		Verifier: verifier,
	}
	if cfg.Relay.APIKeyHash != "" {
		deps.APIKeys = auth.NewAPIKeyChecker(cfg.Relay.APIKeyHash)
	}

	ts := httptest.NewServer(NewRouter(deps, &cfg, logger))
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, hub: hub, stopHub: cancel, jwt: jwtCfg}
}

func (s *testServer) token(t *testing.T, userID int64, username string) string {
	t.Helper()

	token, err := auth.GenerateToken(&s.jwt, userID, username)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.URL, "http", "ws", 1) + "/ws"
}

// dial connects as userID and consumes the ready event.
func (s *testServer) dial(ctx context.Context, t *testing.T, userID int64, username string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token(t, userID, username))
	conn, _, err := websocket.Dial(ctx, s.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial user %d: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	ready := readOutbound(ctx, t, conn)
	if ready.Type != proto.OutboundTypeEvent || ready.Event != proto.EventReady {
		t.Fatalf("expected ready, got %+v", ready)
	}
	return conn
}

// wireOutbound mirrors proto.Outbound with raw data for decoding in tests.
type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readOutbound(ctx context.Context, t *testing.T, conn *websocket.Conn) wireOutbound {
	t.Helper()

	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

// expectEvent reads until an event with the given name arrives.
func expectEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, name string, into any) {
	t.Helper()

	for {
		out := readOutbound(ctx, t, conn)
		if out.Type == proto.OutboundTypeError {
			t.Fatalf("expected %s, got error %+v", name, out.Error)
		}
		if out.Event != name {
			continue
		}
		if into != nil {
			if err := json.Unmarshal(out.Data, into); err != nil {
				t.Fatalf("decode %s: %v", name, err)
			}
		}
		return
	}
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		raw = b
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// waitOnline polls presence until userID has n connections.
func (s *testServer) waitOnline(t *testing.T, userID int64, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := s.hub.Presence(context.Background(), userID)
		if err == nil && p.Connections == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %d never reached %d connections", userID, n)
}

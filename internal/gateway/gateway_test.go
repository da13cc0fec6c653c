package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/auth"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
)

type stubVerifier struct {
	id    auth.Identity
	err   error
	delay time.Duration
}

func (v stubVerifier) Verify(_ context.Context, _ string) (auth.Identity, error) {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	return v.id, v.err
}

func startHub(t *testing.T) *core.Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := core.NewHub(log.Nop(), core.HubConfig{})
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func TestConnectRegistersAndEmitsLifecycle(t *testing.T) {
	hub := startHub(t)
	secret := auth.JWTConfig{Secret: []byte("s"), TTL: time.Minute}
	gw := New(auth.NewJWTVerifier(secret), hub, nil, Options{}, log.Nop())

	var mu sync.Mutex
	var seen []LifecycleEvent
	gw.OnLifecycle(func(ev LifecycleEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	token, err := auth.GenerateToken(&secret, 42, "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	ctx := context.Background()
	conn, err := gw.Connect(ctx, token)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if conn.UserID != 42 || conn.Username != "alice" {
		t.Fatalf("unexpected connection %+v", conn)
	}

	p, err := hub.Presence(ctx, 42)
	if err != nil || !p.Online {
		t.Fatalf("expected user online right after connect, got %+v (%v)", p, err)
	}

	gw.Disconnect(conn)
	p, _ = hub.Presence(ctx, 42)
	if p.Online {
		t.Fatal("expected user offline after disconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0].Kind != ConnectionEstablished || seen[1].Kind != ConnectionClosed {
		t.Fatalf("unexpected lifecycle events %+v", seen)
	}
	if seen[1].UserID != 42 {
		t.Fatalf("connection_closed must carry the user id, got %d", seen[1].UserID)
	}
}

func TestConnectRejections(t *testing.T) {
	hub := startHub(t)
	cases := []struct {
		name     string
		verifier auth.Verifier
		token    string
		reason   string
	}{
		{"missing", stubVerifier{}, "", "missing token"},
		{"expired", stubVerifier{err: auth.ErrTokenExpired}, "t", "token expired"},
		{"invalid", stubVerifier{err: auth.ErrInvalidToken}, "t", "invalid token"},
		{"no user id", stubVerifier{id: auth.Identity{}}, "t", "invalid token"},
		{"slow verifier", stubVerifier{id: auth.Identity{UserID: 1}, delay: 500 * time.Millisecond}, "t", "verification timed out"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := New(tc.verifier, hub, nil, Options{VerifyTimeout: 50 * time.Millisecond}, log.Nop())

			start := time.Now()
			conn, err := gw.Connect(context.Background(), tc.token)
			if conn != nil {
				t.Fatal("no connection may exist after a refused handshake")
			}
			if !errors.Is(err, core.ErrAuth) {
				t.Fatalf("expected ErrAuth, got %v", err)
			}
			var authErr *AuthError
			if !errors.As(err, &authErr) || authErr.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %v", tc.reason, err)
			}
			if time.Since(start) > 400*time.Millisecond {
				t.Fatal("verification was not bounded by the timeout")
			}
		})
	}
}

func TestConnectFillsUsernameFromProfile(t *testing.T) {
	hub := startHub(t)
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	// A token that names the user records the profile.
	named := New(stubVerifier{id: auth.Identity{UserID: 9, Username: "carol"}}, hub, st, Options{}, log.Nop())
	if _, err := named.Connect(ctx, "t"); err != nil {
		t.Fatalf("connect with username: %v", err)
	}
	if u, err := st.GetUserByID(ctx, 9); err != nil || u.Username != "carol" {
		t.Fatalf("profile not recorded: %+v %v", u, err)
	}

	// A later token with only the id resolves it.
	bare := New(stubVerifier{id: auth.Identity{UserID: 9}}, hub, st, Options{}, log.Nop())
	conn, err := bare.Connect(ctx, "t")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if conn.Username != "carol" {
		t.Fatalf("expected username from profile, got %q", conn.Username)
	}
}

func TestCredential(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?access_token=from-query", nil)
	if got := Credential(r); got != "from-query" {
		t.Fatalf("expected query token, got %q", got)
	}

	r.Header.Set("Authorization", "Bearer from-header")
	if got := Credential(r); got != "from-header" {
		t.Fatalf("header should win, got %q", got)
	}

	r.Header.Set("Authorization", "Basic abc")
	if got := Credential(r); got != "" {
		t.Fatalf("non-bearer scheme must yield nothing, got %q", got)
	}
}

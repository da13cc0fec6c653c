package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// ErrClosed is returned by operations on a closed transport or session.
var ErrClosed = errors.New("client closed")

const defaultWriteTimeout = 5 * time.Second

// Envelope is a server message with its data left raw.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

// Transport moves protocol envelopes between a Session and the server.
// Send must be safe for concurrent use; Recv is called from one goroutine.
type Transport interface {
	Send(ctx context.Context, msg proto.Inbound) error
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}

// WSTransport is a Transport over a gorilla websocket connection.
type WSTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Dial connects to the relay at url, presenting token as a bearer credential.
func Dial(ctx context.Context, url, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var body struct {
				Reason string `json:"reason"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return nil, fmt.Errorf("dial %s: status %d %s: %w", url, resp.StatusCode, body.Reason, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSTransport{conn: conn}, nil
}

// Send writes one envelope. The write deadline comes from ctx, or a default.
func (t *WSTransport) Send(ctx context.Context, msg proto.Inbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(msg)
}

// Recv blocks for the next envelope. gorilla reads do not observe ctx, so
// cancellation closes the connection to unblock the read.
func (t *WSTransport) Recv(ctx context.Context) (Envelope, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	var env Envelope
	if err := t.conn.ReadJSON(&env); err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, err
	}
	return env, nil
}

// Close sends a normal closure and closes the connection. Safe to call twice.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

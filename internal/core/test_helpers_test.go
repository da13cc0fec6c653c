package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, cfg)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func connect(t *testing.T, hub *Hub, userID int64, name string) *Connection {
	t.Helper()

	conn := NewConnection(userID, name, 32)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Register(ctx, conn); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return conn
}

func submit(t *testing.T, hub *Hub, conn *Connection, cmd *Command) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Submit(ctx, conn, cmd); err != nil {
		t.Fatalf("submit %v: %v", cmd.Kind, err)
	}
}

func offer(to int64, kind MediaKind) *Command {
	return &Command{
		Kind:      CommandCallOffer,
		ToUserID:  to,
		MediaKind: kind,
		Payload:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
}

func answer(to int64) *Command {
	return &Command{
		Kind:     CommandCallAnswer,
		ToUserID: to,
		Payload:  json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	}
}

func candidate(to int64, n int) *Command {
	payload, _ := json.Marshal(map[string]any{"candidate": "candidate:" + string(rune('0'+n)), "sdpMid": "0"})
	return &Command{Kind: CommandCallICECandidate, ToUserID: to, Payload: payload}
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// nextEvent returns the very next event without skipping anything.
func nextEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()

	select {
	case ev := <-ch:
		if ev == nil {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func mustNoEvent(t *testing.T, ch <-chan *Event, wait time.Duration) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %v: %+v", ev.Kind, ev)
		}
	case <-time.After(wait):
	}
}

// settle makes sure the hub has finished every command submitted before it.
func settle(t *testing.T, hub *Hub) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := hub.ActiveCalls(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func activeCalls(t *testing.T, hub *Hub) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := hub.ActiveCalls(ctx)
	if err != nil {
		t.Fatalf("active calls: %v", err)
	}
	return n
}

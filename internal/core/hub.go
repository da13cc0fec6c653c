package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRingTimeout applies when HubConfig.RingTimeout is zero.
const DefaultRingTimeout = 30 * time.Second

// HubConfig tunes the hub.
type HubConfig struct {
	RingTimeout time.Duration
}

// Presence is a snapshot of one user's connectivity.
type Presence struct {
	UserID      int64
	Online      bool
	Connections int
}

type registration struct {
	conn *Connection
	done chan struct{}
}

type submission struct {
	conn *Connection
	cmd  *Command
}

type query struct {
	fn   func()
	done chan struct{}
}

type ringExpiry struct {
	key       PairKey
	sessionID string
}

// Hub owns the presence registry and the call session table. Every mutation
// happens on the goroutine running Run; other goroutines talk to it through
// channels.
type Hub struct {
	log *zerolog.Logger

	registry *Registry
	sessions map[PairKey]*CallSession

	register   chan registration
	unregister chan registration
	commands   chan submission
	publishTo  chan delivery
	queries    chan query
	expiries   chan ringExpiry

	ringTimeout atomic.Int64
	stopped     chan struct{}
}

type delivery struct {
	event   *Event
	targets []string
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(logger *zerolog.Logger, cfg HubConfig) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hubLog := logger.With().Str("component", "hub").Logger()

	h := &Hub{
		log:        &hubLog,
		registry:   NewRegistry(),
		sessions:   make(map[PairKey]*CallSession),
		register:   make(chan registration),
		unregister: make(chan registration),
		commands:   make(chan submission),
		publishTo:  make(chan delivery, 256),
		queries:    make(chan query),
		expiries:   make(chan ringExpiry, 16),
		stopped:    make(chan struct{}),
	}
	h.SetRingTimeout(cfg.RingTimeout)
	return h
}

// SetRingTimeout changes the timeout for calls offered from now on.
func (h *Hub) SetRingTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultRingTimeout
	}
	h.ringTimeout.Store(int64(d))
}

// RingTimeout returns the current ring timeout.
func (h *Hub) RingTimeout() time.Duration {
	return time.Duration(h.ringTimeout.Load())
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info().Msg("hub started")
	defer func() {
		for _, s := range h.sessions {
			s.stopTimer()
		}
		close(h.stopped)
		h.log.Info().Msg("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-h.register:
			h.handleRegister(reg.conn)
			close(reg.done)
		case reg := <-h.unregister:
			h.handleUnregister(reg.conn)
			close(reg.done)
		case sub := <-h.commands:
			h.handleCommand(sub.conn, sub.cmd)
		case d := <-h.publishTo:
			h.handlePublish(d)
		case q := <-h.queries:
			q.fn()
			close(q.done)
		case exp := <-h.expiries:
			h.handleRingTimeout(exp)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

// Register adds conn to the registry and its private user room. It returns
// once the hub has processed the registration.
func (h *Hub) Register(ctx context.Context, conn *Connection) error {
	reg := registration{conn: conn, done: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
	<-reg.done
	return nil
}

// Unregister removes conn, tears down the calls it was carrying and closes
// conn.Events. It returns once the hub has processed the removal and is a
// no-op for unknown connections.
func (h *Hub) Unregister(conn *Connection) {
	reg := registration{conn: conn, done: make(chan struct{})}
	select {
	case h.unregister <- reg:
		<-reg.done
	case <-h.stopped:
	}
}

// Submit hands a command from conn to the hub. Commands from one connection
// are processed in submission order; commands from unregistered connections
// are discarded.
func (h *Hub) Submit(ctx context.Context, conn *Connection, cmd *Command) error {
	select {
	case h.commands <- submission{conn: conn, cmd: cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
}

// Publish fans ev out to the members of its target rooms, at most once per
// connection. Rooms with no members are a silent no-op.
func (h *Hub) Publish(ctx context.Context, ev DomainEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrBadRequest)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}

	d := delivery{
		event:   &Event{Kind: EventRelay, Relay: &RelayEvent{Name: ev.Type, Payload: payload}},
		targets: ev.Targets,
	}
	select {
	case h.publishTo <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
}

// Presence reports whether userID is online, answered by the hub goroutine.
func (h *Hub) Presence(ctx context.Context, userID int64) (Presence, error) {
	var p Presence
	err := h.do(ctx, func() {
		n := len(h.registry.RouteTo(userID))
		p = Presence{UserID: userID, Online: n > 0, Connections: n}
	})
	return p, err
}

// Reachable reports whether userID has at least one live connection.
func (h *Hub) Reachable(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := h.do(ctx, func() { ok = h.registry.Reachable(userID) })
	return ok, err
}

// ActiveCalls returns the number of live call sessions.
func (h *Hub) ActiveCalls(ctx context.Context) (int, error) {
	var n int
	err := h.do(ctx, func() { n = len(h.sessions) })
	return n, err
}

func (h *Hub) do(ctx context.Context, fn func()) error {
	q := query{fn: fn, done: make(chan struct{})}
	select {
	case h.queries <- q:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
	<-q.done
	return nil
}

func (h *Hub) handleRegister(conn *Connection) {
	if !h.registry.Register(conn) {
		return
	}
	h.log.Debug().
		Str("conn_id", conn.ID).
		Int64("user_id", conn.UserID).
		Int("connections", h.registry.Len()).
		Msg("connection registered")
}

func (h *Hub) handleUnregister(conn *Connection) {
	if !h.registry.Unregister(conn) {
		return
	}
	h.teardownCalls(conn)
	close(conn.Events)
	h.log.Debug().
		Str("conn_id", conn.ID).
		Int64("user_id", conn.UserID).
		Int("connections", h.registry.Len()).
		Msg("connection unregistered")
}

func (h *Hub) handleCommand(conn *Connection, cmd *Command) {
	if cmd == nil || !h.registry.Has(conn) {
		return
	}

	switch cmd.Kind {
	case CommandCallOffer:
		h.handleOffer(conn, cmd)
	case CommandCallAnswer:
		h.handleAnswer(conn, cmd)
	case CommandCallICECandidate:
		h.handleCandidate(conn, cmd)
	case CommandCallHangup:
		h.handleHangup(conn, cmd)
	case CommandCallReject:
		h.handleReject(conn, cmd)
	case CommandJoinRoom:
		h.handleJoin(conn, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeave(conn, cmd.Room)
	case CommandPing:
		h.send(conn, &Event{Kind: EventPong})
	default:
		h.sendError(conn, fmt.Errorf("%w: unknown command", ErrBadRequest))
	}
}

func (h *Hub) handleJoin(conn *Connection, room string) {
	if room == "" || room == Broadcast || IsUserRoom(room) {
		h.sendError(conn, fmt.Errorf("%w: room %q cannot be joined", ErrBadRequest, room))
		return
	}
	h.registry.Join(conn, room)
	h.send(conn, &Event{Kind: EventRoomJoined, Room: room})
}

func (h *Hub) handleLeave(conn *Connection, room string) {
	if IsUserRoom(room) {
		h.sendError(conn, fmt.Errorf("%w: private room cannot be left", ErrBadRequest))
		return
	}
	if !h.registry.Leave(conn, room) {
		h.sendError(conn, fmt.Errorf("%w: %s", ErrNotInRoom, room))
		return
	}
	h.send(conn, &Event{Kind: EventRoomLeft, Room: room})
}

func (h *Hub) handlePublish(d delivery) {
	var recipients []*Connection
	if broadcastTarget(d.targets) {
		recipients = h.registry.All()
	} else {
		seen := make(map[*Connection]struct{})
		for _, room := range d.targets {
			for _, c := range h.registry.Members(room) {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				recipients = append(recipients, c)
			}
		}
	}

	for _, c := range recipients {
		h.send(c, d.event)
	}
	h.log.Debug().
		Str("event", d.event.Relay.Name).
		Int("recipients", len(recipients)).
		Msg("relayed")
}

func broadcastTarget(targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if t == Broadcast {
			return true
		}
	}
	return false
}

// send enqueues ev without blocking. A full queue means a slow consumer and the event is dropped.
func (h *Hub) send(conn *Connection, ev *Event) bool {
	select {
	case conn.Events <- ev:
		return true
	default:
		h.log.Warn().
			Str("conn_id", conn.ID).
			Int64("user_id", conn.UserID).
			Str("event", ev.Kind.String()).
			Msg("slow consumer, event dropped")
		return false
	}
}

func (h *Hub) sendError(conn *Connection, err error) {
	h.send(conn, errorEvent(err))
}

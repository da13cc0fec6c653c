package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

var (
	// ErrUnknownSession is returned for session IDs this client does not hold.
	ErrUnknownSession = errors.New("unknown call session")
	// ErrUnreachable is returned by Originate when the callee has no live connection.
	ErrUnreachable = errors.New("callee unreachable")
	// ErrOriginating is returned when Originate is called while another offer is pending.
	ErrOriginating = errors.New("another call is being placed")
)

// ServerError is an error envelope returned by the relay.
type ServerError struct {
	Code string
	Msg  string
}

func (e *ServerError) Error() string {
	return e.Code + ": " + e.Msg
}

// NotificationKind tells subscribers what happened.
type NotificationKind int

const (
	// NotifyIncoming is a call offer waiting for Accept or Reject.
	NotifyIncoming NotificationKind = iota
	// NotifyAnswered means the callee accepted an originated call.
	NotifyAnswered
	// NotifyCandidate is a remote ICE candidate, already applied to the peer.
	NotifyCandidate
	// NotifyEnded is any termination: hangup, reject, timeout or failure.
	NotifyEnded
	// NotifyRelay is a feed or message event.
	NotifyRelay
	// NotifyError is an error the server sent outside Originate.
	NotifyError
)

// Notification is delivered to subscribers.
type Notification struct {
	Kind         NotificationKind
	SessionID    string
	PeerUserID   int64
	PeerUsername string
	MediaKind    core.MediaKind
	// Reason is set for NotifyEnded; Event names the kind of ending.
	Reason string
	Event  string
	Data   json.RawMessage
	Err    *ServerError
}

type call struct {
	id         string
	peerUserID int64
	kind       core.MediaKind
	peer       Peer
	offer      *webrtc.SessionDescription // incoming offers until accepted
}

type originateResult struct {
	sessionID string
	err       error
}

type pendingOffer struct {
	target int64
	kind   core.MediaKind
	peer   Peer
	done   chan originateResult
}

// Session is the call and event API a UI uses. It is one code path for audio
// and video; media kind is a parameter.
type Session struct {
	transport Transport
	peers     PeerFactory
	log       *zerolog.Logger

	originating sync.Mutex

	mu      sync.Mutex
	calls   map[string]*call
	pending *pendingOffer
	subs    map[int]chan Notification
	nextSub int
	ready   proto.ReadyData

	done chan struct{}
}

// NewSession builds a session. Call Run to start reading from the transport.
func NewSession(t Transport, peers PeerFactory, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	sessLog := logger.With().Str("component", "client").Logger()
	return &Session{
		transport: t,
		peers:     peers,
		log:       &sessLog,
		calls:     make(map[string]*call),
		subs:      make(map[int]chan Notification),
		done:      make(chan struct{}),
	}
}

// Ready returns the handshake acknowledgement, zero until it arrives.
func (s *Session) Ready() proto.ReadyData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Subscribe returns a channel of notifications and a function that stops them.
// Slow subscribers lose notifications rather than stall the session.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Notification, 32)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Originate offers a call to target and waits until it rings or fails.
func (s *Session) Originate(ctx context.Context, target int64, kind core.MediaKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown media kind %q", kind)
	}
	if !s.originating.TryLock() {
		return "", ErrOriginating
	}
	defer s.originating.Unlock()

	peer, err := s.peers.NewPeer(kind, s.candidateSender(target))
	if err != nil {
		return "", err
	}
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		_ = peer.Close()
		return "", err
	}

	p := &pendingOffer{target: target, kind: kind, peer: peer, done: make(chan originateResult, 1)}
	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()

	if err := s.transport.Send(ctx, inbound(proto.InboundTypeCallOffer, proto.CallOfferData{
		ToUserID:  target,
		Offer:     &offer,
		MediaKind: string(kind),
	})); err != nil {
		s.clearPending(p)
		_ = peer.Close()
		return "", err
	}

	select {
	case res := <-p.done:
		if res.err != nil {
			_ = peer.Close()
		}
		return res.sessionID, res.err
	case <-ctx.Done():
		s.abandon(p)
		return "", ctx.Err()
	case <-s.done:
		_ = peer.Close()
		return "", ErrClosed
	}
}

// Accept answers an incoming call.
func (s *Session) Accept(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	c, ok := s.calls[sessionID]
	if !ok || c.offer == nil {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	offer := *c.offer
	c.offer = nil
	s.mu.Unlock()

	peer, err := s.peers.NewPeer(c.kind, s.candidateSender(c.peerUserID))
	if err != nil {
		return err
	}
	answer, err := peer.AcceptOffer(ctx, offer)
	if err != nil {
		_ = peer.Close()
		return err
	}

	s.mu.Lock()
	if _, still := s.calls[sessionID]; !still {
		s.mu.Unlock()
		_ = peer.Close()
		return ErrUnknownSession
	}
	c.peer = peer
	s.mu.Unlock()

	return s.transport.Send(ctx, inbound(proto.InboundTypeCallAnswer, proto.CallAnswerData{
		ToUserID: c.peerUserID,
		Answer:   &answer,
	}))
}

// Reject declines an incoming call.
func (s *Session) Reject(ctx context.Context, sessionID string) error {
	return s.end(ctx, sessionID, proto.InboundTypeCallReject)
}

// Hangup ends a call in any state.
func (s *Session) Hangup(ctx context.Context, sessionID string) error {
	return s.end(ctx, sessionID, proto.InboundTypeCallHangup)
}

func (s *Session) end(ctx context.Context, sessionID, typ string) error {
	c := s.forget(sessionID)
	if c == nil {
		return ErrUnknownSession
	}
	return s.transport.Send(ctx, inbound(typ, proto.CallTargetData{ToUserID: c.peerUserID}))
}

// SendMessage sends a direct message. Delivery is confirmed by a relay event.
func (s *Session) SendMessage(ctx context.Context, toUserID int64, content string) error {
	return s.transport.Send(ctx, inbound(proto.InboundTypeMessageSend, proto.MessageSendData{ToUserID: toUserID, Content: content}))
}

// JoinRoom subscribes this connection to an ad hoc room.
func (s *Session) JoinRoom(ctx context.Context, room string) error {
	return s.transport.Send(ctx, inbound(proto.InboundTypeRoomJoin, proto.RoomData{Room: room}))
}

// LeaveRoom undoes JoinRoom.
func (s *Session) LeaveRoom(ctx context.Context, room string) error {
	return s.transport.Send(ctx, inbound(proto.InboundTypeRoomLeave, proto.RoomData{Room: room}))
}

// Run reads from the transport until it fails or ctx is cancelled. Open calls
// are closed and subscriber channels are closed when it returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	for {
		env, err := s.transport.Recv(ctx)
		if err != nil {
			return err
		}
		s.handle(env)
	}
}

// Close stops the session by closing its transport.
func (s *Session) Close() error {
	return s.transport.Close()
}

func (s *Session) handle(env Envelope) {
	if env.Type == proto.OutboundTypeError {
		serr := &ServerError{Code: core.ErrCodeInternal}
		if env.Error != nil {
			serr = &ServerError{Code: env.Error.Code, Msg: env.Error.Msg}
		}
		if !s.resolvePending(originateResult{err: serr}) {
			s.notify(Notification{Kind: NotifyError, Err: serr})
		}
		return
	}

	switch env.Event {
	case proto.EventReady:
		var ready proto.ReadyData
		if s.decode(env, &ready) {
			s.mu.Lock()
			s.ready = ready
			s.mu.Unlock()
			if f, ok := s.peers.(interface{ SetICEServers([]webrtc.ICEServer) }); ok && len(ready.ICEServers) > 0 {
				f.SetICEServers(ready.ICEServers)
			}
		}
	case "call:ringing":
		var ev proto.EventCallStatus
		if s.decode(env, &ev) {
			s.onRinging(ev)
		}
	case "call:failed":
		var ev proto.EventCallStatus
		if !s.decode(env, &ev) {
			return
		}
		err := fmt.Errorf("%w: %s", ErrUnreachable, ev.Reason)
		if !s.resolvePending(originateResult{err: err}) {
			s.onEnded(env.Event, ev)
		}
	case "call:offer":
		var ev proto.EventCallOffer
		if s.decode(env, &ev) {
			s.onOffer(ev)
		}
	case "call:answer":
		var ev proto.EventCallAnswer
		if s.decode(env, &ev) {
			s.onAnswer(ev)
		}
	case "call:ice-candidate":
		var ev proto.EventCallCandidate
		if s.decode(env, &ev) {
			s.onCandidate(ev)
		}
	case "call:hangup", "call:rejected", "call:timeout":
		var ev proto.EventCallStatus
		if s.decode(env, &ev) {
			s.onEnded(env.Event, ev)
		}
	case "pong", "room:joined", "room:left":
	default:
		s.notify(Notification{Kind: NotifyRelay, Event: env.Event, Data: env.Data})
	}
}

func (s *Session) onRinging(ev proto.EventCallStatus) {
	s.mu.Lock()
	p := s.pending
	if p == nil {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.calls[ev.SessionID] = &call{id: ev.SessionID, peerUserID: p.target, kind: p.kind, peer: p.peer}
	p.done <- originateResult{sessionID: ev.SessionID}
	s.mu.Unlock()
}

func (s *Session) onOffer(ev proto.EventCallOffer) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(ev.Offer, &offer); err != nil {
		s.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("bad offer")
		return
	}

	kind := core.MediaKind(ev.MediaKind)
	s.mu.Lock()
	s.calls[ev.SessionID] = &call{id: ev.SessionID, peerUserID: ev.FromUserID, kind: kind, offer: &offer}
	s.mu.Unlock()

	s.notify(Notification{
		Kind:         NotifyIncoming,
		SessionID:    ev.SessionID,
		PeerUserID:   ev.FromUserID,
		PeerUsername: ev.FromUsername,
		MediaKind:    kind,
	})
}

func (s *Session) onAnswer(ev proto.EventCallAnswer) {
	c := s.lookup(ev.SessionID)
	if c == nil || c.peer == nil {
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(ev.Answer, &answer); err != nil {
		s.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("bad answer")
		return
	}
	if err := c.peer.SetAnswer(answer); err != nil {
		s.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("apply answer")
	}
	s.notify(Notification{Kind: NotifyAnswered, SessionID: c.id, PeerUserID: c.peerUserID, MediaKind: c.kind})
}

func (s *Session) onCandidate(ev proto.EventCallCandidate) {
	c := s.lookup(ev.SessionID)
	if c == nil || c.peer == nil {
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(ev.Candidate, &cand); err != nil {
		s.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("bad candidate")
		return
	}
	if err := c.peer.AddICECandidate(cand); err != nil {
		s.log.Debug().Err(err).Str("session_id", ev.SessionID).Msg("add candidate")
	}
	s.notify(Notification{Kind: NotifyCandidate, SessionID: c.id, PeerUserID: c.peerUserID, Data: ev.Candidate})
}

func (s *Session) onEnded(event string, ev proto.EventCallStatus) {
	c := s.forget(ev.SessionID)
	n := Notification{Kind: NotifyEnded, SessionID: ev.SessionID, Reason: ev.Reason, Event: event}
	if c != nil {
		n.PeerUserID = c.peerUserID
		n.MediaKind = c.kind
	}
	s.notify(n)
}

func (s *Session) lookup(sessionID string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[sessionID]
}

// forget removes a call and closes its peer.
func (s *Session) forget(sessionID string) *call {
	s.mu.Lock()
	c, ok := s.calls[sessionID]
	delete(s.calls, sessionID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if c.peer != nil {
		_ = c.peer.Close()
	}
	return c
}

func (s *Session) resolvePending(res originateResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	if p == nil {
		return false
	}
	s.pending = nil
	p.done <- res
	return true
}

// abandon withdraws an offer whose caller stopped waiting. The server may
// already be ringing the callee, so a hangup is sent either way.
func (s *Session) abandon(p *pendingOffer) {
	s.clearPending(p)
	select {
	case res := <-p.done:
		if res.sessionID != "" {
			s.forget(res.sessionID)
		}
	default:
	}
	_ = p.peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	_ = s.transport.Send(ctx, inbound(proto.InboundTypeCallHangup, proto.CallTargetData{ToUserID: p.target}))
}

func (s *Session) clearPending(p *pendingOffer) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Session) notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			s.log.Warn().Int("kind", int(n.Kind)).Msg("subscriber full, notification dropped")
		}
	}
}

func (s *Session) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.log.Warn().Err(err).Str("event", env.Event).Msg("decode event")
		return false
	}
	return true
}

// candidateSender returns a callback that trickles local candidates to userID.
func (s *Session) candidateSender(userID int64) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		defer cancel()
		if err := s.transport.Send(ctx, inbound(proto.InboundTypeCallCandidate, proto.CallCandidateData{
			ToUserID:  userID,
			Candidate: &c,
		})); err != nil {
			s.log.Debug().Err(err).Int64("to", userID).Msg("send candidate")
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)

	s.mu.Lock()
	calls := s.calls
	s.calls = make(map[string]*call)
	s.pending = nil
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	for _, c := range calls {
		if c.peer != nil {
			_ = c.peer.Close()
		}
	}
}

func inbound(typ string, data any) proto.Inbound {
	raw, err := json.Marshal(data)
	if err != nil {
		// Payloads are plain structs.
		panic(fmt.Sprintf("marshal %s: %v", typ, err))
	}
	return proto.Inbound{Type: typ, Data: raw}
}

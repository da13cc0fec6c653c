package core

import (
	"fmt"
	"time"
)

func (h *Hub) handleOffer(conn *Connection, cmd *Command) {
	switch {
	case cmd.ToUserID <= 0:
		h.sendError(conn, fmt.Errorf("%w: toUserId is required", ErrBadRequest))
		return
	case cmd.ToUserID == conn.UserID:
		h.sendError(conn, fmt.Errorf("%w: cannot call yourself", ErrBadRequest))
		return
	case len(cmd.Payload) == 0:
		h.sendError(conn, fmt.Errorf("%w: offer is required", ErrBadRequest))
		return
	case !cmd.MediaKind.Valid():
		h.sendError(conn, fmt.Errorf("%w: unknown media kind %q", ErrBadRequest, cmd.MediaKind))
		return
	}

	key := PairOf(conn.UserID, cmd.ToUserID)
	if existing, ok := h.sessions[key]; ok {
		h.log.Info().
			Str("session_id", existing.ID).
			Int64("from", conn.UserID).
			Int64("to", cmd.ToUserID).
			Msg("offer rejected, call in progress")
		h.sendError(conn, ErrConflictingCall)
		return
	}

	s := NewCallSession(conn, cmd.ToUserID, cmd.MediaKind, cmd.Payload)
	_ = s.Transition(CallOffering)

	offer := &Event{Kind: EventCallOffer, Call: &CallEvent{
		SessionID:    s.ID,
		FromUserID:   s.CallerID,
		FromUsername: s.CallerName,
		ToUserID:     s.CalleeID,
		MediaKind:    s.MediaKind,
		Payload:      s.Offer,
	}}
	delivered := 0
	for _, c := range h.registry.RouteTo(s.CalleeID) {
		if h.send(c, offer) {
			delivered++
		}
	}

	if delivered == 0 {
		_ = s.Transition(CallTerminated)
		h.send(conn, &Event{Kind: EventCallFailed, Call: &CallEvent{
			SessionID: s.ID,
			ToUserID:  s.CalleeID,
			Reason:    ReasonUnreachable,
		}})
		h.log.Info().
			Str("session_id", s.ID).
			Int64("from", s.CallerID).
			Int64("to", s.CalleeID).
			Msg("callee unreachable")
		return
	}

	_ = s.Transition(CallRinging)
	h.sessions[key] = s
	h.armRingTimer(s)
	h.send(conn, &Event{Kind: EventCallRinging, Call: &CallEvent{
		SessionID: s.ID,
		ToUserID:  s.CalleeID,
		MediaKind: s.MediaKind,
	}})
	h.log.Info().
		Str("session_id", s.ID).
		Int64("from", s.CallerID).
		Int64("to", s.CalleeID).
		Str("media", string(s.MediaKind)).
		Int("devices", delivered).
		Msg("call ringing")
}

func (h *Hub) handleAnswer(conn *Connection, cmd *Command) {
	s, ok := h.sessions[PairOf(conn.UserID, cmd.ToUserID)]
	if !ok || cmd.ToUserID == conn.UserID {
		h.rejectTransition(conn, "answer without a ringing call")
		return
	}
	if s.CalleeID != conn.UserID {
		h.rejectTransition(conn, "only the callee can answer")
		return
	}
	if len(cmd.Payload) == 0 {
		h.sendError(conn, fmt.Errorf("%w: answer is required", ErrBadRequest))
		return
	}
	if err := s.Transition(CallActive); err != nil {
		h.rejectTransition(conn, err.Error())
		return
	}

	s.stopTimer()
	s.Answer = cmd.Payload
	s.CalleeConn = conn

	h.send(s.CallerConn, &Event{Kind: EventCallAnswer, Call: &CallEvent{
		SessionID:  s.ID,
		FromUserID: s.CalleeID,
		ToUserID:   s.CallerID,
		MediaKind:  s.MediaKind,
		Payload:    s.Answer,
	}})

	elsewhere := &Event{Kind: EventCallHangup, Call: &CallEvent{
		SessionID:  s.ID,
		FromUserID: s.CallerID,
		ToUserID:   s.CalleeID,
		Reason:     ReasonAnsweredElsewhere,
	}}
	for _, c := range h.registry.RouteTo(s.CalleeID) {
		if c != conn {
			h.send(c, elsewhere)
		}
	}

	for _, cand := range s.Drain(s.CallerID) {
		h.send(s.CalleeConn, candidateEvent(s, s.CallerID, cand))
	}
	for _, cand := range s.Drain(s.CalleeID) {
		h.send(s.CallerConn, candidateEvent(s, s.CalleeID, cand))
	}

	h.log.Info().
		Str("session_id", s.ID).
		Str("callee_conn", conn.ID).
		Msg("call active")
}

func (h *Hub) handleCandidate(conn *Connection, cmd *Command) {
	if len(cmd.Payload) == 0 {
		h.sendError(conn, fmt.Errorf("%w: candidate is required", ErrBadRequest))
		return
	}
	s, ok := h.sessions[PairOf(conn.UserID, cmd.ToUserID)]
	if !ok || cmd.ToUserID == conn.UserID {
		h.log.Debug().
			Int64("from", conn.UserID).
			Int64("to", cmd.ToUserID).
			Msg("late ice candidate dropped")
		return
	}
	if bound := s.BoundConn(conn.UserID); bound != nil && bound != conn {
		h.log.Debug().
			Str("session_id", s.ID).
			Str("conn_id", conn.ID).
			Msg("ice candidate from unbound device dropped")
		return
	}

	if s.State != CallActive {
		s.Enqueue(conn.UserID, cmd.Payload)
		return
	}
	h.send(s.BoundConn(s.Peer(conn.UserID)), candidateEvent(s, conn.UserID, cmd.Payload))
}

func (h *Hub) handleHangup(conn *Connection, cmd *Command) {
	s, ok := h.sessions[PairOf(conn.UserID, cmd.ToUserID)]
	if !ok || cmd.ToUserID == conn.UserID {
		return
	}
	h.terminate(s, conn.UserID, EventCallHangup, ReasonHangup)
}

func (h *Hub) handleReject(conn *Connection, cmd *Command) {
	s, ok := h.sessions[PairOf(conn.UserID, cmd.ToUserID)]
	if !ok || cmd.ToUserID == conn.UserID {
		return
	}

	if conn.UserID == s.CalleeID && s.CalleeConn == nil {
		elsewhere := &Event{Kind: EventCallHangup, Call: &CallEvent{
			SessionID:  s.ID,
			FromUserID: s.CallerID,
			ToUserID:   s.CalleeID,
			Reason:     ReasonRejectedElsewhere,
		}}
		for _, c := range h.registry.RouteTo(s.CalleeID) {
			if c != conn {
				h.send(c, elsewhere)
			}
		}
	}
	h.terminate(s, conn.UserID, EventCallRejected, ReasonRejected)
}

func (h *Hub) handleRingTimeout(exp ringExpiry) {
	s, ok := h.sessions[exp.key]
	if !ok || s.ID != exp.sessionID || s.State != CallRinging {
		return
	}
	s.timer = nil

	// Both parties hear about a timeout; the callee devices are still ringing.
	h.notifyParty(s, s.CalleeID, &Event{Kind: EventCallTimeout, Call: &CallEvent{
		SessionID:  s.ID,
		FromUserID: s.CallerID,
		ToUserID:   s.CalleeID,
		Reason:     ReasonTimeout,
	}})
	h.terminate(s, s.CalleeID, EventCallTimeout, ReasonTimeout)
}

// teardownCalls ends every session the departing connection was carrying. The
// connection is already out of the registry.
func (h *Hub) teardownCalls(conn *Connection) {
	for _, s := range h.sessions {
		if s.CallerID != conn.UserID && s.CalleeID != conn.UserID {
			continue
		}
		bound := s.BoundConn(conn.UserID)
		if bound != conn && h.registry.Reachable(conn.UserID) {
			continue
		}
		h.terminate(s, conn.UserID, EventCallHangup, ReasonDisconnected)
	}
}

// terminate destroys s and sends one notice to the party opposite byUserID.
func (h *Hub) terminate(s *CallSession, byUserID int64, kind EventKind, reason string) {
	s.stopTimer()
	from := s.State
	if err := s.Transition(CallTerminated); err != nil {
		h.log.Error().Err(err).Str("session_id", s.ID).Msg("terminate")
	}
	delete(h.sessions, s.Key())

	other := s.Peer(byUserID)
	h.notifyParty(s, other, &Event{Kind: kind, Call: &CallEvent{
		SessionID:  s.ID,
		FromUserID: byUserID,
		ToUserID:   other,
		Reason:     reason,
	}})

	h.log.Info().
		Str("session_id", s.ID).
		Str("from_state", from.String()).
		Int64("by", byUserID).
		Str("reason", reason).
		Dur("duration", time.Since(s.CreatedAt)).
		Msg("call terminated")
}

// notifyParty sends ev to the party's bound connection, or to all its devices if unbound.
func (h *Hub) notifyParty(s *CallSession, userID int64, ev *Event) {
	if bound := s.BoundConn(userID); bound != nil {
		if h.registry.Has(bound) {
			h.send(bound, ev)
		}
		return
	}
	for _, c := range h.registry.RouteTo(userID) {
		h.send(c, ev)
	}
}

func (h *Hub) armRingTimer(s *CallSession) {
	exp := ringExpiry{key: s.Key(), sessionID: s.ID}
	s.timer = time.AfterFunc(h.RingTimeout(), func() {
		select {
		case h.expiries <- exp:
		case <-h.stopped:
		}
	})
}

func (h *Hub) rejectTransition(conn *Connection, msg string) {
	h.log.Warn().
		Str("conn_id", conn.ID).
		Int64("user_id", conn.UserID).
		Str("reason", msg).
		Msg("invalid call transition")
	h.sendError(conn, fmt.Errorf("%w: %s", ErrInvalidTransition, msg))
}

func candidateEvent(s *CallSession, fromUserID int64, candidate []byte) *Event {
	return &Event{Kind: EventCallICECandidate, Call: &CallEvent{
		SessionID:  s.ID,
		FromUserID: fromUserID,
		ToUserID:   s.Peer(fromUserID),
		Payload:    candidate,
	}}
}

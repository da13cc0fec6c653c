package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaKind selects which tracks a call negotiates.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// CallState is the lifecycle position of a CallSession.
type CallState int

const (
	CallIdle CallState = iota
	CallOffering
	CallRinging
	CallActive
	CallTerminated
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOffering:
		return "offering"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	case CallTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

var allowedTransitions = map[CallState][]CallState{
	CallIdle:     {CallOffering},
	CallOffering: {CallRinging, CallTerminated},
	CallRinging:  {CallActive, CallTerminated},
	CallActive:   {CallTerminated},
}

// PairKey identifies the unordered pair of users a session belongs to.
type PairKey struct {
	Lo, Hi int64
}

// PairOf builds the key for a and b in either order.
func PairOf(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// CallSession is the signaling state for one call between two users.
// It is owned by the hub goroutine.
type CallSession struct {
	ID         string
	CallerID   int64
	CallerName string
	CalleeID   int64
	MediaKind  MediaKind
	State      CallState
	Offer      json.RawMessage
	Answer     json.RawMessage
	CreatedAt  time.Time

	// CallerConn is the connection that sent the offer; CalleeConn is set by the answer.
	CallerConn *Connection
	CalleeConn *Connection

	callerQueue []json.RawMessage
	calleeQueue []json.RawMessage
	timer       *time.Timer
}

// NewCallSession creates a session in the idle state.
func NewCallSession(caller *Connection, calleeID int64, kind MediaKind, offer json.RawMessage) *CallSession {
	return &CallSession{
		ID:         uuid.NewString(),
		CallerID:   caller.UserID,
		CallerName: caller.Username,
		CalleeID:   calleeID,
		MediaKind:  kind,
		State:      CallIdle,
		Offer:      offer,
		CreatedAt:  time.Now(),
		CallerConn: caller,
	}
}

// Key returns the pair key of the session.
func (s *CallSession) Key() PairKey {
	return PairOf(s.CallerID, s.CalleeID)
}

// Peer returns the other party of userID.
func (s *CallSession) Peer(userID int64) int64 {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// BoundConn returns the connection signaling for userID is pinned to, or nil.
func (s *CallSession) BoundConn(userID int64) *Connection {
	if userID == s.CallerID {
		return s.CallerConn
	}
	return s.CalleeConn
}

// Transition moves the session to next if the state table allows it.
func (s *CallSession) Transition(next CallState) error {
	for _, allowed := range allowedTransitions[s.State] {
		if allowed == next {
			s.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
}

// Enqueue buffers a candidate sent by userID until the call is active.
func (s *CallSession) Enqueue(fromUserID int64, candidate json.RawMessage) {
	if fromUserID == s.CallerID {
		s.callerQueue = append(s.callerQueue, candidate)
		return
	}
	s.calleeQueue = append(s.calleeQueue, candidate)
}

// Drain returns and clears the candidates buffered from userID, in arrival order.
func (s *CallSession) Drain(fromUserID int64) []json.RawMessage {
	var out []json.RawMessage
	if fromUserID == s.CallerID {
		out, s.callerQueue = s.callerQueue, nil
	} else {
		out, s.calleeQueue = s.calleeQueue, nil
	}
	return out
}

// Pending returns how many candidates are buffered from userID.
func (s *CallSession) Pending(fromUserID int64) int {
	if fromUserID == s.CallerID {
		return len(s.callerQueue)
	}
	return len(s.calleeQueue)
}

func (s *CallSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

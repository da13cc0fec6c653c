package core

import "encoding/json"

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventError notifies a connection about a domain error it caused.
	EventError EventKind = iota
	// EventPong answers CommandPing.
	EventPong
	// EventRoomJoined acknowledges CommandJoinRoom.
	EventRoomJoined
	// EventRoomLeft acknowledges CommandLeaveRoom.
	EventRoomLeft
	// EventRelay carries a fan-out domain event.
	EventRelay

	// EventCallOffer delivers an offer to every callee connection.
	EventCallOffer
	// EventCallRinging tells the caller the offer reached the callee.
	EventCallRinging
	// EventCallAnswer delivers the callee's answer to the caller.
	EventCallAnswer
	// EventCallICECandidate relays a peer's ICE candidate.
	EventCallICECandidate
	// EventCallHangup tells a party the call ended.
	EventCallHangup
	// EventCallRejected tells the caller the callee declined.
	EventCallRejected
	// EventCallTimeout tells both parties nobody answered in time.
	EventCallTimeout
	// EventCallFailed tells the caller the call could not be placed.
	EventCallFailed
)

var eventNames = [...]string{
	EventError:            "error",
	EventPong:             "pong",
	EventRoomJoined:       "room:joined",
	EventRoomLeft:         "room:left",
	EventRelay:            "relay",
	EventCallOffer:        "call:offer",
	EventCallRinging:      "call:ringing",
	EventCallAnswer:       "call:answer",
	EventCallICECandidate: "call:ice-candidate",
	EventCallHangup:       "call:hangup",
	EventCallRejected:     "call:rejected",
	EventCallTimeout:      "call:timeout",
	EventCallFailed:       "call:failed",
}

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is sent to connections to describe what happened in the system.
// One Event value may be delivered to many connections and must not be mutated.
type Event struct {
	Kind  EventKind
	Room  string
	Error *CoreError
	Call  *CallEvent  // non-nil for call events
	Relay *RelayEvent // non-nil for EventRelay
}

// CallEvent holds data specific to call events.
type CallEvent struct {
	SessionID    string
	FromUserID   int64
	FromUsername string
	ToUserID     int64
	MediaKind    MediaKind
	Payload      json.RawMessage // offer, answer or candidate
	Reason       string
}

// RelayEvent is a domain event after it has been resolved to recipients.
type RelayEvent struct {
	Name    string
	Payload json.RawMessage
}

// DomainEvent is what the CRUD layer publishes. Empty Targets or a target equal to
// Broadcast reaches every connection.
type DomainEvent struct {
	Type    string
	Payload any
	Targets []string
}

// Reasons carried by call termination events.
const (
	ReasonHangup            = "hangup"
	ReasonRejected          = "rejected"
	ReasonTimeout           = "timeout"
	ReasonUnreachable       = "unreachable"
	ReasonDisconnected      = "disconnected"
	ReasonAnsweredElsewhere = "answered_elsewhere"
	ReasonRejectedElsewhere = "rejected_elsewhere"
)

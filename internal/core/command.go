package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandCallOffer starts a call to ToUserID.
	CommandCallOffer CommandKind = iota
	// CommandCallAnswer accepts a ringing call from ToUserID.
	CommandCallAnswer
	// CommandCallICECandidate relays or buffers a trickle ICE candidate.
	CommandCallICECandidate
	// CommandCallHangup ends the call with ToUserID.
	CommandCallHangup
	// CommandCallReject declines the call with ToUserID.
	CommandCallReject
	// CommandJoinRoom subscribes the connection to an ad hoc room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the connection from an ad hoc room.
	CommandLeaveRoom
	// CommandPing asks for a pong.
	CommandPing
)

var commandNames = [...]string{
	CommandCallOffer:        "call_offer",
	CommandCallAnswer:       "call_answer",
	CommandCallICECandidate: "call_ice_candidate",
	CommandCallHangup:       "call_hangup",
	CommandCallReject:       "call_reject",
	CommandJoinRoom:         "join_room",
	CommandLeaveRoom:        "leave_room",
	CommandPing:             "ping",
}

func (k CommandKind) String() string {
	if k >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a connection. The sender is the
// connection it was submitted with, never a field of the command.
type Command struct {
	Kind      CommandKind
	Room      string
	ToUserID  int64
	MediaKind MediaKind
	// Payload is the session description or ICE candidate, already validated by the transport.
	Payload json.RawMessage
}

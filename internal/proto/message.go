package proto

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeCallOffer     = "call:offer"
	InboundTypeCallAnswer    = "call:answer"
	InboundTypeCallCandidate = "call:ice-candidate"
	InboundTypeCallHangup    = "call:hangup"
	InboundTypeCallReject    = "call:reject"
	InboundTypeRoomJoin      = "room:join"
	InboundTypeRoomLeave     = "room:leave"
	InboundTypeMessageSend   = "message:send"
	InboundTypePing          = "ping"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady = "ready"
)

// CallOfferData starts a call. A client-supplied fromUserId is ignored.
type CallOfferData struct {
	ToUserID  int64                      `json:"toUserId"`
	Offer     *webrtc.SessionDescription `json:"offer"`
	MediaKind string                     `json:"mediaKind,omitempty"`
}

// CallAnswerData accepts a ringing call.
type CallAnswerData struct {
	ToUserID int64                      `json:"toUserId"`
	Answer   *webrtc.SessionDescription `json:"answer"`
}

// CallCandidateData carries one trickle ICE candidate.
type CallCandidateData struct {
	ToUserID  int64                    `json:"toUserId"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

// CallTargetData is the payload of hangup and reject.
type CallTargetData struct {
	ToUserID int64 `json:"toUserId"`
}

// RoomData names an ad hoc room.
type RoomData struct {
	Room string `json:"room"`
}

// MessageSendData is a direct message to persist and deliver.
type MessageSendData struct {
	ToUserID int64  `json:"toUserId"`
	Content  string `json:"content"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ReadyData acknowledges a successful handshake.
type ReadyData struct {
	ConnectionID string             `json:"connectionId"`
	UserID       int64              `json:"userId"`
	Username     string             `json:"username,omitempty"`
	Protocol     int                `json:"protocol"`
	ICEServers   []webrtc.ICEServer `json:"iceServers"`
}

// EventCallOffer is delivered to every callee device.
type EventCallOffer struct {
	SessionID    string          `json:"sessionId"`
	FromUserID   int64           `json:"fromUserId"`
	FromUsername string          `json:"fromUsername,omitempty"`
	ToUserID     int64           `json:"toUserId"`
	MediaKind    string          `json:"mediaKind"`
	Offer        json.RawMessage `json:"offer"`
}

// EventCallAnswer is delivered to the caller.
type EventCallAnswer struct {
	SessionID  string          `json:"sessionId"`
	FromUserID int64           `json:"fromUserId"`
	ToUserID   int64           `json:"toUserId"`
	Answer     json.RawMessage `json:"answer"`
}

// EventCallCandidate relays a peer candidate.
type EventCallCandidate struct {
	SessionID  string          `json:"sessionId"`
	FromUserID int64           `json:"fromUserId"`
	ToUserID   int64           `json:"toUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

// EventCallStatus covers ringing, hangup, rejected, timeout and failed.
type EventCallStatus struct {
	SessionID  string `json:"sessionId"`
	FromUserID int64  `json:"fromUserId,omitempty"`
	ToUserID   int64  `json:"toUserId,omitempty"`
	MediaKind  string `json:"mediaKind,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// EventRoom acknowledges room:join and room:leave.
type EventRoom struct {
	Room string `json:"room"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

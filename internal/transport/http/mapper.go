package http

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

// inboundToCommand decodes and validates a client message. A non-nil proto.Error
// is sent back to the client and the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeCallOffer:
		var data proto.CallOfferData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.ValidateDescription(data.Offer, webrtc.SDPTypeOffer); err != nil {
			return nil, badRequest("offer: %v", err)
		}
		kind, perr := mediaKindFor(data.MediaKind, data.Offer)
		if perr != nil {
			return nil, perr
		}
		payload, err := json.Marshal(data.Offer)
		if err != nil {
			return nil, badRequest("offer: %v", err)
		}
		return &core.Command{
			Kind:      core.CommandCallOffer,
			ToUserID:  data.ToUserID,
			MediaKind: kind,
			Payload:   payload,
		}, nil
	case proto.InboundTypeCallAnswer:
		var data proto.CallAnswerData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.ValidateDescription(data.Answer, webrtc.SDPTypeAnswer); err != nil {
			return nil, badRequest("answer: %v", err)
		}
		payload, err := json.Marshal(data.Answer)
		if err != nil {
			return nil, badRequest("answer: %v", err)
		}
		return &core.Command{
			Kind:     core.CommandCallAnswer,
			ToUserID: data.ToUserID,
			Payload:  payload,
		}, nil
	case proto.InboundTypeCallCandidate:
		var data proto.CallCandidateData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.ValidateCandidate(data.Candidate); err != nil {
			return nil, badRequest("candidate: %v", err)
		}
		payload, err := json.Marshal(data.Candidate)
		if err != nil {
			return nil, badRequest("candidate: %v", err)
		}
		return &core.Command{
			Kind:     core.CommandCallICECandidate,
			ToUserID: data.ToUserID,
			Payload:  payload,
		}, nil
	case proto.InboundTypeCallHangup, proto.InboundTypeCallReject:
		var data proto.CallTargetData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.ToUserID <= 0 {
			return nil, badRequest("toUserId is required")
		}
		kind := core.CommandCallHangup
		if inbound.Type == proto.InboundTypeCallReject {
			kind = core.CommandCallReject
		}
		return &core.Command{Kind: kind, ToUserID: data.ToUserID}, nil
	case proto.InboundTypeRoomJoin, proto.InboundTypeRoomLeave:
		var data proto.RoomData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Room == "" {
			return nil, badRequest("room is required")
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.InboundTypeRoomLeave {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{Kind: kind, Room: data.Room}, nil
	case proto.InboundTypePing:
		return &core.Command{Kind: core.CommandPing}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

func decodeData(data json.RawMessage, v any) *proto.Error {
	if len(data) == 0 {
		return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "data is required"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "malformed data: " + err.Error()}
	}
	return nil
}

func badRequest(format string, args ...any) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// mediaKindFor uses the declared kind, or video when the offer carries a video section.
func mediaKindFor(declared string, offer *webrtc.SessionDescription) (core.MediaKind, *proto.Error) {
	if declared != "" {
		kind := core.MediaKind(declared)
		if !kind.Valid() {
			return "", badRequest("unknown media kind %q", declared)
		}
		return kind, nil
	}
	kinds, err := proto.MediaKinds(offer)
	if err != nil {
		return "", badRequest("offer: %v", err)
	}
	for _, k := range kinds {
		if k == string(core.MediaVideo) {
			return core.MediaVideo, nil
		}
	}
	return core.MediaAudio, nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	name := event.Kind.String()

	switch event.Kind {
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	case core.EventPong:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name}
	case core.EventRoomJoined, core.EventRoomLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data:  proto.EventRoom{Room: event.Room},
		}
	case core.EventRelay:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Relay.Name,
			Data:  event.Relay.Payload,
		}
	case core.EventCallOffer:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventCallOffer{
				SessionID:    event.Call.SessionID,
				FromUserID:   event.Call.FromUserID,
				FromUsername: event.Call.FromUsername,
				ToUserID:     event.Call.ToUserID,
				MediaKind:    string(event.Call.MediaKind),
				Offer:        event.Call.Payload,
			},
		}
	case core.EventCallAnswer:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventCallAnswer{
				SessionID:  event.Call.SessionID,
				FromUserID: event.Call.FromUserID,
				ToUserID:   event.Call.ToUserID,
				Answer:     event.Call.Payload,
			},
		}
	case core.EventCallICECandidate:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventCallCandidate{
				SessionID:  event.Call.SessionID,
				FromUserID: event.Call.FromUserID,
				ToUserID:   event.Call.ToUserID,
				Candidate:  event.Call.Payload,
			},
		}
	case core.EventCallRinging, core.EventCallHangup, core.EventCallRejected,
		core.EventCallTimeout, core.EventCallFailed:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventCallStatus{
				SessionID:  event.Call.SessionID,
				FromUserID: event.Call.FromUserID,
				ToUserID:   event.Call.ToUserID,
				MediaKind:  string(event.Call.MediaKind),
				Reason:     event.Call.Reason,
			},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name}
	}
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

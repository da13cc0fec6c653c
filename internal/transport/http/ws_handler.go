package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/gateway"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

// WSHandler authenticates the handshake, upgrades it and bridges the socket to the hub.
type WSHandler struct {
	hub          Hub
	gateway      *gateway.Gateway
	relay        Relay
	iceServers   []webrtc.ICEServer
	maxMessage   int64
	writeTimeout time.Duration
	rateLimit    int
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:          deps.Hub,
		gateway:      deps.Gateway,
		relay:        deps.Relay,
		iceServers:   iceServers(cfg.ICEServers),
		maxMessage:   cfg.WS.MaxMessageBytes,
		writeTimeout: cfg.WS.WriteTimeout,
		rateLimit:    cfg.WS.RateLimit,
		log:          logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	client, err := h.gateway.Connect(ctx, gateway.Credential(r))
	if err != nil {
		var authErr *gateway.AuthError
		if errors.As(err, &authErr) {
			writeJSON(w, stdhttp.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized, Reason: authErr.Reason})
			return
		}
		h.log.Error().Err(err).Msg("ws connect")
		writeJSON(w, stdhttp.StatusServiceUnavailable, ErrorResponse{Error: core.ErrCodeInternal})
		return
	}
	defer h.gateway.Disconnect(client)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", client.ID).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.maxMessage > 0 {
		conn.SetReadLimit(h.maxMessage)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventReady,
		Data: proto.ReadyData{
			ConnectionID: client.ID,
			UserID:       client.UserID,
			Username:     client.Username,
			Protocol:     proto.ProtocolVersion,
			ICEServers:   h.iceServers,
		},
	}); err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("write ready")
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, core.ErrHubStopped) {
		status = websocket.StatusGoingAway
		reason = "server shutting down"
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	limiter := newRateLimiter(h.rateLimit, time.Minute)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow(time.Now()) {
			if err := h.writeError(ctx, conn, &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"}); err != nil {
				return err
			}
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("malformed inbound")
			if err := h.writeError(ctx, conn, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "malformed message"}); err != nil {
				return err
			}
			continue
		}

		if inbound.Type == proto.InboundTypeMessageSend {
			if err := h.sendMessage(ctx, conn, client, inbound.Data); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.log.Debug().
				Str("conn_id", client.ID).
				Str("type", inbound.Type).
				Str("code", protoErr.Code).
				Msg("inbound rejected")
			if err := h.writeError(ctx, conn, protoErr); err != nil {
				return err
			}
			continue
		}
		if err := h.hub.Submit(ctx, client, cmd); err != nil {
			return err
		}
	}
}

// sendMessage persists a direct message. Delivery to both users comes back
// through the hub as message_delivered; only failures are answered here.
func (h *WSHandler) sendMessage(ctx context.Context, conn *websocket.Conn, client *core.Connection, raw json.RawMessage) error {
	var data proto.MessageSendData
	if perr := decodeData(raw, &data); perr != nil {
		return h.writeError(ctx, conn, perr)
	}

	if _, err := h.relay.MessageDelivered(ctx, client.UserID, data.ToUserID, data.Content); err != nil {
		code := core.CodeFor(err)
		if code == core.ErrCodeInternal {
			h.log.Error().Err(err).Str("conn_id", client.ID).Msg("message send")
		}
		return h.writeError(ctx, conn, &proto.Error{Code: code, Msg: err.Error()})
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-h.hub.Done():
			return core.ErrHubStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, perr *proto.Error) error {
	return h.write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	if h.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, out)
}

func writeJSON(w stdhttp.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", gin.MIMEJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

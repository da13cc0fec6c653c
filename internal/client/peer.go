package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
)

// Peer is the local media endpoint of one call.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory builds a Peer for a media kind. onCandidate receives every
// locally gathered ICE candidate.
type PeerFactory interface {
	NewPeer(kind core.MediaKind, onCandidate func(webrtc.ICECandidateInit)) (Peer, error)
}

// PionFactory builds pion-backed peers.
type PionFactory struct {
	log *zerolog.Logger

	mu  sync.RWMutex
	cfg webrtc.Configuration
}

// NewPionFactory returns a factory using cfg for every new peer connection.
func NewPionFactory(cfg webrtc.Configuration, logger *zerolog.Logger) *PionFactory {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PionFactory{cfg: cfg, log: logger}
}

// SetICEServers replaces the ICE servers, usually with the list from the ready event.
func (f *PionFactory) SetICEServers(servers []webrtc.ICEServer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.ICEServers = servers
}

// NewPeer creates a peer connection with an audio transceiver, plus a video
// transceiver when kind is video.
func (f *PionFactory) NewPeer(kind core.MediaKind, onCandidate func(webrtc.ICECandidateInit)) (Peer, error) {
	f.mu.RLock()
	cfg := f.cfg
	f.mu.RUnlock()

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if kind == core.MediaVideo {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", k, err)
		}
	}

	p := &PionPeer{pc: pc, kind: kind, log: f.log}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onCandidate != nil {
			onCandidate(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug().Str("media", string(kind)).Str("state", s.String()).Msg("peer state")
	})
	return p, nil
}

// PionPeer wraps a pion PeerConnection.
type PionPeer struct {
	pc   *webrtc.PeerConnection
	kind core.MediaKind
	log  *zerolog.Logger
}

func (p *PionPeer) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (p *PionPeer) AcceptOffer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (p *PionPeer) SetAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *PionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *PionPeer) Close() error {
	return p.pc.Close()
}

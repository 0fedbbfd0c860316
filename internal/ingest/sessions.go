package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errUnknownSession = errors.New("unknown session")

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// sessions tracks peer connections whose data channels carry metadata.
type sessions struct {
	config webrtc.Configuration
	log    zerolog.Logger

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

func newSessions(iceServers []string, log zerolog.Logger) *sessions {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &sessions{
		config: cfg,
		log:    log,
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// open answers a remote offer. Every message received on any data channel of
// the resulting peer is passed to deliver.
func (s *sessions) open(ctx context.Context, offer sessionDescription, deliver func(id string, msg []byte)) (string, sessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(s.config)
	if err != nil {
		return "", sessionDescription{}, fmt.Errorf("create peer connection: %w", err)
	}

	id := uuid.NewString()
	log := s.log.With().Str("session_id", id).Logger()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("label", dc.Label()).Msg("metadata data channel opened")
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			deliver(id, msg.Data)
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Msg("peer connection state changed")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.forget(id, pc)
		}
	})

	// Tracked before negotiation so a state change during it finds the entry.
	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()

	fail := func(err error) (string, sessionDescription, error) {
		s.forget(id, pc)
		pc.Close()
		return "", sessionDescription{}, err
	}

	err = pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
	if err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(fmt.Errorf("ice gathering: %w", ctx.Err()))
	}

	log.Info().Msg("WebRTC metadata session opened")

	local := pc.LocalDescription()
	return id, sessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (s *sessions) forget(id string, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[id] == pc {
		delete(s.peers, id)
	}
}

func (s *sessions) close(id string) error {
	s.mu.Lock()
	pc, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", errUnknownSession, id)
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	s.log.Info().Str("session_id", id).Msg("WebRTC metadata session closed")
	return nil
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *sessions) closeAll() error {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()

	var errs []error
	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

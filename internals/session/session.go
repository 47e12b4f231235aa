// Package session implements Session: the per-connection coordinator that
// binds one SignalChannel, Peer and Room together and dispatches inbound
// messages and tracks to them.
package session

import (
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/peer"
	"github.com/huddlertc/sfu/internals/room"
	"github.com/huddlertc/sfu/internals/signaling"
	"github.com/huddlertc/sfu/internals/state"
	"github.com/huddlertc/sfu/internals/track"
)

// Handlers are the three event callbacks a Session wires onto its Peer once
// the Peer exists. Session.On registers them; the caller supplies closures
// that route each event back through the connection's error sink.
type Handlers struct {
	Connected peer.OnConnectedFunc
	Candidate peer.OnCandidateFunc
	Track     peer.OnTrackFunc
}

// Session coordinates one signaling connection end to end: admission,
// message dispatch, and departure.
type Session struct {
	state  *state.State
	code   string
	room   *room.Room
	peerID peer.ID
}

// New admits a fresh peer into the room for code (creating the room if it
// doesn't exist yet), gives it recvonly transceivers for audio and video,
// and wires it up to receive every track already published by other peers
// in the room — all under one hold of the room's lock.
func New(st *state.State, code string, signal *signaling.Channel, api *webrtc.API, config webrtc.Configuration, logger *zap.Logger) (*Session, error) {
	r := st.GetRoom(code)

	r.Lock()
	defer r.Unlock()

	p, err := r.AddPeer(api, config, signal, logger)
	if err != nil {
		return nil, err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if err := p.AddRecvonlyTransceiver(kind); err != nil {
			return nil, err
		}
	}

	if err := r.AddOtherPeersTracks(p); err != nil {
		return nil, err
	}

	return &Session{
		state:  st,
		code:   code,
		room:   r,
		peerID: p.ID,
	}, nil
}

// PeerID returns the id assigned to this session's peer.
func (s *Session) PeerID() peer.ID { return s.peerID }

// On registers fns on this session's peer.
func (s *Session) On(fns Handlers) {
	s.room.Lock()
	defer s.room.Unlock()

	p, ok := s.room.GetPeer(s.peerID)
	if !ok {
		return
	}
	p.OnConnected(fns.Connected)
	p.OnCandidate(fns.Candidate)
	p.OnTrack(fns.Track)
}

// HandleConnected runs once the peer's connection reaches Connected: it
// sends the current peer offer, the list of already-visible peers, and (if
// the peer has already set its name) announces it to everyone else.
func (s *Session) HandleConnected() error {
	s.room.Lock()
	p, ok := s.room.GetPeer(s.peerID)
	var peersMsg signaling.ServerMessage
	if ok {
		peersMsg = signaling.PeersMessage(s.room.GetServerMessagePeers(s.peerID))
	}
	s.room.Unlock()
	if !ok {
		return nil
	}

	s.room.Lock()
	defer s.room.Unlock()

	p, ok = s.room.GetPeer(s.peerID)
	if !ok {
		return nil
	}
	if err := p.SendOffer(); err != nil {
		return err
	}
	if err := p.SendMessage(peersMsg); err != nil {
		return err
	}
	if name := p.Name(); name != "" {
		return s.room.SendJoinedPeer(s.peerID, name)
	}
	return nil
}

// HandleMessage dispatches one inbound PeerMessage to the session's peer or
// room.
func (s *Session) HandleMessage(msg signaling.PeerMessage) error {
	s.room.Lock()
	defer s.room.Unlock()

	p, ok := s.room.GetPeer(s.peerID)
	if !ok {
		return nil
	}

	switch {
	case msg.Offer != nil:
		return p.RecvOffer(*msg.Offer)
	case msg.Answer != nil:
		return p.RecvAnswer(*msg.Answer)
	case msg.Candidate != nil:
		return p.AddCandidate(*msg.Candidate)
	case msg.Name != nil:
		p.SetName(*msg.Name)
		return nil
	case msg.Pli != nil:
		return s.room.SendPLI(*msg.Pli)
	}
	return nil
}

// HandleTrack records t as the session's peer's newly published track for
// its kind, and forwards it to every other peer in the room, renegotiating
// with them once the peer has published both audio and video.
func (s *Session) HandleTrack(t track.Track) error {
	s.room.Lock()
	defer s.room.Unlock()

	p, ok := s.room.GetPeer(s.peerID)
	if !ok {
		return nil
	}

	p.SetTrack(t.Kind, t.Local, t.SSRC)
	sendOffer := p.IsAudioAndVideo()
	return s.room.AddPeerTrackToOthers(s.peerID, t.Local, sendOffer)
}

// Leave removes the session's peer from its room and, if the room is now
// empty, removes the room from the registry. Leave is idempotent: calling
// it again after the peer has already left is a no-op.
func (s *Session) Leave() error {
	s.room.Lock()
	left, remaining, err := s.room.HandlePeerLeave(s.peerID)
	s.room.Unlock()

	if left && remaining == 0 {
		s.state.RemoveRoom(s.code)
	}
	return err
}

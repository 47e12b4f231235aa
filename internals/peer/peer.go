// Package peer implements Peer: the per-connection wrapper around one
// pion PeerConnection, its signaling state machine, and its published
// media.
package peer

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/errs"
	"github.com/huddlertc/sfu/internals/metrics"
	"github.com/huddlertc/sfu/internals/signaling"
)

// ID identifies a peer within its room, unique for the lifetime of the
// process.
type ID = uint32

// Media holds the local track a peer has published for one kind (audio or
// video), plus the SSRC the source reported, which PLI targets by.
type Media struct {
	Track *webrtc.TrackLocalStaticRTP
	SSRC  webrtc.SSRC
}

// OnConnectedFunc is invoked once the peer's connection reaches the
// Connected state.
type OnConnectedFunc func()

// OnCandidateFunc is invoked once per locally generated ICE candidate.
type OnCandidateFunc func(webrtc.ICECandidateInit)

// OnTrackFunc is invoked once per inbound remote track (at most one audio,
// one video).
type OnTrackFunc func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

// Peer wraps one pion PeerConnection and the signaling/media state layered
// on top of it.
type Peer struct {
	ID     ID
	RoomID uint32

	conn   *webrtc.PeerConnection
	signal *signaling.Channel
	logger *zap.Logger

	mu    sync.Mutex
	name  string
	video *Media
	audio *Media

	pendingCandidates []webrtc.ICECandidateInit
	remoteDescSet     bool

	// sendTransceivers tracks, per source peer, the sendonly transceivers
	// this peer holds for that source's published tracks, so they can be
	// torn down in one call when the source leaves.
	sendTransceivers map[ID][]*webrtc.RTPTransceiver

	onConnected OnConnectedFunc
	onCandidate OnCandidateFunc
	onTrack     OnTrackFunc

	closeOnce sync.Once
}

// New creates a Peer and its underlying PeerConnection. The returned peer
// has no transceivers and no callbacks registered yet.
func New(id ID, roomID uint32, api *webrtc.API, config webrtc.Configuration, signal *signaling.Channel, logger *zap.Logger) (*Peer, error) {
	conn, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, errs.Media(err)
	}

	p := &Peer{
		ID:               id,
		RoomID:           roomID,
		conn:             conn,
		signal:           signal,
		logger:           logger,
		sendTransceivers: make(map[ID][]*webrtc.RTPTransceiver),
	}
	p.setupHandlers()

	if err := p.SendMessage(signaling.IDMessage(id)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Peer) setupHandlers() {
	p.conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.mu.Lock()
		cb := p.onTrack
		p.mu.Unlock()
		if cb != nil {
			cb(track, receiver)
		}
	})

	p.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state changed",
			zap.Uint32("peerID", p.ID), zap.String("state", state.String()))
		if state != webrtc.PeerConnectionStateConnected {
			return
		}
		p.mu.Lock()
		cb := p.onConnected
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})

	p.conn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		p.mu.Lock()
		cb := p.onCandidate
		p.mu.Unlock()
		if cb != nil {
			cb(candidate.ToJSON())
		}
	})
}

// OnConnected registers the connected callback. Must be called before the
// connection can reach the Connected state to guarantee delivery.
func (p *Peer) OnConnected(f OnConnectedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnected = f
}

// OnCandidate registers the local-candidate callback.
func (p *Peer) OnCandidate(f OnCandidateFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

// OnTrack registers the remote-track callback.
func (p *Peer) OnTrack(f OnTrackFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

// AddRecvonlyTransceiver adds a recvonly transceiver of the given kind, used
// to receive this peer's own published media.
func (p *Peer) AddRecvonlyTransceiver(kind webrtc.RTPCodecType) error {
	_, err := p.conn.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return errs.Media(err)
}

// AddSendonlyTransceiver adds a sendonly transceiver carrying track, which
// was published by the peer identified by fromPeerID. A goroutine drains
// RTCP from the transceiver's sender for the lifetime of the connection, as
// pion requires something to keep reading it or its buffer fills.
func (p *Peer) AddSendonlyTransceiver(fromPeerID ID, track *webrtc.TrackLocalStaticRTP) error {
	tr, err := p.conn.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return errs.Media(err)
	}

	p.mu.Lock()
	p.sendTransceivers[fromPeerID] = append(p.sendTransceivers[fromPeerID], tr)
	p.mu.Unlock()

	sender := tr.Sender()
	go drainRTCP(sender)

	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// StopTransceivers stops every sendonly transceiver this peer holds for
// fromPeerID's published tracks, releasing them now that the source left.
func (p *Peer) StopTransceivers(fromPeerID ID) error {
	p.mu.Lock()
	transceivers := p.sendTransceivers[fromPeerID]
	delete(p.sendTransceivers, fromPeerID)
	p.mu.Unlock()

	for _, tr := range transceivers {
		if err := tr.Stop(); err != nil {
			return errs.Media(err)
		}
	}
	return nil
}

// SendOffer creates a fresh offer reflecting the current transceiver set,
// sets it as the local description, and sends it to the peer.
func (p *Peer) SendOffer() error {
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return errs.Media(err)
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		return errs.Media(err)
	}
	return p.SendMessage(signaling.OfferMessage(offer.SDP))
}

// RecvOffer handles an inbound offer. Per the glare-avoidance rule, an offer
// received while the connection is not in the stable signaling state is
// dropped silently: no remote description is set and no answer is sent.
func (p *Peer) RecvOffer(sdp string) error {
	if p.conn.SignalingState() != webrtc.SignalingStateStable {
		p.logger.Debug("dropping offer received outside stable signaling state",
			zap.Uint32("peerID", p.ID), zap.String("state", p.conn.SignalingState().String()))
		return nil
	}

	if err := p.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return err
	}

	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return errs.Media(err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return errs.Media(err)
	}
	return p.SendMessage(signaling.AnswerMessage(answer.SDP))
}

// RecvAnswer handles an inbound answer to an offer this peer sent.
func (p *Peer) RecvAnswer(sdp string) error {
	return p.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// setRemoteDescription sets desc and flushes any ICE candidates buffered
// while no remote description was set, preserving arrival order.
func (p *Peer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return errs.Media(err)
	}

	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.remoteDescSet = true
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.conn.AddICECandidate(c); err != nil {
			return errs.Media(err)
		}
	}
	return nil
}

// AddCandidate adds an ICE candidate, buffering it if the remote description
// isn't set yet so it can be applied in arrival order once it is.
func (p *Peer) AddCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteDescSet {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return errs.Media(p.conn.AddICECandidate(candidate))
}

// SetName records the peer's display name.
func (p *Peer) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

// Name returns the peer's current display name, or "" if never set.
func (p *Peer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SetTrack records a newly published local track for kind, replacing any
// previous track of the same kind.
func (p *Peer) SetTrack(kind webrtc.RTPCodecType, local *webrtc.TrackLocalStaticRTP, ssrc webrtc.SSRC) {
	m := &Media{Track: local, SSRC: ssrc}
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == webrtc.RTPCodecTypeVideo {
		p.video = m
	} else {
		p.audio = m
	}
}

// IsAudioAndVideo reports whether the peer has published both an audio and
// a video track.
func (p *Peer) IsAudioAndVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video != nil && p.audio != nil
}

// VideoTrack and AudioTrack return the peer's published local tracks, if
// any, for forwarding to other peers.
func (p *Peer) VideoTrack() *Media {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

func (p *Peer) AudioTrack() *Media {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audio
}

// IsConnected reports whether the underlying connection has reached the
// Connected state.
func (p *Peer) IsConnected() bool {
	return p.conn.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// SendPLI requests a fresh keyframe from this peer's published video track.
// It is a no-op if the peer has not published video.
func (p *Peer) SendPLI() error {
	video := p.VideoTrack()
	if video == nil {
		return nil
	}
	metrics.RecordPLI()
	return errs.Media(p.conn.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(video.SSRC)},
	}))
}

// Stats returns the current WebRTC stats report for this peer's connection,
// for ambient telemetry collection.
func (p *Peer) Stats() webrtc.StatsReport {
	return p.conn.GetStats()
}

// SendMessage sends msg to this peer over its SignalChannel.
func (p *Peer) SendMessage(msg signaling.ServerMessage) error {
	return p.signal.Send(msg)
}

// Close tears down the underlying PeerConnection. Safe to call more than
// once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close()
	})
	return errs.Media(err)
}

// Package room implements Room: the set of peers sharing one room code, and
// the cross-peer operations (track fan-out, membership broadcast, PLI
// routing) that need every peer visible at once.
//
// Room's own methods never lock internally. The single Room-wide mutex is
// exposed via Lock/Unlock so a caller can hold it across a whole multi-step
// sequence (admission, leave, broadcast), including the sends to other
// peers: those only enqueue on each peer's SignalChannel, whose writer
// goroutine never takes the Room lock.
package room

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/metrics"
	"github.com/huddlertc/sfu/internals/peer"
	"github.com/huddlertc/sfu/internals/signaling"
)

// Room holds every peer currently admitted under one room code.
type Room struct {
	ID uint32

	mu    sync.Mutex
	peers map[peer.ID]*peer.Peer

	nextPeerID *atomic.Uint32
	logger     *zap.Logger
}

// New creates an empty room. nextPeerID is shared process-wide, matching
// State's monotonic peer-id allocation.
func New(id uint32, nextPeerID *atomic.Uint32, logger *zap.Logger) *Room {
	return &Room{
		ID:         id,
		peers:      make(map[peer.ID]*peer.Peer),
		nextPeerID: nextPeerID,
		logger:     logger,
	}
}

// Lock acquires the room's mutex. Callers must Unlock when done.
func (r *Room) Lock() { r.mu.Lock() }

// Unlock releases the room's mutex.
func (r *Room) Unlock() { r.mu.Unlock() }

// AddPeer mints a fresh peer id, creates its Peer and PeerConnection, and
// admits it to the room. Callers must hold the room's lock.
func (r *Room) AddPeer(api *webrtc.API, config webrtc.Configuration, signal *signaling.Channel, logger *zap.Logger) (*peer.Peer, error) {
	id := r.nextPeerID.Add(1) - 1

	p, err := peer.New(id, r.ID, api, config, signal, logger)
	if err != nil {
		return nil, err
	}
	r.peers[id] = p
	metrics.ActivePeers.Inc()
	return p, nil
}

// GetPeer returns the peer with the given id, if admitted. Callers must hold
// the room's lock for the duration of any use of the returned Peer that
// depends on room-wide invariants.
func (r *Room) GetPeer(id peer.ID) (*peer.Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Snapshot returns the peers currently admitted to the room. Unlike this
// type's other methods, Snapshot locks internally: it is a single
// self-contained read used by ambient telemetry, not a step in a larger
// caller-held-lock sequence.
func (r *Room) Snapshot() map[peer.ID]*peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[peer.ID]*peer.Peer, len(r.peers))
	for id, p := range r.peers {
		out[id] = p
	}
	return out
}

// RemovePeer removes and returns the peer with the given id.
func (r *Room) RemovePeer(id peer.ID) (*peer.Peer, bool) {
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		metrics.ActivePeers.Dec()
	}
	return p, ok
}

// Len returns the number of peers currently admitted.
func (r *Room) Len() int { return len(r.peers) }

// AddOtherPeersTracks gives p a sendonly transceiver for every track every
// other already-admitted peer has published.
func (r *Room) AddOtherPeersTracks(p *peer.Peer) error {
	for id, other := range r.peers {
		if id == p.ID {
			continue
		}
		for _, m := range []*peer.Media{other.VideoTrack(), other.AudioTrack()} {
			if m == nil {
				continue
			}
			if err := p.AddSendonlyTransceiver(id, m.Track); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetServerMessagePeers lists the peers visible to forID: every other peer
// that is both Connected and has set a name.
func (r *Room) GetServerMessagePeers(forID peer.ID) []signaling.ServerMessagePeer {
	var out []signaling.ServerMessagePeer
	for id, p := range r.peers {
		if id == forID {
			continue
		}
		name := p.Name()
		if !p.IsConnected() || name == "" {
			continue
		}
		out = append(out, signaling.ServerMessagePeer{ID: id, Name: name})
	}
	return out
}

// SendJoinedPeer announces id/name to every other peer in the room.
func (r *Room) SendJoinedPeer(id peer.ID, name string) error {
	msg := signaling.PeerJoinedMessage(id, name)
	for otherID, other := range r.peers {
		if otherID == id {
			continue
		}
		if err := other.SendMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// AddPeerTrackToOthers gives every other peer a sendonly transceiver for
// fromPeerID's newly published track, and renegotiates with each one that
// needs it (sendOffer is true once fromPeerID has published both audio and
// video, to batch renegotiation into a single offer per consumer).
func (r *Room) AddPeerTrackToOthers(fromPeerID peer.ID, track *webrtc.TrackLocalStaticRTP, sendOffer bool) error {
	for id, other := range r.peers {
		if id == fromPeerID {
			continue
		}
		if err := other.AddSendonlyTransceiver(fromPeerID, track); err != nil {
			return err
		}
		if sendOffer {
			if err := other.SendOffer(); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandlePeerLeave removes id, closes its connection, and tells every
// remaining peer it left: send PeerLeft, stop the transceivers carrying its
// tracks, and renegotiate. It reports whether id was actually a member and
// how many peers remain afterward.
func (r *Room) HandlePeerLeave(id peer.ID) (left bool, remaining int, err error) {
	p, ok := r.RemovePeer(id)
	if !ok {
		return false, r.Len(), nil
	}

	if closeErr := p.Close(); closeErr != nil {
		r.logger.Warn("error closing peer connection", zap.Uint32("peerID", id), zap.Error(closeErr))
	}

	for _, other := range r.peers {
		if sendErr := other.SendMessage(signaling.PeerLeftMessage(id)); sendErr != nil {
			err = sendErr
			continue
		}
		if stopErr := other.StopTransceivers(id); stopErr != nil {
			err = stopErr
			continue
		}
		if offerErr := other.SendOffer(); offerErr != nil {
			err = offerErr
		}
	}

	return true, r.Len(), err
}

// SendPLI requests a keyframe from the peer identified by id, if present.
func (r *Room) SendPLI(id peer.ID) error {
	p, ok := r.peers[id]
	if !ok {
		return nil
	}
	return p.SendPLI()
}

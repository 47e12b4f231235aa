package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// ServerMessage is the single-key, camelCase discriminated union the server
// sends to a peer. Exactly one field is populated per message; encoding/json
// with "omitempty" already produces the single-key wire shape the client
// expects, so no custom Marshal/Unmarshal is needed.
type ServerMessage struct {
	Candidate  *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Offer      *string                  `json:"offer,omitempty"`
	Answer     *string                  `json:"answer,omitempty"`
	ID         *uint32                  `json:"id,omitempty"`
	// Peers is a pointer so an empty-but-present membership list still
	// marshals as "peers":[] instead of being omitted: encoding/json's
	// omitempty treats a nil pointer as absent but dereferences a non-nil
	// one, even when it points at a zero-length slice.
	Peers      *[]ServerMessagePeer `json:"peers,omitempty"`
	PeerJoined *ServerMessagePeer   `json:"peerJoined,omitempty"`
	PeerLeft   *uint32              `json:"peerLeft,omitempty"`
}

// ServerMessagePeer describes a peer currently visible to the room, as sent
// in the "peers" and "peerJoined" messages.
type ServerMessagePeer struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

func CandidateMessage(c webrtc.ICECandidateInit) ServerMessage {
	return ServerMessage{Candidate: &c}
}

func OfferMessage(sdp string) ServerMessage {
	return ServerMessage{Offer: &sdp}
}

func AnswerMessage(sdp string) ServerMessage {
	return ServerMessage{Answer: &sdp}
}

func IDMessage(id uint32) ServerMessage {
	return ServerMessage{ID: &id}
}

func PeersMessage(peers []ServerMessagePeer) ServerMessage {
	if peers == nil {
		peers = []ServerMessagePeer{}
	}
	return ServerMessage{Peers: &peers}
}

func PeerJoinedMessage(id uint32, name string) ServerMessage {
	p := ServerMessagePeer{ID: id, Name: name}
	return ServerMessage{PeerJoined: &p}
}

func PeerLeftMessage(id uint32) ServerMessage {
	return ServerMessage{PeerLeft: &id}
}

// PeerMessage is the single-key discriminated union a peer sends to the
// server.
type PeerMessage struct {
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Offer     *string                  `json:"offer,omitempty"`
	Answer    *string                  `json:"answer,omitempty"`
	Name      *string                  `json:"name,omitempty"`
	Pli       *uint32                  `json:"pli,omitempty"`
}

// ParsePeerMessage unmarshals a text frame into a PeerMessage and checks
// that exactly one variant was populated; anything else is a malformed
// message, which is fatal per the signaling contract.
func ParsePeerMessage(data []byte) (PeerMessage, error) {
	var msg PeerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return PeerMessage{}, err
	}
	if msg.variantCount() != 1 {
		return PeerMessage{}, fmt.Errorf("message must set exactly one of candidate/offer/answer/name/pli, got %d", msg.variantCount())
	}
	return msg, nil
}

func (m PeerMessage) variantCount() int {
	n := 0
	if m.Candidate != nil {
		n++
	}
	if m.Offer != nil {
		n++
	}
	if m.Answer != nil {
		n++
	}
	if m.Name != nil {
		n++
	}
	if m.Pli != nil {
		n++
	}
	return n
}

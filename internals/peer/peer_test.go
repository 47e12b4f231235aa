package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/signaling"
)

// fakeTransport is an in-memory signaling.Transport for tests: WriteMessage
// appends to an internal slice instead of touching a real socket, and
// ReadMessage blocks until Close is called.
type fakeTransport struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errClosed
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeTransport) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

type closedError struct{}

func (closedError) Error() string { return "transport closed" }

var errClosed = closedError{}

func newTestPeer(t *testing.T, id ID) (*Peer, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	ch := signaling.NewChannel(transport, zap.NewNop())
	t.Cleanup(ch.Close)

	p, err := New(id, 1, webrtc.NewAPI(), webrtc.Configuration{}, ch, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, transport
}

func TestRecvOfferDroppedOutsideStableState(t *testing.T) {
	p, _ := newTestPeer(t, 1)

	// Put the connection into the have-local-offer state by creating and
	// setting a local offer, so SignalingState is no longer Stable.
	offer, err := p.conn.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, p.conn.SetLocalDescription(offer))
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, p.conn.SignalingState())

	require.NoError(t, p.RecvOffer(offer.SDP))

	// No remote description should have been set, and no answer sent.
	require.Nil(t, p.conn.RemoteDescription())
}

func TestAddCandidateBuffersUntilRemoteDescriptionSet(t *testing.T) {
	p, _ := newTestPeer(t, 2)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 123456 127.0.0.1 9 typ host"}
	require.NoError(t, p.AddCandidate(candidate))

	p.mu.Lock()
	require.Len(t, p.pendingCandidates, 1)
	p.mu.Unlock()
}

func TestSetTrackAndIsAudioAndVideo(t *testing.T) {
	p, _ := newTestPeer(t, 3)
	require.False(t, p.IsAudioAndVideo())

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "v", "s")
	require.NoError(t, err)
	p.SetTrack(webrtc.RTPCodecTypeVideo, videoTrack, 100)
	require.False(t, p.IsAudioAndVideo())

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "a", "s")
	require.NoError(t, err)
	p.SetTrack(webrtc.RTPCodecTypeAudio, audioTrack, 200)
	require.True(t, p.IsAudioAndVideo())

	require.Equal(t, webrtc.SSRC(100), p.VideoTrack().SSRC)
	require.Equal(t, webrtc.SSRC(200), p.AudioTrack().SSRC)
}

func TestSendMessageGoesThroughTransport(t *testing.T) {
	p, transport := newTestPeer(t, 4)

	// New already sent one Id message; this adds a second.
	require.NoError(t, p.SendMessage(signaling.OfferMessage("sdp-body")))

	require.Eventually(t, func() bool {
		return len(transport.messages()) == 2
	}, time.Second, 5*time.Millisecond)
}

package room

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/peer"
	"github.com/huddlertc/sfu/internals/signaling"
)

type fakeTransport struct {
	mu      sync.Mutex
	written int
	closed  chan struct{}
}

func newFakeTransport() *fakeTransport { return &fakeTransport{closed: make(chan struct{})} }

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errClosed{}
}
func (f *fakeTransport) WriteMessage(int, []byte) error {
	f.mu.Lock()
	f.written++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
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

type errClosed struct{}

func (errClosed) Error() string { return "closed" }

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	var counter atomic.Uint32
	counter.Store(1)
	return New(1, &counter, zap.NewNop())
}

func addTestPeer(t *testing.T, r *Room) (*peer.Peer, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	ch := signaling.NewChannel(transport, zap.NewNop())
	t.Cleanup(ch.Close)

	p, err := r.AddPeer(webrtc.NewAPI(), webrtc.Configuration{}, ch, zap.NewNop())
	require.NoError(t, err)
	return p, transport
}

func TestAddPeerAssignsDistinctIDs(t *testing.T) {
	r := newTestRoom(t)
	r.Lock()
	defer r.Unlock()

	p1, _ := addTestPeer(t, r)
	p2, _ := addTestPeer(t, r)

	require.NotEqual(t, p1.ID, p2.ID)
	require.Equal(t, 2, r.Len())
}

func TestHandlePeerLeaveIsIdempotent(t *testing.T) {
	r := newTestRoom(t)
	r.Lock()
	p, _ := addTestPeer(t, r)
	r.Unlock()

	r.Lock()
	left, remaining, err := r.HandlePeerLeave(p.ID)
	r.Unlock()
	require.NoError(t, err)
	require.True(t, left)
	require.Equal(t, 0, remaining)

	r.Lock()
	left, remaining, err = r.HandlePeerLeave(p.ID)
	r.Unlock()
	require.NoError(t, err)
	require.False(t, left)
	require.Equal(t, 0, remaining)
}

func TestSendJoinedPeerSkipsTheJoiningPeer(t *testing.T) {
	r := newTestRoom(t)
	r.Lock()
	p1, t1 := addTestPeer(t, r)
	_, t2 := addTestPeer(t, r)
	err := r.SendJoinedPeer(p1.ID, "alice")
	r.Unlock()
	require.NoError(t, err)

	// Each transport already has one message from its own peer's immediate
	// Id send at construction; SendJoinedPeer adds a second for t2 only.
	require.Eventually(t, func() bool { return t2.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, t1.count())
}

func TestGetServerMessagePeersExcludesUnconnectedAndSelf(t *testing.T) {
	r := newTestRoom(t)
	r.Lock()
	defer r.Unlock()

	p1, _ := addTestPeer(t, r)
	p2, _ := addTestPeer(t, r)
	p2.SetName("bob")

	peers := r.GetServerMessagePeers(p1.ID)
	// p2 is not Connected in this unit test (no real ICE handshake), so the
	// visibility gate (Connected && named) excludes it too; this exercises
	// that GetServerMessagePeers never includes the requester itself.
	require.Empty(t, peers)
	for _, sp := range peers {
		require.NotEqual(t, p1.ID, sp.ID)
	}
}

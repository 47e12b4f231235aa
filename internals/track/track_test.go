package track

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/errs"
)

func TestTrackIDFormat(t *testing.T) {
	require.Equal(t, "7-video", trackID(7, webrtc.RTPCodecTypeVideo))
	require.Equal(t, "3-audio", trackID(3, webrtc.RTPCodecTypeAudio))
}

// TestPipeForward negotiates a real audio track between two local peer
// connections and verifies the pipe publishes a correctly named local audio
// track for it, then checks that the source still accepts an RTP write.
func TestPipeForward(t *testing.T) {
	offerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer offerPC.Close()

	answerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer answerPC.Close()

	srcTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"source", "source-stream",
	)
	require.NoError(t, err)

	_, err = offerPC.AddTrack(srcTrack)
	require.NoError(t, err)

	sink := errs.NewSink(zap.NewNop())
	pipe := NewPipe(42, sink)

	remoteArrived := make(chan *webrtc.TrackRemote, 1)
	answerPC.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		remoteArrived <- tr
	})

	negotiate(t, offerPC, answerPC)

	var remote *webrtc.TrackRemote
	select {
	case remote = <-remoteArrived:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for remote track")
	}

	pipe.Forward(remote)

	var published Track
	select {
	case published = <-pipe.Tracks():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published local track")
	}

	require.Equal(t, "42-audio", published.Local.ID())
	require.Equal(t, webrtc.RTPCodecTypeAudio, published.Kind)

	require.NoError(t, srcTrack.WriteRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 1, Timestamp: 1000, SSRC: 1},
		Payload: []byte{0x1, 0x2, 0x3},
	}))
}

func negotiate(t *testing.T, offerPC, answerPC *webrtc.PeerConnection) {
	t.Helper()

	offer, err := offerPC.CreateOffer(nil)
	require.NoError(t, err)

	offerGatherDone := webrtc.GatheringCompletePromise(offerPC)
	require.NoError(t, offerPC.SetLocalDescription(offer))
	<-offerGatherDone

	require.NoError(t, answerPC.SetRemoteDescription(*offerPC.LocalDescription()))

	answer, err := answerPC.CreateAnswer(nil)
	require.NoError(t, err)

	answerGatherDone := webrtc.GatheringCompletePromise(answerPC)
	require.NoError(t, answerPC.SetLocalDescription(answer))
	<-answerGatherDone

	require.NoError(t, offerPC.SetRemoteDescription(*answerPC.LocalDescription()))
}

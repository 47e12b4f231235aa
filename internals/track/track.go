// Package track implements the TrackPipe: the per-peer pipeline that turns
// an inbound remote RTP track into a local track the room can forward to
// every other peer.
package track

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v3"

	"github.com/huddlertc/sfu/internals/errs"
)

func trackID(peerID uint32, kind webrtc.RTPCodecType) string {
	return fmt.Sprintf("%d-%s", peerID, kind)
}

// Track is one forwardable local track, produced once a peer's published
// remote track has been read far enough to know its codec and stream id.
type Track struct {
	Local *webrtc.TrackLocalStaticRTP
	SSRC  webrtc.SSRC
	Kind  webrtc.RTPCodecType
}

// Pipe owns the channel of Tracks produced for one peer's published media.
// Its buffer (2) matches the at-most-two tracks (audio, video) a peer ever
// publishes.
type Pipe struct {
	peerID uint32
	out    chan Track
	sink   *errs.Sink
}

// NewPipe creates a TrackPipe for the given peer, whose read errors are
// reported to sink.
func NewPipe(peerID uint32, sink *errs.Sink) *Pipe {
	return &Pipe{
		peerID: peerID,
		out:    make(chan Track, 2),
		sink:   sink,
	}
}

// Tracks returns the channel on which newly published local tracks arrive.
func (p *Pipe) Tracks() <-chan Track { return p.out }

// Forward starts copying RTP from remote into a freshly built local track,
// named "<peerID>-<kind>", and publishes that local track on Tracks() as
// soon as it exists. It runs in its own goroutine and reports any terminal
// error to the pipe's sink; a closed local track (the peer left and its
// transceivers were stopped) is expected and not reported.
func (p *Pipe) Forward(remote *webrtc.TrackRemote) {
	p.sink.Spawn(func() error {
		kind := remote.Kind()
		local, err := webrtc.NewTrackLocalStaticRTP(
			remote.Codec().RTPCodecCapability,
			trackID(p.peerID, kind),
			remote.StreamID(),
		)
		if err != nil {
			return errs.Media(err)
		}

		p.out <- Track{Local: local, SSRC: remote.SSRC(), Kind: kind}

		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return errs.Media(err)
			}
			if err := local.WriteRTP(pkt); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					continue
				}
				return errs.Media(err)
			}
		}
	})
}

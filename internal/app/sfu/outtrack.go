package sfu

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

const (
	outForwarding int32 = iota
	outMuted
	outDead
)

// outTrack is the fan-out endpoint for one consumer. The forward loop polls
// its state on every packet, so transitions are single atomic stores.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (t *outTrack) setMuted(muted bool) {
	// A dead track stays dead.
	if t.state.Load() == outDead {
		return
	}
	if muted {
		t.state.Store(outMuted)
	} else {
		t.state.Store(outForwarding)
	}
}

func (t *outTrack) kill() {
	t.state.Store(outDead)
}

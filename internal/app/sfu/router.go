package sfu

import (
	"context"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/okonek/chorus/internal/core"
)

// Router is the per-room media hub: it creates transports and answers
// format-compatibility checks.
type Router struct {
	api  *webrtc.API
	caps webrtc.RTPCapabilities

	mu         sync.Mutex
	transports map[core.TransportID]*Transport
	closed     bool
}

func newRouter(api *webrtc.API) *Router {
	return &Router{
		api: api,
		caps: webrtc.RTPCapabilities{
			Codecs: []webrtc.RTPCodecCapability{opusCapability()},
		},
		transports: make(map[core.TransportID]*Transport),
	}
}

func (r *Router) Capabilities() webrtc.RTPCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context) (core.EngineTransport, error) {
	tr, err := newTransport(ctx, r.api)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		tr.Close()
		return nil, webrtc.ErrConnectionClosed
	}
	r.transports[tr.ID()] = tr
	r.mu.Unlock()
	tr.setOnClose(func(id core.TransportID) {
		r.mu.Lock()
		delete(r.transports, id)
		r.mu.Unlock()
	})
	return tr, nil
}

// CanConsume reports whether the given capabilities include a codec able to
// decode the producer's stream.
func (r *Router) CanConsume(producer core.EngineProducer, caps webrtc.RTPCapabilities) bool {
	prod, ok := producer.(*Producer)
	if !ok {
		return false
	}
	want := prod.codec.MimeType
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, want) {
			return true
		}
	}
	return false
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	remaining := make([]*Transport, 0, len(r.transports))
	for _, tr := range r.transports {
		remaining = append(remaining, tr)
	}
	r.transports = make(map[core.TransportID]*Transport)
	r.mu.Unlock()
	for _, tr := range remaining {
		tr.setOnClose(nil)
		tr.Close()
	}
}

// Package sfu backs the engine interfaces with pion's ORTC API: ICE-lite
// transports, one RTP receiver per producer and static RTP tracks fanned out
// to consumers.
package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
)

// WorkerConfig mirrors the relay-facing options of the server config.
type WorkerConfig struct {
	RTCMinPort  uint16
	RTCMaxPort  uint16
	AnnouncedIP string
}

// Worker is one relay worker slot built around a dedicated webrtc.API.
type Worker struct {
	api *webrtc.API

	mu      sync.Mutex
	onFatal func(error)
	routers []*Router
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	se := webrtc.SettingEngine{}
	se.SetLite(true)
	if cfg.RTCMinPort != 0 || cfg.RTCMaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.RTCMinPort, cfg.RTCMaxPort); err != nil {
			return nil, err
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability(),
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))
	return &Worker{api: api}, nil
}

func (w *Worker) NewRouter(ctx context.Context) (core.EngineRouter, error) {
	r := newRouter(w.api)
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	log.Debug().Str("module", "sfu").Msg("router created")
	return r, nil
}

// OnFatal registers the unrecoverable-failure callback. The in-process pion
// stack has no separate worker process to die, so this only fires when a
// router reports a broken media path it cannot recover from.
func (w *Worker) OnFatal(fn func(error)) {
	w.mu.Lock()
	w.onFatal = fn
	w.mu.Unlock()
}

func (w *Worker) reportFatal(err error) {
	w.mu.Lock()
	fn := w.onFatal
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *Worker) Close() {
	w.mu.Lock()
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

func opusCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

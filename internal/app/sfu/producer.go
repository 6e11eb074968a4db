package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
)

// Producer is one peer's inbound stream. Its loop reads RTP from the remote
// track and forwards each packet to every attached consumer out-track.
type Producer struct {
	id       core.ProducerID
	kind     string
	codec    webrtc.RTPCodecCapability
	receiver *webrtc.RTPReceiver

	mu     sync.RWMutex
	outs   map[core.ConsumerID]*outTrack
	paused bool

	cancel context.CancelFunc
	once   sync.Once
}

func newProducer(ctx context.Context, kind string, codec webrtc.RTPCodecCapability, receiver *webrtc.RTPReceiver) *Producer {
	loopCtx, cancel := context.WithCancel(ctx)
	p := &Producer{
		id:       core.ProducerID(uuid.NewString()),
		kind:     kind,
		codec:    codec,
		receiver: receiver,
		outs:     make(map[core.ConsumerID]*outTrack),
		cancel:   cancel,
	}
	logger := log.With().Str("module", "sfu").Str("producer", string(p.id)).Logger()
	go p.loop(loopCtx, &logger)
	return p
}

func (p *Producer) ID() core.ProducerID { return p.id }
func (p *Producer) Kind() string        { return p.kind }

// Pause mutes or resumes every out-track. The stream keeps flowing from the
// remote side; paused packets are simply not forwarded. Tracks attached while
// paused start muted.
func (p *Producer) Pause(paused bool) {
	p.mu.Lock()
	p.paused = paused
	for _, ot := range p.outs {
		ot.setMuted(paused)
	}
	p.mu.Unlock()
}

func (p *Producer) attach(id core.ConsumerID, ot *outTrack) {
	p.mu.Lock()
	if p.paused {
		ot.setMuted(true)
	}
	p.outs[id] = ot
	p.mu.Unlock()
}

func (p *Producer) detach(id core.ConsumerID) {
	p.mu.RLock()
	ot, ok := p.outs[id]
	p.mu.RUnlock()
	if ok {
		ot.kill()
	}
}

// loop reads RTP packets from the source track and fans them out.
func (p *Producer) loop(ctx context.Context, logger *zerolog.Logger) {
	track := p.receiver.Track()
	if track == nil {
		logger.Error().Msg("producer has no remote track")
		return
	}
	for {
		select {
		case <-ctx.Done():
			p.killAll()
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("producer read RTP stopped")
			p.killAll()
			return
		}
		p.forward(pkt, logger)
	}
}

func (p *Producer) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	p.mu.RLock()
	snapshot := make(map[core.ConsumerID]*outTrack, len(p.outs))
	maps.Copy(snapshot, p.outs)
	p.mu.RUnlock()

	dirty := make([]core.ConsumerID, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.state.Load() {
		case outDead:
			dirty = append(dirty, id)
		case outMuted:
		case outForwarding:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(id)).Msg("producer write RTP error, dropping out-track")
				ot.kill()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		p.cleanupDead(dirty)
	}
}

func (p *Producer) cleanupDead(dirty []core.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range dirty {
		delete(p.outs, id)
	}
}

func (p *Producer) killAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ot := range p.outs {
		ot.kill()
	}
}

func (p *Producer) Close() {
	p.once.Do(func() {
		p.cancel()
		_ = p.receiver.Stop()
		p.killAll()
	})
}

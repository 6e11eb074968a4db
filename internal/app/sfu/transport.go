package sfu

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
)

// Transport is one ICE+DTLS path between a peer and the relay, built from
// pion's ORTC primitives so the client receives explicit ICE and DTLS
// parameters instead of a full SDP exchange.
type Transport struct {
	id       core.TransportID
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     core.TransportInfo

	mu      sync.Mutex
	closed  bool
	onClose func(core.TransportID)
}

func newTransport(ctx context.Context, api *webrtc.API) (*Transport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, err
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, err
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, err
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, err
	}

	id := core.TransportID(uuid.NewString())
	return &Transport{
		id:       id,
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		info: core.TransportInfo{
			ID:             id,
			ICEParameters:  iceParams,
			ICECandidates:  candidates,
			DTLSParameters: dtlsParams,
		},
	}, nil
}

func (t *Transport) ID() core.TransportID     { return t.id }
func (t *Transport) Info() core.TransportInfo { return t.info }

func (t *Transport) setOnClose(fn func(core.TransportID)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// Connect finishes the handshake: the relay side is ICE-lite, so it always
// takes the controlled role and waits for the client's checks.
func (t *Transport) Connect(ctx context.Context, params core.ConnectParams) error {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return err
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return err
	}
	log.Debug().Str("module", "sfu").Str("transport", string(t.id)).Msg("transport connected")
	return nil
}

// Produce attaches an RTP receiver for the peer's inbound stream and starts
// the forward loop feeding that stream to consumers.
func (t *Transport) Produce(ctx context.Context, params core.ProduceParams) (core.EngineProducer, error) {
	kind := webrtc.RTPCodecTypeAudio
	if params.Kind == "video" {
		kind = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, err
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, enc := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{RTPCodingParameters: enc})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return nil, err
	}

	codec := opusCapability()
	if len(params.RTPParameters.Codecs) > 0 {
		codec = params.RTPParameters.Codecs[0].RTPCodecCapability
	}
	return newProducer(ctx, params.Kind, codec, receiver), nil
}

// Consume sends one producer's stream back out over this transport.
func (t *Transport) Consume(ctx context.Context, producer core.EngineProducer, caps webrtc.RTPCapabilities) (core.EngineConsumer, error) {
	prod, ok := producer.(*Producer)
	if !ok {
		return nil, core.ErrProducerNotFound
	}
	track, err := webrtc.NewTrackLocalStaticRTP(prod.codec, prod.kind, string(prod.ID()))
	if err != nil {
		return nil, err
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		return nil, err
	}
	return newConsumer(prod, sender, track), nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fn := t.onClose
	t.mu.Unlock()

	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()
	if fn != nil {
		fn(t.id)
	}
	log.Debug().Str("module", "sfu").Str("transport", string(t.id)).Msg("transport closed")
}

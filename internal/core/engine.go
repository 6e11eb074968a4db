package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// The relay engine is consumed as an opaque capability provider: the
// coordinator only creates routers, transports, producers and consumers
// through these interfaces and never looks inside the media path.

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// TransportInfo is everything a client needs to establish the transport on
// its side of the handshake.
type TransportInfo struct {
	ID             TransportID           `json:"transportId"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams completes the handshake for a previously created transport.
type ConnectParams struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
}

// ProduceParams describes the media a peer wants to send upstream.
type ProduceParams struct {
	Kind          string                       `json:"kind"`
	RTPParameters webrtc.RTPParameters         `json:"rtpParameters"`
	Encodings     []webrtc.RTPCodingParameters `json:"encodings"`
}

// ConsumerInfo is returned to a consuming peer so it can decode the stream.
type ConsumerInfo struct {
	ID            ConsumerID           `json:"consumerId"`
	ProducerID    ProducerID           `json:"producerId"`
	Kind          string               `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtpParameters"`
}

// EngineWorker is one relay worker slot. Workers never restart in place: a
// fatal report means in-flight relay state is gone and the process must be
// restarted by an external supervisor.
type EngineWorker interface {
	NewRouter(ctx context.Context) (EngineRouter, error)
	// OnFatal registers the callback invoked when the worker reports an
	// unrecoverable internal failure.
	OnFatal(func(error))
	Close()
}

// EngineRouter is the per-room media hub.
type EngineRouter interface {
	Capabilities() webrtc.RTPCapabilities
	CreateTransport(ctx context.Context) (EngineTransport, error)
	// CanConsume reports whether caps suffice to decode the producer's format.
	CanConsume(producer EngineProducer, caps webrtc.RTPCapabilities) bool
	Close()
}

// EngineTransport is one negotiated network path between a peer and the
// relay, carrying either outbound or inbound media.
type EngineTransport interface {
	ID() TransportID
	Info() TransportInfo
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, params ProduceParams) (EngineProducer, error)
	Consume(ctx context.Context, producer EngineProducer, caps webrtc.RTPCapabilities) (EngineConsumer, error)
	Close()
}

type EngineProducer interface {
	ID() ProducerID
	Kind() string
	// Pause stops forwarding to every consumer without tearing the producer
	// down; Pause(false) resumes.
	Pause(paused bool)
	Close()
}

type EngineConsumer interface {
	ID() ConsumerID
	Info() ConsumerInfo
	Close()
}

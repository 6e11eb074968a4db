// Package relay implements the request/response handshake a peer runs against
// the relay engine: capabilities, transport create/connect, produce, consume.
package relay

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// NewProducerEvent tells the other peers of a room that a stream appeared so
// they can start their own consume handshake.
type NewProducerEvent struct {
	RoomID     domain.RoomID
	Peer       core.PeerDTO
	ProducerID core.ProducerID
	Kind       string
}

// Negotiator drives the engine-side half of the handshake. Engine calls may
// suspend; registry state is only touched once they complete.
type Negotiator struct {
	Registry *app.RoomRegistry

	mu            sync.RWMutex
	onNewProducer func(targets []core.PeerSession, ev NewProducerEvent)
}

func NewNegotiator(registry *app.RoomRegistry) *Negotiator {
	return &Negotiator{Registry: registry}
}

// OnNewProducer registers the fan-out sink for producer announcements.
func (n *Negotiator) OnNewProducer(fn func(targets []core.PeerSession, ev NewProducerEvent)) {
	n.mu.Lock()
	n.onNewProducer = fn
	n.mu.Unlock()
}

// Capabilities is a pure read; it fails if the room is absent.
func (n *Negotiator) Capabilities(roomID domain.RoomID) (webrtc.RTPCapabilities, error) {
	router, ok := n.Registry.Router(roomID)
	if !ok {
		return webrtc.RTPCapabilities{}, core.ErrRoomNotFound
	}
	return router.Capabilities(), nil
}

// CreateTransport allocates a transport on the room's router and records it
// under the peer's transport set. If the peer left while the engine call was
// in flight, the fresh transport is closed instead of leaked.
func (n *Negotiator) CreateTransport(ctx context.Context, roomID domain.RoomID, sid core.SessionID) (core.TransportInfo, error) {
	router, ok := n.Registry.Router(roomID)
	if !ok {
		return core.TransportInfo{}, core.ErrRoomNotFound
	}
	tr, err := router.CreateTransport(ctx)
	if err != nil {
		return core.TransportInfo{}, core.NewEngineRequestError("createTransport", err)
	}
	if err := n.Registry.AddTransport(roomID, sid, tr); err != nil {
		tr.Close()
		return core.TransportInfo{}, err
	}
	log.Debug().Str("module", "relay").Str("room", string(roomID)).Str("sid", string(sid)).Str("transport", string(tr.ID())).Msg("transport created")
	return tr.Info(), nil
}

// ConnectTransport completes the handshake for a previously created
// transport. Ids from other rooms resolve to not-found here.
func (n *Negotiator) ConnectTransport(ctx context.Context, roomID domain.RoomID, tid core.TransportID, params core.ConnectParams) error {
	tr, ok := n.Registry.Transport(roomID, tid)
	if !ok {
		return core.ErrTransportNotFound
	}
	if err := tr.Connect(ctx, params); err != nil {
		return core.NewEngineRequestError("connectTransport", err)
	}
	return nil
}

// Produce creates the peer's outbound stream on the given transport. A peer
// holds at most one active producer per room; a second call is rejected
// rather than silently replacing the first. On success every other peer in
// the room is notified so it can consume.
func (n *Negotiator) Produce(ctx context.Context, roomID domain.RoomID, sid core.SessionID, tid core.TransportID, params core.ProduceParams) (core.ProducerID, error) {
	if _, exists := n.Registry.Producer(roomID, sid); exists {
		return "", core.ErrProducerExists
	}
	tr, ok := n.Registry.Transport(roomID, tid)
	if !ok {
		return "", core.ErrTransportNotFound
	}
	prod, err := tr.Produce(ctx, params)
	if err != nil {
		return "", core.NewEngineRequestError("produce", err)
	}
	if err := n.Registry.SetProducer(roomID, sid, prod); err != nil {
		prod.Close()
		return "", err
	}

	n.announce(roomID, sid, prod)
	log.Info().Str("module", "relay").Str("room", string(roomID)).Str("sid", string(sid)).Str("producer", string(prod.ID())).Msg("producer created")
	return prod.ID(), nil
}

// PauseProducer mutes or resumes the peer's active stream without tearing
// the producer down. The mute flag is reflected in rosters and presence.
func (n *Negotiator) PauseProducer(roomID domain.RoomID, sid core.SessionID, paused bool) error {
	prod, ok := n.Registry.Producer(roomID, sid)
	if !ok {
		return core.ErrProducerNotFound
	}
	prod.Pause(paused)
	n.Registry.SetMute(roomID, sid, paused)
	log.Debug().Str("module", "relay").Str("room", string(roomID)).Str("sid", string(sid)).Bool("paused", paused).Msg("producer pause")
	return nil
}

// Unproduce releases the peer's active producer so it may produce again.
func (n *Negotiator) Unproduce(roomID domain.RoomID, sid core.SessionID) error {
	if !n.Registry.RemoveProducer(roomID, sid) {
		return core.ErrProducerNotFound
	}
	return nil
}

// Consume subscribes the calling peer to another peer's producer. The engine
// decides whether the consumer's capabilities can decode the stream.
func (n *Negotiator) Consume(ctx context.Context, roomID domain.RoomID, sid core.SessionID, producerPeer core.SessionID, tid core.TransportID, caps webrtc.RTPCapabilities) (core.ConsumerInfo, error) {
	router, ok := n.Registry.Router(roomID)
	if !ok {
		return core.ConsumerInfo{}, core.ErrRoomNotFound
	}
	prod, ok := n.Registry.Producer(roomID, producerPeer)
	if !ok {
		return core.ConsumerInfo{}, core.ErrProducerNotFound
	}
	if !router.CanConsume(prod, caps) {
		return core.ConsumerInfo{}, core.ErrIncompatibleCapabilities
	}
	tr, ok := n.Registry.Transport(roomID, tid)
	if !ok {
		return core.ConsumerInfo{}, core.ErrTransportNotFound
	}
	cons, err := tr.Consume(ctx, prod, caps)
	if err != nil {
		return core.ConsumerInfo{}, core.NewEngineRequestError("consume", err)
	}
	if err := n.Registry.AddConsumer(roomID, sid, cons); err != nil {
		cons.Close()
		return core.ConsumerInfo{}, err
	}
	log.Debug().Str("module", "relay").Str("room", string(roomID)).Str("sid", string(sid)).Str("consumer", string(cons.ID())).Msg("consumer created")
	return cons.Info(), nil
}

func (n *Negotiator) announce(roomID domain.RoomID, sid core.SessionID, prod core.EngineProducer) {
	n.mu.RLock()
	fn := n.onNewProducer
	n.mu.RUnlock()
	if fn == nil {
		return
	}
	targets := n.Registry.Sessions(roomID, sid)
	if len(targets) == 0 {
		return
	}
	roster := n.Registry.Roster(roomID, "")
	var peer core.PeerDTO
	for _, dto := range roster {
		if dto.PeerID == sid {
			peer = dto
			break
		}
	}
	fn(targets, NewProducerEvent{
		RoomID:     roomID,
		Peer:       peer,
		ProducerID: prod.ID(),
		Kind:       prod.Kind(),
	})
}

package app

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// peerEntry tracks one peer and every relay resource it owns inside a room.
type peerEntry struct {
	peer       *domain.Peer
	session    core.PeerSession
	transports map[core.TransportID]struct{}
	consumers  map[core.ConsumerID]struct{}
}

// Room is the unit of membership and relay-resource scoping. All fields are
// guarded by the owning registry's mutex; resources referenced by a peer
// always belong to this room's tables, never another room's.
type Room struct {
	meta       domain.Room
	router     core.EngineRouter
	peers      map[core.SessionID]*peerEntry
	transports map[core.TransportID]core.EngineTransport
	producers  map[core.SessionID]core.EngineProducer
	consumers  map[core.ConsumerID]core.EngineConsumer
}

func (r *Room) Meta() domain.Room { return r.meta }

// RoomRegistry exclusively owns all Room and peer records. Mutations are
// serialized by one mutex, so no two mutations to the same room's state ever
// interleave. Engine calls are never made while holding the lock.
type RoomRegistry struct {
	pool *EngineWorkerPool

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomRegistry(pool *EngineWorkerPool) *RoomRegistry {
	return &RoomRegistry{
		pool:  pool,
		rooms: make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate is idempotent: the first caller acquires a worker and creates
// router state, later callers get the existing room. When two creations race,
// the loser closes its redundant router.
func (reg *RoomRegistry) GetOrCreate(ctx context.Context, id domain.RoomID, kind domain.RoomKind) (*Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return room, nil
	}

	worker := reg.pool.Acquire()
	router, err := worker.NewRouter(ctx)
	if err != nil {
		return nil, core.NewEngineRequestError("createRouter", err)
	}

	reg.mu.Lock()
	if room, ok = reg.rooms[id]; ok {
		reg.mu.Unlock()
		router.Close()
		return room, nil
	}
	room = &Room{
		meta:       domain.Room{ID: id, Kind: kind},
		router:     router,
		peers:      make(map[core.SessionID]*peerEntry),
		transports: make(map[core.TransportID]core.EngineTransport),
		producers:  make(map[core.SessionID]core.EngineProducer),
		consumers:  make(map[core.ConsumerID]core.EngineConsumer),
	}
	reg.rooms[id] = room
	reg.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("kind", kind.String()).Msg("room created")
	return room, nil
}

func (reg *RoomRegistry) Get(id domain.RoomID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Router returns the room's engine-side router.
func (reg *RoomRegistry) Router(id domain.RoomID) (core.EngineRouter, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return nil, false
	}
	return room.router, true
}

// Delete closes every transport, then the router, then removes the entry.
// Only the ephemeral lifecycle calls this; permanent rooms are never deleted.
func (reg *RoomRegistry) Delete(id domain.RoomID) {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if ok {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}
	for _, c := range room.consumers {
		c.Close()
	}
	for _, p := range room.producers {
		p.Close()
	}
	for _, t := range room.transports {
		t.Close()
	}
	room.router.Close()
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room deleted")
}

// AddPeer is idempotent for a peer already present.
func (reg *RoomRegistry) AddPeer(id domain.RoomID, sid core.SessionID, sess core.PeerSession) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	if !ok {
		return core.ErrRoomNotFound
	}
	if _, ok := room.peers[sid]; ok {
		return nil
	}
	room.peers[sid] = &peerEntry{
		peer:       domain.NewPeer(sess.User()),
		session:    sess,
		transports: make(map[core.TransportID]struct{}),
		consumers:  make(map[core.ConsumerID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("sid", string(sid)).Msg("peer added")
	return nil
}

// RemovePeer drops the peer and closes every transport, producer and consumer
// it owned so nothing leaks on leave or abrupt disconnect. It returns the
// remaining peer count and whether the peer was actually a member.
func (reg *RoomRegistry) RemovePeer(id domain.RoomID, sid core.SessionID) (remaining int, removed bool) {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if !ok {
		reg.mu.Unlock()
		return 0, false
	}
	entry, ok := room.peers[sid]
	if !ok {
		remaining = len(room.peers)
		reg.mu.Unlock()
		return remaining, false
	}

	var closers []func()
	if prod, ok := room.producers[sid]; ok {
		delete(room.producers, sid)
		closers = append(closers, prod.Close)
	}
	for cid := range entry.consumers {
		if cons, ok := room.consumers[cid]; ok {
			delete(room.consumers, cid)
			closers = append(closers, cons.Close)
		}
	}
	for tid := range entry.transports {
		if tr, ok := room.transports[tid]; ok {
			delete(room.transports, tid)
			closers = append(closers, tr.Close)
		}
	}
	delete(room.peers, sid)
	remaining = len(room.peers)
	reg.mu.Unlock()

	for _, close := range closers {
		close()
	}
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("sid", string(sid)).Int("remaining", remaining).Msg("peer removed")
	return remaining, true
}

// HasPeer reports membership of sid in the room.
func (reg *RoomRegistry) HasPeer(id domain.RoomID, sid core.SessionID) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return false
	}
	_, ok = room.peers[sid]
	return ok
}

func (reg *RoomRegistry) PeerCount(id domain.RoomID) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return 0
	}
	return len(room.peers)
}

// Roster returns the members of a room, excluding the given sid, ordered by
// join time so clients render stable lists.
func (reg *RoomRegistry) Roster(id domain.RoomID, exclude core.SessionID) []core.PeerDTO {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return nil
	}
	type rosterEntry struct {
		dto    core.PeerDTO
		joined int64
	}
	entries := make([]rosterEntry, 0, len(room.peers))
	for sid, e := range room.peers {
		if sid == exclude {
			continue
		}
		entries = append(entries, rosterEntry{
			dto: core.PeerDTO{
				PeerID:      sid,
				UserID:      e.peer.User.ID,
				DisplayName: e.peer.User.DisplayName,
				Muted:       e.peer.Mute,
			},
			joined: e.peer.JoinedAt.UnixNano(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].joined < entries[j].joined })
	out := make([]core.PeerDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.dto)
	}
	return out
}

// Sessions returns the live signaling sessions of a room's members, excluding
// the given sid. Used for peer-scoped fan-out.
func (reg *RoomRegistry) Sessions(id domain.RoomID, exclude core.SessionID) []core.PeerSession {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return nil
	}
	out := make([]core.PeerSession, 0, len(room.peers))
	for sid, e := range room.peers {
		if sid == exclude {
			continue
		}
		out = append(out, e.session)
	}
	return out
}

// AddTransport records the transport under the room table and the owning
// peer's transport set.
func (reg *RoomRegistry) AddTransport(id domain.RoomID, sid core.SessionID, tr core.EngineTransport) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	if !ok {
		return core.ErrRoomNotFound
	}
	entry, ok := room.peers[sid]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.transports[tr.ID()] = tr
	entry.transports[tr.ID()] = struct{}{}
	return nil
}

// Transport resolves a transport id within one room only; ids from other
// rooms are unknown here.
func (reg *RoomRegistry) Transport(id domain.RoomID, tid core.TransportID) (core.EngineTransport, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return nil, false
	}
	tr, ok := room.transports[tid]
	return tr, ok
}

// SetProducer records the peer's producer. A peer holds at most one active
// producer per room; a second registration is rejected, the caller must
// release the first explicitly.
func (reg *RoomRegistry) SetProducer(id domain.RoomID, sid core.SessionID, prod core.EngineProducer) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	if !ok {
		return core.ErrRoomNotFound
	}
	if _, ok := room.producers[sid]; ok {
		return core.ErrProducerExists
	}
	room.producers[sid] = prod
	return nil
}

func (reg *RoomRegistry) Producer(id domain.RoomID, sid core.SessionID) (core.EngineProducer, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return nil, false
	}
	prod, ok := room.producers[sid]
	return prod, ok
}

// RemoveProducer drops and closes the peer's active producer, if any.
func (reg *RoomRegistry) RemoveProducer(id domain.RoomID, sid core.SessionID) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if !ok {
		reg.mu.Unlock()
		return false
	}
	prod, ok := room.producers[sid]
	if ok {
		delete(room.producers, sid)
	}
	reg.mu.Unlock()
	if !ok {
		return false
	}
	prod.Close()
	return true
}

// AddConsumer records the consumer under the room table and the owning
// peer's consumer set.
func (reg *RoomRegistry) AddConsumer(id domain.RoomID, sid core.SessionID, cons core.EngineConsumer) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	if !ok {
		return core.ErrRoomNotFound
	}
	entry, ok := room.peers[sid]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.consumers[cons.ID()] = cons
	entry.consumers[cons.ID()] = struct{}{}
	return nil
}

// SetMute flips the peer's mute flag for rosters and presence snapshots.
func (reg *RoomRegistry) SetMute(id domain.RoomID, sid core.SessionID, muted bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	if !ok {
		return false
	}
	entry, ok := room.peers[sid]
	if !ok {
		return false
	}
	entry.peer.Mute = muted
	return true
}

// OwnsTransports reports whether any transport in the room belongs to sid.
func (reg *RoomRegistry) OwnsTransports(id domain.RoomID, sid core.SessionID) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	if !ok {
		return false
	}
	entry, ok := room.peers[sid]
	if !ok {
		return false
	}
	return len(entry.transports) > 0
}

// List reports every room with its member count, for the catalog API.
func (reg *RoomRegistry) List() []RoomInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]RoomInfo, 0, len(reg.rooms))
	for id, room := range reg.rooms {
		out = append(out, RoomInfo{
			ID:        id,
			Kind:      room.meta.Kind.String(),
			PeerCount: len(room.peers),
		})
	}
	return out
}

type RoomInfo struct {
	ID        domain.RoomID `json:"id"`
	Kind      string        `json:"kind"`
	PeerCount int           `json:"peerCount"`
}

// Close tears down every room at shutdown.
func (reg *RoomRegistry) Close() {
	reg.mu.Lock()
	rooms := reg.rooms
	reg.rooms = make(map[domain.RoomID]*Room)
	reg.mu.Unlock()
	for _, room := range rooms {
		for _, c := range room.consumers {
			c.Close()
		}
		for _, p := range room.producers {
			p.Close()
		}
		for _, t := range room.transports {
			t.Close()
		}
		room.router.Close()
	}
}

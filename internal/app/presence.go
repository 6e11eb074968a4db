package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// Snapshot is the full member roster of one room. It is derived state,
// recomputed on every membership mutation and never cached.
type Snapshot struct {
	RoomID  domain.RoomID  `json:"roomId"`
	Members []core.PeerDTO `json:"members"`
}

// PresenceBroadcaster recomputes the roster of a room after each membership
// mutation and hands the snapshot to the registered sink. Delivery is
// at-least-once with no acknowledgment: a subscriber that misses one snapshot
// gets a consistent view on the next mutation.
type PresenceBroadcaster struct {
	registry *RoomRegistry

	mu   sync.RWMutex
	sink func(Snapshot)
}

func NewPresenceBroadcaster(registry *RoomRegistry) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry}
}

// OnSnapshot registers the delivery sink; the signaling adapter fans the
// snapshot out to every subscriber of the room.
func (b *PresenceBroadcaster) OnSnapshot(sink func(Snapshot)) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// RoomChanged must be called only after the registry mutation has committed,
// so a snapshot never runs ahead of the membership it reflects.
func (b *PresenceBroadcaster) RoomChanged(id domain.RoomID) {
	members := b.registry.Roster(id, "")
	if members == nil {
		members = []core.PeerDTO{}
	}
	snap := Snapshot{RoomID: id, Members: members}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink == nil {
		return
	}
	log.Debug().Str("module", "app.presence").Str("room", string(id)).Int("members", len(members)).Msg("presence snapshot")
	sink(snap)
}

package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

const maxEphemeralHistory = 200

// TextMessage is one entry of an ephemeral room's in-memory text feed.
// It dies with the room; nothing is persisted.
type TextMessage struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	Content     string        `json:"content"`
	SentAt      time.Time     `json:"sentAt"`
}

// CatalogEntry is the discovery view of one ephemeral room, broadcast to
// every connection regardless of participation.
type CatalogEntry struct {
	ID          domain.RoomID `json:"id"`
	DisplayName string        `json:"displayName"`
	OwnerID     domain.UserID `json:"ownerId"`
	TextEnabled bool          `json:"textEnabled"`
	MemberCount int           `json:"memberCount"`
}

type ephemeralState struct {
	info     domain.EphemeralInfo
	messages []TextMessage
}

// EphemeralLifecycleManager creates ephemeral rooms on explicit request and
// destroys them when the last member leaves. Peer mutation and catalog
// recomputation run under one mutex, so a join arriving after the last leave
// finds the room absent instead of resurrecting the old id.
type EphemeralLifecycleManager struct {
	registry *RoomRegistry

	mu    sync.Mutex
	rooms map[domain.RoomID]*ephemeralState
	sink  func([]CatalogEntry)
}

func NewEphemeralLifecycleManager(registry *RoomRegistry) *EphemeralLifecycleManager {
	return &EphemeralLifecycleManager{
		registry: registry,
		rooms:    make(map[domain.RoomID]*ephemeralState),
	}
}

// OnCatalog registers the sink receiving the rebuilt catalog after every
// lifecycle mutation.
func (m *EphemeralLifecycleManager) OnCatalog(sink func([]CatalogEntry)) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// newRoomID derives a fresh id from a monotonic clock reading plus the
// owner's identity; unique under the single-process assumption.
func newRoomID(owner domain.UserID) domain.RoomID {
	return domain.RoomID(fmt.Sprintf("eph_%d_%s", time.Now().UnixNano(), owner))
}

// Create materializes the room, adds the owner as its first peer and
// rebroadcasts the catalog.
func (m *EphemeralLifecycleManager) Create(ctx context.Context, sid core.SessionID, sess core.PeerSession, displayName string, textEnabled bool) (domain.EphemeralInfo, error) {
	owner := sess.User()
	if displayName == "" {
		displayName = fmt.Sprintf("%s's room", owner.DisplayName)
	}
	id := newRoomID(owner.ID)

	if _, err := m.registry.GetOrCreate(ctx, id, domain.RoomEphemeral); err != nil {
		return domain.EphemeralInfo{}, err
	}

	m.mu.Lock()
	if err := m.registry.AddPeer(id, sid, sess); err != nil {
		m.mu.Unlock()
		m.registry.Delete(id)
		return domain.EphemeralInfo{}, err
	}
	info := domain.EphemeralInfo{
		ID:          id,
		DisplayName: displayName,
		OwnerID:     owner.ID,
		TextEnabled: textEnabled,
		CreatedAt:   time.Now(),
	}
	m.rooms[id] = &ephemeralState{info: info}
	catalog, sink := m.catalogLocked()
	m.mu.Unlock()

	log.Info().Str("module", "app.ephemeral").Str("room", string(id)).Str("owner", string(owner.ID)).Bool("text", textEnabled).Msg("ephemeral room created")
	emitCatalog(sink, catalog)
	return info, nil
}

// Join adds the peer to an existing ephemeral room. A room that already died
// cannot be revived; the caller must create a new one.
func (m *EphemeralLifecycleManager) Join(id domain.RoomID, sid core.SessionID, sess core.PeerSession) (domain.EphemeralInfo, error) {
	m.mu.Lock()
	state, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return domain.EphemeralInfo{}, core.ErrEphemeralNotFound
	}
	if err := m.registry.AddPeer(id, sid, sess); err != nil {
		m.mu.Unlock()
		return domain.EphemeralInfo{}, err
	}
	info := state.info
	catalog, sink := m.catalogLocked()
	m.mu.Unlock()

	emitCatalog(sink, catalog)
	return info, nil
}

// Leave removes the peer; when the count reaches zero the room and its
// metadata are deleted before the catalog is rebroadcast, so no broadcast
// ever shows a zero-member room.
func (m *EphemeralLifecycleManager) Leave(id domain.RoomID, sid core.SessionID) bool {
	m.mu.Lock()
	if _, ok := m.rooms[id]; !ok {
		m.mu.Unlock()
		return false
	}
	remaining, removed := m.registry.RemovePeer(id, sid)
	destroyed := false
	if remaining == 0 {
		m.registry.Delete(id)
		delete(m.rooms, id)
		destroyed = true
	}
	catalog, sink := m.catalogLocked()
	m.mu.Unlock()

	if destroyed {
		log.Info().Str("module", "app.ephemeral").Str("room", string(id)).Msg("ephemeral room destroyed (empty)")
	}
	if removed || destroyed {
		emitCatalog(sink, catalog)
	}
	return removed
}

// Info returns the room's metadata.
func (m *EphemeralLifecycleManager) Info(id domain.RoomID) (domain.EphemeralInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.rooms[id]
	if !ok {
		return domain.EphemeralInfo{}, false
	}
	return state.info, true
}

// AppendMessage adds to the room's text feed. Rooms created without text
// reject messages.
func (m *EphemeralLifecycleManager) AppendMessage(id domain.RoomID, msg TextMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.rooms[id]
	if !ok {
		return core.ErrEphemeralNotFound
	}
	if !state.info.TextEnabled {
		return core.ErrTextDisabled
	}
	state.messages = append(state.messages, msg)
	if len(state.messages) > maxEphemeralHistory {
		state.messages = state.messages[len(state.messages)-maxEphemeralHistory:]
	}
	return nil
}

// Messages returns the room's current text feed.
func (m *EphemeralLifecycleManager) Messages(id domain.RoomID) []TextMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.rooms[id]
	if !ok {
		return nil
	}
	out := make([]TextMessage, len(state.messages))
	copy(out, state.messages)
	return out
}

// Catalog rebuilds the discovery list from current state.
func (m *EphemeralLifecycleManager) Catalog() []CatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	catalog, _ := m.catalogLocked()
	return catalog
}

func (m *EphemeralLifecycleManager) catalogLocked() ([]CatalogEntry, func([]CatalogEntry)) {
	out := make([]CatalogEntry, 0, len(m.rooms))
	for id, state := range m.rooms {
		out = append(out, CatalogEntry{
			ID:          id,
			DisplayName: state.info.DisplayName,
			OwnerID:     state.info.OwnerID,
			TextEnabled: state.info.TextEnabled,
			MemberCount: m.registry.PeerCount(id),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, m.sink
}

func emitCatalog(sink func([]CatalogEntry), catalog []CatalogEntry) {
	if sink != nil {
		sink(catalog)
	}
}

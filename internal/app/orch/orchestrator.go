// Package orch hosts the per-connection coordinator: the Idle/InRoom state
// machine, membership routing and disconnect cleanup.
package orch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// PeerEventKind tags membership change events fanned out to room members.
type PeerEventKind string

const (
	PeerJoined PeerEventKind = "peer:joined"
	PeerLeft   PeerEventKind = "peer:left"
)

type PeerEvent struct {
	Kind   PeerEventKind
	RoomID domain.RoomID
	Peer   core.PeerDTO
}

// Coordinator enforces one active voice-room membership per connection,
// routes join/leave commands and drives cleanup on disconnect. Ephemeral
// membership is tracked independently of the voice room.
type Coordinator struct {
	Sessions   *app.SessionRegistry
	Registry   *app.RoomRegistry
	Presence   *app.PresenceBroadcaster
	Ephemerals *app.EphemeralLifecycleManager

	mu      sync.RWMutex
	emitter func(targets []core.PeerSession, ev PeerEvent)
}

// OnPeerEvent registers the fan-out sink; the signaling adapter serializes the
// event and delivers it to each target.
func (c *Coordinator) OnPeerEvent(fn func(targets []core.PeerSession, ev PeerEvent)) {
	c.mu.Lock()
	c.emitter = fn
	c.mu.Unlock()
}

func (c *Coordinator) emit(roomID domain.RoomID, kind PeerEventKind, sid core.SessionID, user *domain.User) {
	c.mu.RLock()
	emitter := c.emitter
	c.mu.RUnlock()
	if emitter == nil {
		return
	}
	targets := c.Registry.Sessions(roomID, sid)
	if len(targets) == 0 {
		return
	}
	emitter(targets, PeerEvent{
		Kind:   kind,
		RoomID: roomID,
		Peer: core.PeerDTO{
			PeerID:      sid,
			UserID:      user.ID,
			DisplayName: user.DisplayName,
		},
	})
}

// JoinVoice moves the connection into the room, leaving any previous voice
// room first. Joining the room it already occupies is idempotent: the roster
// comes back, no event is emitted. The returned roster excludes the caller.
func (c *Coordinator) JoinVoice(ctx context.Context, sid core.SessionID, roomID domain.RoomID) ([]core.PeerDTO, error) {
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return nil, core.ErrRoomNotFound
	}

	// Ephemeral ids are public through the catalog broadcast; joining one here
	// would bypass the lifecycle manager and nobody would destroy the room on
	// its last leave. Checked again after GetOrCreate to close the create race.
	if existing, live := c.Registry.Get(roomID); live && existing.Meta().Kind == domain.RoomEphemeral {
		return nil, core.ErrRoomKindMismatch
	}

	if current, inRoom := c.Sessions.VoiceRoomOf(sid); inRoom {
		if current == roomID {
			return c.Registry.Roster(roomID, sid), nil
		}
		c.LeaveVoice(sid)
	}

	room, err := c.Registry.GetOrCreate(ctx, roomID, domain.RoomPermanent)
	if err != nil {
		return nil, err
	}
	if room.Meta().Kind != domain.RoomPermanent {
		return nil, core.ErrRoomKindMismatch
	}
	if err := c.Registry.AddPeer(roomID, sid, sess); err != nil {
		return nil, err
	}
	c.Sessions.SetVoiceRoom(sid, roomID)

	c.emit(roomID, PeerJoined, sid, sess.User())
	c.Presence.RoomChanged(roomID)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined voice room")
	return c.Registry.Roster(roomID, sid), nil
}

// LeaveVoice is a no-op when the connection is idle. On leave the registry
// also releases every transport, producer and consumer the peer owned.
func (c *Coordinator) LeaveVoice(sid core.SessionID) bool {
	roomID, inRoom := c.Sessions.VoiceRoomOf(sid)
	if !inRoom {
		return false
	}

	_, removed := c.Registry.RemovePeer(roomID, sid)
	c.Sessions.ClearVoiceRoom(sid)
	if !removed {
		return false
	}

	if sess, ok := c.Sessions.Get(sid); ok {
		c.emit(roomID, PeerLeft, sid, sess.User())
	}
	c.Presence.RoomChanged(roomID)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left voice room")
	return true
}

// CreateEphemeral creates the room with the caller as first member.
func (c *Coordinator) CreateEphemeral(ctx context.Context, sid core.SessionID, displayName string, textEnabled bool) (domain.EphemeralInfo, error) {
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return domain.EphemeralInfo{}, core.ErrRoomNotFound
	}
	info, err := c.Ephemerals.Create(ctx, sid, sess, displayName, textEnabled)
	if err != nil {
		return domain.EphemeralInfo{}, err
	}
	c.Sessions.AddEphemeral(sid, info.ID)
	c.Presence.RoomChanged(info.ID)
	return info, nil
}

// JoinEphemeral adds the connection to a live ephemeral room and returns the
// current roster excluding the caller.
func (c *Coordinator) JoinEphemeral(id domain.RoomID, sid core.SessionID) (domain.EphemeralInfo, []core.PeerDTO, error) {
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return domain.EphemeralInfo{}, nil, core.ErrEphemeralNotFound
	}
	info, err := c.Ephemerals.Join(id, sid, sess)
	if err != nil {
		return domain.EphemeralInfo{}, nil, err
	}
	c.Sessions.AddEphemeral(sid, id)

	c.emit(id, PeerJoined, sid, sess.User())
	c.Presence.RoomChanged(id)
	return info, c.Registry.Roster(id, sid), nil
}

// LeaveEphemeral removes the connection; the lifecycle manager destroys the
// room when it empties.
func (c *Coordinator) LeaveEphemeral(id domain.RoomID, sid core.SessionID) bool {
	sess, hasSess := c.Sessions.Get(sid)

	removed := c.Ephemerals.Leave(id, sid)
	c.Sessions.RemoveEphemeral(sid, id)
	if !removed {
		return false
	}

	if hasSess {
		c.emit(id, PeerLeft, sid, sess.User())
	}
	if _, stillThere := c.Registry.Get(id); stillThere {
		c.Presence.RoomChanged(id)
	}
	return true
}

// Disconnect releases everything the connection held: its voice-room
// membership plus every ephemeral room it belonged to, then unbinds the
// session. Must reach a consistent state even when a multi-step negotiation
// was in flight.
func (c *Coordinator) Disconnect(sid core.SessionID) {
	c.LeaveVoice(sid)
	for _, id := range c.Sessions.EphemeralsOf(sid) {
		c.LeaveEphemeral(id, sid)
	}
	c.Sessions.Unbind(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
}

// ForceClose resolves the target user's live session for an out-of-band
// disconnect; returns false if the actor lacks moderation rights or the
// target is offline. The adapter notifies the client, then cancels the
// session, which drives Disconnect through the read pump.
func (c *Coordinator) ForceClose(actor *domain.User, target domain.UserID) (core.SessionID, core.PeerSession, bool) {
	if actor == nil || !actor.Role.CanModerate() {
		return "", nil, false
	}
	sid, ok := c.Sessions.SessionOfUser(target)
	if !ok {
		return "", nil, false
	}
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return "", nil, false
	}
	log.Info().Str("module", "orch").Str("actor", string(actor.ID)).Str("target", string(target)).Msg("force close")
	return sid, sess, true
}

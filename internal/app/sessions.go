package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

type sessionEntry struct {
	UserID     domain.UserID
	VoiceRoom  domain.RoomID
	Ephemerals map[domain.RoomID]struct{}
	Session    core.PeerSession
	Cancel     context.CancelFunc
}

// SessionRegistry tracks live connections: their identity, their signaling
// session and which rooms they currently occupy. Sessions are per connection,
// users are per client token, so two tabs of one browser are two sessions
// sharing one user. A connection holds at most one voice-room membership,
// plus any number of ephemeral memberships.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]*domain.User
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]*domain.User),
	}
}

func (r *SessionRegistry) GetOrCreateUser(uid domain.UserID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[uid]; ok {
		return u
	}
	u := &domain.User{ID: uid, DisplayName: "guest", Role: domain.RoleMember}
	r.users[uid] = u
	log.Info().Str("module", "app.sessions").Str("uid", string(uid)).Msg("created new user")
	return u
}

// UserOf resolves the user bound to a live connection.
func (r *SessionRegistry) UserOf(sid core.SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	u, ok := r.users[e.UserID]
	return u, ok
}

func (r *SessionRegistry) UpdateDisplayName(sid core.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	u, ok := r.users[e.UserID]
	if !ok {
		return nil
	}
	if err := u.SetDisplayName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("name", name).Msg("updated display name")
	return nil
}

// Bind attaches a freshly upgraded signaling session to the registry.
func (r *SessionRegistry) Bind(sid core.SessionID, uid domain.UserID, sess core.PeerSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		UserID:     uid,
		Ephemerals: make(map[domain.RoomID]struct{}),
		Session:    sess,
		Cancel:     cancel,
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("uid", string(uid)).Msg("bound session")
}

func (r *SessionRegistry) Get(sid core.SessionID) (core.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes the connection; the user record survives as long as any
// other session still carries it. Room cleanup happens upstream.
func (r *SessionRegistry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	delete(r.sessions, sid)
	for _, other := range r.sessions {
		if other.UserID == e.UserID {
			log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("unbound session")
			return
		}
	}
	delete(r.users, e.UserID)
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("uid", string(e.UserID)).Msg("unbound last session of user")
}

// VoiceRoomOf returns the voice room the connection currently occupies.
func (r *SessionRegistry) VoiceRoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.VoiceRoom == "" {
		return "", false
	}
	return e.VoiceRoom, true
}

func (r *SessionRegistry) SetVoiceRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.VoiceRoom = room
	return true
}

func (r *SessionRegistry) ClearVoiceRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.VoiceRoom = ""
	}
}

// Ephemeral membership is tracked independently of the voice room: a
// connection may sit in one voice room and several ephemeral text feeds.
func (r *SessionRegistry) AddEphemeral(sid core.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Ephemerals[room] = struct{}{}
	}
}

func (r *SessionRegistry) RemoveEphemeral(sid core.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		delete(e.Ephemerals, room)
	}
}

func (r *SessionRegistry) EphemeralsOf(sid core.SessionID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(e.Ephemerals))
	for id := range e.Ephemerals {
		out = append(out, id)
	}
	return out
}

// AllSessions snapshots every live signaling session, for global fan-out
// (ephemeral catalog, online list).
func (r *SessionRegistry) AllSessions() []core.PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PeerSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Session)
	}
	return out
}

// OnlineUsers lists the identity behind every live connection, each user
// once no matter how many sessions it holds.
func (r *SessionRegistry) OnlineUsers() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[domain.UserID]struct{}, len(r.sessions))
	out := make([]domain.User, 0, len(r.sessions))
	for _, e := range r.sessions {
		if _, dup := seen[e.UserID]; dup {
			continue
		}
		seen[e.UserID] = struct{}{}
		if u, ok := r.users[e.UserID]; ok {
			out = append(out, *u)
		}
	}
	return out
}

// SessionOfUser finds a live session bound to a user id, for moderation.
func (r *SessionRegistry) SessionOfUser(uid domain.UserID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, e := range r.sessions {
		if e.UserID == uid {
			return sid, true
		}
	}
	return "", false
}

// Cancel fires the connection's cancel func, tearing down its pumps.
func (r *SessionRegistry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("canceled session")
	return true
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/core/coretest"
	"github.com/okonek/chorus/internal/domain"
)

func bindSession(t *testing.T, reg *SessionRegistry, sid core.SessionID, uid domain.UserID) {
	t.Helper()
	sess, _ := coretest.NewSession(sid, string(uid))
	reg.Bind(sid, uid, sess, func() {})
	reg.GetOrCreateUser(uid)
}

func TestTwoSessionsShareOneUser(t *testing.T) {
	reg := NewSessionRegistry()
	bindSession(t, reg, "conn-1", "tok")
	bindSession(t, reg, "conn-2", "tok")

	// Two tabs, one identity: the online list carries the user once.
	online := reg.OnlineUsers()
	require.Len(t, online, 1)
	assert.Equal(t, domain.UserID("tok"), online[0].ID)

	u1, ok := reg.UserOf("conn-1")
	require.True(t, ok)
	u2, ok := reg.UserOf("conn-2")
	require.True(t, ok)
	assert.Same(t, u1, u2)

	// A rename through either tab shows up on both.
	require.NoError(t, reg.UpdateDisplayName("conn-1", "alice"))
	assert.Equal(t, "alice", u2.DisplayName)
}

func TestUserSurvivesUntilLastUnbind(t *testing.T) {
	reg := NewSessionRegistry()
	bindSession(t, reg, "conn-1", "tok")
	bindSession(t, reg, "conn-2", "tok")
	before, _ := reg.UserOf("conn-2")

	reg.Unbind("conn-1")
	_, stillOnline := reg.SessionOfUser("tok")
	assert.True(t, stillOnline)
	after, ok := reg.UserOf("conn-2")
	require.True(t, ok)
	assert.Same(t, before, after)

	reg.Unbind("conn-2")
	_, stillOnline = reg.SessionOfUser("tok")
	assert.False(t, stillOnline)

	// A fresh connection with the same token starts from a clean user record.
	bindSession(t, reg, "conn-3", "tok")
	fresh, ok := reg.UserOf("conn-3")
	require.True(t, ok)
	assert.Equal(t, "guest", fresh.DisplayName)
}

func TestVoiceRoomIsPerConnection(t *testing.T) {
	reg := NewSessionRegistry()
	bindSession(t, reg, "conn-1", "tok")
	bindSession(t, reg, "conn-2", "tok")

	require.True(t, reg.SetVoiceRoom("conn-1", "r"))
	_, ok := reg.VoiceRoomOf("conn-2")
	assert.False(t, ok)
	room, ok := reg.VoiceRoomOf("conn-1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r"), room)
}

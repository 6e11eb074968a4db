package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/core/coretest"
	"github.com/okonek/chorus/internal/domain"
)

func newTestEphemerals(t *testing.T) (*EphemeralLifecycleManager, *RoomRegistry, *[][]CatalogEntry) {
	t.Helper()
	reg, _ := newTestRegistry(t)
	m := NewEphemeralLifecycleManager(reg)
	var catalogs [][]CatalogEntry
	m.OnCatalog(func(c []CatalogEntry) {
		catalogs = append(catalogs, c)
	})
	return m, reg, &catalogs
}

func TestEphemeralCreateAddsOwner(t *testing.T) {
	m, reg, catalogs := newTestEphemerals(t)
	sess, _ := coretest.NewSession("owner", "olga")

	info, err := m.Create(context.Background(), "owner", sess, "", true)
	require.NoError(t, err)

	assert.Equal(t, domain.UserID("owner"), info.OwnerID)
	assert.Equal(t, "olga's room", info.DisplayName)
	assert.True(t, info.TextEnabled)
	assert.Equal(t, 1, reg.PeerCount(info.ID))

	require.Len(t, *catalogs, 1)
	last := (*catalogs)[0]
	require.Len(t, last, 1)
	assert.Equal(t, info.ID, last[0].ID)
	assert.Equal(t, 1, last[0].MemberCount)
}

func TestEphemeralIDsAreUnique(t *testing.T) {
	m, _, _ := newTestEphemerals(t)
	sess, _ := coretest.NewSession("owner", "olga")

	a, err := m.Create(context.Background(), "owner", sess, "", false)
	require.NoError(t, err)
	b, err := m.Create(context.Background(), "owner2", sess, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEphemeralDestroyedWhenEmpty(t *testing.T) {
	m, reg, catalogs := newTestEphemerals(t)
	owner, _ := coretest.NewSession("owner", "olga")
	guest, _ := coretest.NewSession("guest", "gleb")

	info, err := m.Create(context.Background(), "owner", owner, "party", false)
	require.NoError(t, err)
	_, err = m.Join(info.ID, "guest", guest)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.PeerCount(info.ID))

	require.True(t, m.Leave(info.ID, "owner"))
	_, stillThere := reg.Get(info.ID)
	assert.True(t, stillThere)

	require.True(t, m.Leave(info.ID, "guest"))
	_, stillThere = reg.Get(info.ID)
	assert.False(t, stillThere)
	_, ok := m.Info(info.ID)
	assert.False(t, ok)

	// No broadcast ever showed the room with zero members, and the final
	// broadcast excludes it entirely.
	for _, c := range *catalogs {
		for _, entry := range c {
			if entry.ID == info.ID {
				assert.Greater(t, entry.MemberCount, 0)
			}
		}
	}
	last := (*catalogs)[len(*catalogs)-1]
	assert.Empty(t, last)
}

func TestEphemeralJoinAfterDestroyFails(t *testing.T) {
	m, _, _ := newTestEphemerals(t)
	owner, _ := coretest.NewSession("owner", "olga")

	info, err := m.Create(context.Background(), "owner", owner, "", false)
	require.NoError(t, err)
	require.True(t, m.Leave(info.ID, "owner"))

	late, _ := coretest.NewSession("late", "lena")
	_, err = m.Join(info.ID, "late", late)
	assert.ErrorIs(t, err, core.ErrEphemeralNotFound)
}

func TestEphemeralLeaveUnknownRoom(t *testing.T) {
	m, _, catalogs := newTestEphemerals(t)
	assert.False(t, m.Leave("nope", "sid"))
	assert.Empty(t, *catalogs)
}

func TestEphemeralTextFeed(t *testing.T) {
	m, _, _ := newTestEphemerals(t)
	owner, _ := coretest.NewSession("owner", "olga")

	withText, err := m.Create(context.Background(), "owner", owner, "", true)
	require.NoError(t, err)
	require.NoError(t, m.AppendMessage(withText.ID, TextMessage{UserID: "owner", Content: "hi"}))
	assert.Len(t, m.Messages(withText.ID), 1)

	noText, err := m.Create(context.Background(), "owner2", owner, "", false)
	require.NoError(t, err)
	assert.ErrorIs(t, m.AppendMessage(noText.ID, TextMessage{UserID: "owner", Content: "hi"}), core.ErrTextDisabled)
}

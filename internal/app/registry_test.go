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

func newTestRegistry(t *testing.T) (*RoomRegistry, []*coretest.Worker) {
	t.Helper()
	pool, fakes := newTestPool(2)
	return NewRoomRegistry(pool), fakes
}

func addTestPeer(t *testing.T, reg *RoomRegistry, roomID domain.RoomID, sid core.SessionID) core.PeerSession {
	t.Helper()
	sess, _ := coretest.NewSession(sid, "user-"+string(sid))
	require.NoError(t, reg.AddPeer(roomID, sid, sess))
	return sess
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	reg, fakes := newTestRegistry(t)
	ctx := context.Background()

	room, err := reg.GetOrCreate(ctx, "general-voice", domain.RoomPermanent)
	require.NoError(t, err)
	again, err := reg.GetOrCreate(ctx, "general-voice", domain.RoomPermanent)
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.Equal(t, domain.RoomPermanent, room.Meta().Kind)

	// One router was created, on the first worker in round-robin order.
	require.Len(t, fakes[0].Routers(), 1)
	assert.Empty(t, fakes[1].Routers())
}

func TestRoomsSpreadAcrossWorkers(t *testing.T) {
	reg, fakes := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "room-a", domain.RoomPermanent)
	require.NoError(t, err)
	_, err = reg.GetOrCreate(ctx, "room-b", domain.RoomPermanent)
	require.NoError(t, err)

	assert.Len(t, fakes[0].Routers(), 1)
	assert.Len(t, fakes[1].Routers(), 1)
}

func TestPeerCountTracksMembership(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomPermanent)
	require.NoError(t, err)

	addTestPeer(t, reg, "r", "s1")
	addTestPeer(t, reg, "r", "s2")
	assert.Equal(t, 2, reg.PeerCount("r"))

	remaining, removed := reg.RemovePeer("r", "s1")
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, reg.PeerCount("r"))

	// Removing a peer that is not a member is a no-op.
	remaining, removed = reg.RemovePeer("r", "s1")
	assert.False(t, removed)
	assert.Equal(t, 1, remaining)
}

func TestAddPeerIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomPermanent)
	require.NoError(t, err)

	sess, _ := coretest.NewSession("s1", "alice")
	require.NoError(t, reg.AddPeer("r", "s1", sess))
	require.NoError(t, reg.AddPeer("r", "s1", sess))
	assert.Equal(t, 1, reg.PeerCount("r"))
}

func TestAddPeerUnknownRoom(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess, _ := coretest.NewSession("s1", "alice")
	assert.ErrorIs(t, reg.AddPeer("nope", "s1", sess), core.ErrRoomNotFound)
}

func TestRemovePeerReleasesOwnedResources(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomPermanent)
	require.NoError(t, err)
	addTestPeer(t, reg, "r", "s1")
	addTestPeer(t, reg, "r", "s2")

	router, ok := reg.Router("r")
	require.True(t, ok)

	makeTransport := func(sid core.SessionID) *coretest.Transport {
		tr, err := router.CreateTransport(ctx)
		require.NoError(t, err)
		require.NoError(t, reg.AddTransport("r", sid, tr))
		return tr.(*coretest.Transport)
	}
	t1 := makeTransport("s1")
	t2 := makeTransport("s2")

	prod, err := t1.Produce(ctx, core.ProduceParams{Kind: "audio"})
	require.NoError(t, err)
	require.NoError(t, reg.SetProducer("r", "s1", prod))

	cons, err := t2.Consume(ctx, prod, coretest.DefaultCapabilities())
	require.NoError(t, err)
	require.NoError(t, reg.AddConsumer("r", "s2", cons))

	// s1 leaves: its transport and producer close, s2's resources survive.
	_, removed := reg.RemovePeer("r", "s1")
	require.True(t, removed)
	assert.True(t, t1.IsClosed())
	assert.True(t, prod.(*coretest.Producer).IsClosed())
	assert.False(t, t2.IsClosed())
	assert.False(t, cons.(*coretest.Consumer).IsClosed())
	assert.False(t, reg.OwnsTransports("r", "s1"))
	assert.True(t, reg.OwnsTransports("r", "s2"))

	// s2 leaves: everything it owned goes too.
	_, removed = reg.RemovePeer("r", "s2")
	require.True(t, removed)
	assert.True(t, t2.IsClosed())
	assert.True(t, cons.(*coretest.Consumer).IsClosed())
}

func TestSetProducerRejectsSecond(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomPermanent)
	require.NoError(t, err)
	addTestPeer(t, reg, "r", "s1")

	require.NoError(t, reg.SetProducer("r", "s1", &coretest.Producer{}))
	assert.ErrorIs(t, reg.SetProducer("r", "s1", &coretest.Producer{}), core.ErrProducerExists)
}

func TestDeleteClosesRouterAndResources(t *testing.T) {
	reg, fakes := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomEphemeral)
	require.NoError(t, err)
	addTestPeer(t, reg, "r", "s1")

	router, _ := reg.Router("r")
	tr, err := router.CreateTransport(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.AddTransport("r", "s1", tr))

	reg.Delete("r")

	_, ok := reg.Get("r")
	assert.False(t, ok)
	assert.True(t, tr.(*coretest.Transport).IsClosed())
	assert.True(t, fakes[0].Routers()[0].Closed)
}

func TestRosterExcludesAndOrders(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "r", domain.RoomPermanent)
	require.NoError(t, err)
	addTestPeer(t, reg, "r", "s1")
	addTestPeer(t, reg, "r", "s2")
	addTestPeer(t, reg, "r", "s3")

	roster := reg.Roster("r", "s2")
	require.Len(t, roster, 2)
	assert.Equal(t, core.SessionID("s1"), roster[0].PeerID)
	assert.Equal(t, core.SessionID("s3"), roster[1].PeerID)

	full := reg.Roster("r", "")
	assert.Len(t, full, 3)
}

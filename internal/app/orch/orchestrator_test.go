package orch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/core/coretest"
	"github.com/okonek/chorus/internal/domain"
)

type capturedEvent struct {
	ev      PeerEvent
	targets []core.PeerSession
}

func newTestCoordinator(t *testing.T) (*Coordinator, *app.RoomRegistry, *[]capturedEvent) {
	t.Helper()
	worker := coretest.NewWorker("w")
	pool := app.NewEngineWorkerPool([]core.EngineWorker{worker})
	reg := app.NewRoomRegistry(pool)
	coord := &Coordinator{
		Sessions:   app.NewSessionRegistry(),
		Registry:   reg,
		Presence:   app.NewPresenceBroadcaster(reg),
		Ephemerals: app.NewEphemeralLifecycleManager(reg),
	}
	var events []capturedEvent
	coord.OnPeerEvent(func(targets []core.PeerSession, ev PeerEvent) {
		events = append(events, capturedEvent{ev: ev, targets: targets})
	})
	return coord, reg, &events
}

func bind(t *testing.T, coord *Coordinator, sid core.SessionID) core.PeerSession {
	t.Helper()
	sess, _ := coretest.NewSession(sid, "user-"+string(sid))
	coord.Sessions.Bind(sid, domain.UserID(sid), sess, func() {})
	coord.Sessions.GetOrCreateUser(domain.UserID(sid))
	return sess
}

func TestFirstJoinCreatesRoomWithEmptyRoster(t *testing.T) {
	coord, reg, events := newTestCoordinator(t)
	bind(t, coord, "a")

	roster, err := coord.JoinVoice(context.Background(), "a", "general-voice")
	require.NoError(t, err)
	assert.Empty(t, roster)
	assert.Equal(t, 1, reg.PeerCount("general-voice"))
	// Nobody else was there, so no event went out.
	assert.Empty(t, *events)
}

func TestSecondJoinSeesFirstAndFirstIsNotified(t *testing.T) {
	coord, _, events := newTestCoordinator(t)
	sessA := bind(t, coord, "a")
	bind(t, coord, "b")

	_, err := coord.JoinVoice(context.Background(), "a", "general-voice")
	require.NoError(t, err)
	roster, err := coord.JoinVoice(context.Background(), "b", "general-voice")
	require.NoError(t, err)

	require.Len(t, roster, 1)
	assert.Equal(t, core.SessionID("a"), roster[0].PeerID)

	require.Len(t, *events, 1)
	got := (*events)[0]
	assert.Equal(t, PeerJoined, got.ev.Kind)
	assert.Equal(t, core.SessionID("b"), got.ev.Peer.PeerID)
	require.Len(t, got.targets, 1)
	assert.Same(t, sessA, got.targets[0])
}

func TestJoinSameRoomIsIdempotent(t *testing.T) {
	coord, reg, events := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	_, err := coord.JoinVoice(context.Background(), "a", "r")
	require.NoError(t, err)
	_, err = coord.JoinVoice(context.Background(), "b", "r")
	require.NoError(t, err)
	eventsBefore := len(*events)

	roster, err := coord.JoinVoice(context.Background(), "b", "r")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, 2, reg.PeerCount("r"))
	// No duplicate peer:joined.
	assert.Len(t, *events, eventsBefore)
}

func TestJoinOtherRoomLeavesFirst(t *testing.T) {
	coord, reg, events := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	_, err := coord.JoinVoice(context.Background(), "a", "r1")
	require.NoError(t, err)
	_, err = coord.JoinVoice(context.Background(), "b", "r1")
	require.NoError(t, err)

	_, err = coord.JoinVoice(context.Background(), "b", "r2")
	require.NoError(t, err)

	assert.Equal(t, 1, reg.PeerCount("r1"))
	assert.Equal(t, 1, reg.PeerCount("r2"))
	room, _ := coord.Sessions.VoiceRoomOf("b")
	assert.Equal(t, domain.RoomID("r2"), room)

	// a saw b leave r1; the join into r2 had no audience.
	var kinds []PeerEventKind
	for _, e := range *events {
		kinds = append(kinds, e.ev.Kind)
	}
	assert.Contains(t, kinds, PeerLeft)
}

func TestJoinVoiceRejectsEphemeralRoom(t *testing.T) {
	coord, reg, _ := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	info, err := coord.CreateEphemeral(context.Background(), "a", "side room", false)
	require.NoError(t, err)

	// The ephemeral id is public through the catalog; a voice join against it
	// must not sneak past the lifecycle manager.
	_, err = coord.JoinVoice(context.Background(), "b", info.ID)
	assert.ErrorIs(t, err, core.ErrRoomKindMismatch)
	assert.Equal(t, 1, reg.PeerCount(info.ID))
	_, inVoice := coord.Sessions.VoiceRoomOf("b")
	assert.False(t, inVoice)

	// Destroy-on-empty still works: the creator leaving kills the room.
	coord.LeaveEphemeral(info.ID, "a")
	_, stillThere := reg.Get(info.ID)
	assert.False(t, stillThere)
	_, listed := coord.Ephemerals.Info(info.ID)
	assert.False(t, listed)
}

func TestLeaveWhenIdleIsNoop(t *testing.T) {
	coord, _, events := newTestCoordinator(t)
	bind(t, coord, "a")

	assert.False(t, coord.LeaveVoice("a"))
	assert.Empty(t, *events)
}

func TestLeaveKeepsPermanentRoomAlive(t *testing.T) {
	coord, reg, _ := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	_, err := coord.JoinVoice(context.Background(), "a", "r")
	require.NoError(t, err)
	_, err = coord.JoinVoice(context.Background(), "b", "r")
	require.NoError(t, err)

	require.True(t, coord.LeaveVoice("a"))
	assert.Equal(t, 1, reg.PeerCount("r"))

	require.True(t, coord.LeaveVoice("b"))
	assert.Equal(t, 0, reg.PeerCount("r"))
	_, stillThere := reg.Get("r")
	assert.True(t, stillThere)
}

func TestDisconnectReleasesEverything(t *testing.T) {
	coord, reg, _ := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	_, err := coord.JoinVoice(context.Background(), "a", "voice-room")
	require.NoError(t, err)
	_, err = coord.JoinVoice(context.Background(), "b", "voice-room")
	require.NoError(t, err)

	info, err := coord.CreateEphemeral(context.Background(), "a", "side room", true)
	require.NoError(t, err)
	_, _, err = coord.JoinEphemeral(info.ID, "b")
	require.NoError(t, err)

	// a holds a transport and producer in the voice room.
	router, ok := reg.Router("voice-room")
	require.True(t, ok)
	tr, err := router.CreateTransport(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.AddTransport("voice-room", "a", tr))
	prod, err := tr.Produce(context.Background(), core.ProduceParams{Kind: "audio"})
	require.NoError(t, err)
	require.NoError(t, reg.SetProducer("voice-room", "a", prod))

	coord.Disconnect("a")

	assert.Equal(t, 1, reg.PeerCount("voice-room"))
	assert.False(t, reg.OwnsTransports("voice-room", "a"))
	assert.True(t, tr.(*coretest.Transport).IsClosed())
	assert.True(t, prod.(*coretest.Producer).IsClosed())

	// a's ephemeral membership is gone too; b keeps the room alive.
	assert.Equal(t, 1, reg.PeerCount(info.ID))

	// b disconnects; the ephemeral room dies with its last member.
	coord.Disconnect("b")
	_, stillThere := reg.Get(info.ID)
	assert.False(t, stillThere)
}

func TestForceCloseRequiresModerator(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	bind(t, coord, "a")
	bind(t, coord, "b")

	member := coord.Sessions.GetOrCreateUser("a")
	_, _, ok := coord.ForceClose(member, domain.UserID("b"))
	assert.False(t, ok)

	member.Role = domain.RoleModerator
	sid, sess, ok := coord.ForceClose(member, domain.UserID("b"))
	require.True(t, ok)
	assert.Equal(t, core.SessionID("b"), sid)
	assert.NotNil(t, sess)
}

func TestForceCloseOfflineTarget(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	bind(t, coord, "a")
	admin := coord.Sessions.GetOrCreateUser("a")
	admin.Role = domain.RoleAdmin

	_, _, ok := coord.ForceClose(admin, domain.UserID("ghost"))
	assert.False(t, ok)
}

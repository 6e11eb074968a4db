package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/app/orch"
	"github.com/okonek/chorus/internal/app/relay"
	"github.com/okonek/chorus/internal/config"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/core/coretest"
	"github.com/okonek/chorus/internal/domain"
)

func newTestServer(t *testing.T, pingPeriod time.Duration) (*Controller, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	worker := coretest.NewWorker("w")
	pool := app.NewEngineWorkerPool([]core.EngineWorker{worker})
	reg := app.NewRoomRegistry(pool)
	coord := &orch.Coordinator{
		Sessions:   app.NewSessionRegistry(),
		Registry:   reg,
		Presence:   app.NewPresenceBroadcaster(reg),
		Ephemerals: app.NewEphemeralLifecycleManager(reg),
	}
	cfg := &config.Config{ReadLimit: 32768, PingPeriod: pingPeriod}
	ctl := NewController(cfg, coord, relay.NewNegotiator(reg))

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("token"))
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return ctl, srv
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSession(t *testing.T, ctl *Controller, uid domain.UserID) core.SessionID {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sid, ok := ctl.Sessions.SessionOfUser(uid); ok {
			return sid
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no session for user %s", uid)
	return ""
}

// readUntilType consumes frames until one of the wanted type arrives, or the
// socket closes, in which case it returns false.
func readUntilType(t *testing.T, conn *websocket.Conn, want string) bool {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == want {
			return true
		}
	}
}

func TestCancelClosesConnection(t *testing.T) {
	ctl, srv := newTestServer(t, 10*time.Second)
	conn := dialWS(t, srv, "alice")
	sid := waitForSession(t, ctl, "alice")

	require.True(t, ctl.Sessions.Cancel(sid))

	// The server closes the socket from its side; the client read fails.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// The read pump ran its disconnect cleanup.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := ctl.Sessions.SessionOfUser("alice"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session still bound after cancel")
}

func TestKickDeliversForceCloseThenCloses(t *testing.T) {
	ctl, srv := newTestServer(t, 10*time.Second)

	// Promote the actor before it connects.
	ctl.Sessions.GetOrCreateUser("root").Role = domain.RoleModerator

	mod := dialWS(t, srv, "root")
	target := dialWS(t, srv, "bob")
	waitForSession(t, ctl, "root")
	waitForSession(t, ctl, "bob")

	require.NoError(t, mod.WriteJSON(map[string]string{
		"type":     "mod:kick",
		"targetId": "bob",
	}))

	// The kicked client sees the notice before the server drops the socket.
	assert.True(t, readUntilType(t, target, "session:forceClose"))
	require.NoError(t, target.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := target.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := ctl.Sessions.SessionOfUser("bob"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("kicked session still bound")
}

func TestServerSendsPings(t *testing.T) {
	_, srv := newTestServer(t, 50*time.Millisecond)
	conn := dialWS(t, srv, "alice")

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	// The ping handler only fires while a read is in flight.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping from server")
	}
}

// Package signal is the websocket signaling adapter: it upgrades connections,
// binds them to sessions and translates wire messages into coordinator calls.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/app/orch"
	"github.com/okonek/chorus/internal/app/relay"
	"github.com/okonek/chorus/internal/config"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Coord      *orch.Coordinator
	Negotiator *relay.Negotiator
	Sessions   *app.SessionRegistry
	Ephemerals *app.EphemeralLifecycleManager

	cfg     *config.Config
	limiter *CreateRateLimiter
}

func NewController(cfg *config.Config, coord *orch.Coordinator, neg *relay.Negotiator) *Controller {
	ctl := &Controller{
		Coord:      coord,
		Negotiator: neg,
		Sessions:   coord.Sessions,
		Ephemerals: coord.Ephemerals,
		cfg:        cfg,
		limiter:    NewCreateRateLimiter(5, time.Minute),
	}

	coord.Presence.OnSnapshot(func(snap app.Snapshot) {
		ctl.BroadcastAll(presenceSnapshotMsg{Type: "presence:snapshot", RoomID: snap.RoomID, Members: snap.Members})
	})
	coord.Ephemerals.OnCatalog(func(catalog []app.CatalogEntry) {
		ctl.BroadcastAll(catalogMsg{Type: "ephemeral:catalog", Rooms: catalog})
	})
	coord.OnPeerEvent(func(targets []core.PeerSession, ev orch.PeerEvent) {
		ctl.sendTargets(targets, peerEventMsg{Type: string(ev.Kind), RoomID: ev.RoomID, Peer: ev.Peer})
	})
	neg.OnNewProducer(func(targets []core.PeerSession, ev relay.NewProducerEvent) {
		ctl.sendTargets(targets, newProducerMsg{
			Type:       "relay:newProducer",
			RoomID:     ev.RoomID,
			Peer:       ev.Peer,
			ProducerID: ev.ProducerID,
			Kind:       ev.Kind,
		})
	})
	return ctl
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection, binds a session and starts the pumps.
// Each connection gets its own session id; identity comes from the client
// token, so two tabs of one browser are two peers sharing one user.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("uid", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.cfg.ReadLimit)
	}

	pingPeriod := ctl.cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	pongWait := pingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	user := ctl.Sessions.GetOrCreateUser(uid)
	sess := core.NewPeerSession(user, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Sessions.Bind(sid, uid, sess, cancel)

	ctl.sendJSON(conn, onlineListMsg{Type: "online:list", Users: ctl.Sessions.OnlineUsers()})
	ctl.sendJSON(conn, catalogMsg{Type: "ephemeral:catalog", Rooms: ctl.Ephemerals.Catalog()})
	ctl.broadcastExcept(sid, userStateMsg{Type: "user:online", UserID: user.ID, DisplayName: user.DisplayName})

	go ctl.writePump(ctx, conn, pingPeriod)
	go ctl.readPump(ctx, sid, uid, conn)
}

func (ctl *Controller) sendJSON(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(b)
}

func (ctl *Controller) sendTargets(targets []core.PeerSession, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, t := range targets {
		_ = t.Signal().TrySend(b)
	}
}

// BroadcastAll delivers to every live connection, member or not.
func (ctl *Controller) BroadcastAll(v any) {
	ctl.sendTargets(ctl.Sessions.AllSessions(), v)
}

func (ctl *Controller) broadcastExcept(sid core.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	self, _ := ctl.Sessions.Get(sid)
	for _, t := range ctl.Sessions.AllSessions() {
		if t == self {
			continue
		}
		_ = t.Signal().TrySend(b)
	}
}

// Wire message shapes.

type presenceSnapshotMsg struct {
	Type    string         `json:"type"`
	RoomID  domain.RoomID  `json:"roomId"`
	Members []core.PeerDTO `json:"members"`
}

type catalogMsg struct {
	Type  string             `json:"type"`
	Rooms []app.CatalogEntry `json:"rooms"`
}

type peerEventMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Peer   core.PeerDTO  `json:"peer"`
}

type newProducerMsg struct {
	Type       string          `json:"type"`
	RoomID     domain.RoomID   `json:"roomId"`
	Peer       core.PeerDTO    `json:"peer"`
	ProducerID core.ProducerID `json:"producerId"`
	Kind       string          `json:"kind"`
}

type onlineListMsg struct {
	Type  string        `json:"type"`
	Users []domain.User `json:"users"`
}

type userStateMsg struct {
	Type        string        `json:"type"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName,omitempty"`
}

package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// writePump owns all writes on the socket, including keepalive pings. It
// closes the connection on exit, which unblocks readPump and drives the
// normal disconnect cleanup; a context cancel (server shutdown, mod:kick)
// therefore terminates the connection even if the client never sends again.
func (ctl *Controller) writePump(ctx context.Context, c *wsConn, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			ctl.flushQueued(c)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if !writeFrame(c, data) {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

// flushQueued drains frames that were queued before the cancel, so a final
// session:forceClose still reaches the client before the socket closes.
func (ctl *Controller) flushQueued(c *wsConn) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok || !writeFrame(c, data) {
				return
			}
		default:
			return
		}
	}
}

func writeFrame(c *wsConn, data core.Frame) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
		return false
	}
	return true
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, uid domain.UserID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Coord.Disconnect(sid)
		// Another tab may keep the user online.
		if _, stillOnline := ctl.Sessions.SessionOfUser(uid); !stillOnline {
			ctl.BroadcastAll(userStateMsg{Type: "user:offline", UserID: uid})
		}
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, sid, c, data)
		}
	}
}

// envelope carries the message type and, for request/response messages, the
// correlation id echoed back in the response.
type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

func (ctl *Controller) dispatch(ctx context.Context, sid core.SessionID, c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "voice:join":
		ctl.handleVoiceJoin(ctx, sid, c, data)
	case "voice:leave":
		ctl.handleVoiceLeave(sid, c)
	case "ephemeral:create":
		ctl.handleEphemeralCreate(ctx, sid, c, data)
	case "ephemeral:join":
		ctl.handleEphemeralJoin(sid, c, data)
	case "ephemeral:leave":
		ctl.handleEphemeralLeave(sid, c, data)
	case "ephemeral:message":
		ctl.handleEphemeralMessage(sid, c, data)
	case "relay:getCapabilities":
		ctl.handleGetCapabilities(sid, c, env.ID, data)
	case "relay:createTransport":
		ctl.handleCreateTransport(ctx, sid, c, env.ID, data)
	case "relay:connectTransport":
		ctl.handleConnectTransport(ctx, sid, c, env.ID, data)
	case "relay:produce":
		ctl.handleProduce(ctx, sid, c, env.ID, data)
	case "relay:pauseProducer":
		ctl.handlePauseProducer(sid, c, env.ID, data, true)
	case "relay:resumeProducer":
		ctl.handlePauseProducer(sid, c, env.ID, data, false)
	case "relay:unproduce":
		ctl.handleUnproduce(sid, c, env.ID, data)
	case "relay:consume":
		ctl.handleConsume(ctx, sid, c, env.ID, data)
	case "mod:kick":
		ctl.handleKick(sid, data)
	case "rename":
		ctl.handleRename(sid, c, data)
	case "whoami":
		ctl.handleWhoAmI(sid, c)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

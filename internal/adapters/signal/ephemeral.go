package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

func (ctl *Controller) handleEphemeralCreate(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type createPayload struct {
		Type        string `json:"type"`
		DisplayName string `json:"displayName"`
		TextEnabled bool   `json:"textEnabled"`
	}
	var p createPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad ephemeral:create payload")
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	user, ok := ctl.Sessions.UserOf(sid)
	if !ok {
		return
	}
	if !ctl.limiter.Allow(user.ID) {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "rate_limited"})
		return
	}

	info, err := ctl.Coord.CreateEphemeral(ctx, sid, p.DisplayName, p.TextEnabled)
	if err != nil {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": errorCode(err)})
		return
	}
	ctl.sendJSON(conn, struct {
		Type string               `json:"type"`
		Room domain.EphemeralInfo `json:"room"`
	}{
		Type: "ephemeral:created",
		Room: info,
	})
}

func (ctl *Controller) handleEphemeralJoin(
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type joinPayload struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	info, roster, err := ctl.Coord.JoinEphemeral(domain.RoomID(p.ID), sid)
	if err != nil {
		ctl.sendJSON(conn, map[string]any{"type": "voice:error", "error": errorCode(err)})
		return
	}
	if roster == nil {
		roster = []core.PeerDTO{}
	}
	ctl.sendJSON(conn, struct {
		Type    string               `json:"type"`
		Room    domain.EphemeralInfo `json:"room"`
		Members []core.PeerDTO       `json:"members"`
	}{
		Type:    "voice:peers",
		Room:    info,
		Members: roster,
	})
}

func (ctl *Controller) handleEphemeralLeave(
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type leavePayload struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	ctl.Coord.LeaveEphemeral(domain.RoomID(p.ID), sid)
	ctl.sendJSON(conn, map[string]any{"type": "voice:left"})
}

// handleEphemeralMessage appends to a text-enabled ephemeral room's feed and
// fans it out to the room. The feed is in-memory and dies with the room.
func (ctl *Controller) handleEphemeralMessage(
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type msgPayload struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	var p msgPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return
	}
	if p.Content == "" || len(p.Content) > 2000 {
		return
	}

	user, ok := ctl.Sessions.UserOf(sid)
	if !ok {
		return
	}
	roomID := domain.RoomID(p.ID)
	msg := app.TextMessage{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Content:     p.Content,
		SentAt:      time.Now(),
	}
	if err := ctl.Ephemerals.AppendMessage(roomID, msg); err != nil {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": errorCode(err)})
		return
	}

	out := struct {
		Type   string          `json:"type"`
		RoomID domain.RoomID   `json:"roomId"`
		Msg    app.TextMessage `json:"message"`
	}{
		Type:   "ephemeral:message",
		RoomID: roomID,
		Msg:    msg,
	}
	ctl.sendJSON(conn, out)
	ctl.sendTargets(ctl.Coord.Registry.Sessions(roomID, sid), out)
}

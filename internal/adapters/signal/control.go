package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

func (ctl *Controller) handlePing(conn *wsConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *Controller) handleRename(
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if err := ctl.Sessions.UpdateDisplayName(sid, p.Name); err != nil {
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "invalid_name",
		})
		return
	}
	ctl.handleWhoAmI(sid, conn)

	user, ok := ctl.Sessions.UserOf(sid)
	if !ok {
		return
	}
	ctl.broadcastExcept(sid, userStateMsg{
		Type:        "user:online",
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})
}

func (ctl *Controller) handleWhoAmI(
	sid core.SessionID,
	conn *wsConn,
) {
	user, ok := ctl.Sessions.UserOf(sid)
	if !ok {
		return
	}

	resp := struct {
		Type        string        `json:"type"`
		UserID      domain.UserID `json:"userId"`
		DisplayName string        `json:"displayName"`
		Role        domain.Role   `json:"role"`
		Room        domain.RoomID `json:"room,omitempty"`
	}{
		Type:        "whoami",
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}
	if roomID, ok := ctl.Sessions.VoiceRoomOf(sid); ok {
		resp.Room = roomID
	}
	ctl.sendJSON(conn, resp)
}

// handleKick lets a moderator disconnect another user: the target receives
// session:forceClose, then its session is canceled, which drives the normal
// disconnect cleanup through the read pump.
func (ctl *Controller) handleKick(
	sid core.SessionID,
	data []byte,
) {
	type kickPayload struct {
		Type     string `json:"type"`
		TargetID string `json:"targetId"`
	}
	var p kickPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetID == "" {
		return
	}

	actor, ok := ctl.Sessions.UserOf(sid)
	if !ok {
		return
	}
	targetSID, targetSess, ok := ctl.Coord.ForceClose(actor, domain.UserID(p.TargetID))
	if !ok {
		return
	}
	ctl.sendJSON(targetSess.Signal(), struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{
		Type:   "session:forceClose",
		Reason: "kicked by " + actor.DisplayName,
	})
	ctl.Sessions.Cancel(targetSID)
}

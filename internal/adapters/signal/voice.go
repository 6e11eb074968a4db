package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

func (ctl *Controller) handleVoiceJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	data []byte,
) {
	type joinPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad voice:join payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}

	roomID := domain.RoomID(p.RoomID)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("voice:join")

	roster, err := ctl.Coord.JoinVoice(ctx, sid, roomID)
	if err != nil {
		ctl.sendJSON(conn, map[string]any{
			"type":  "voice:error",
			"error": errorCode(err),
		})
		return
	}
	if roster == nil {
		roster = []core.PeerDTO{}
	}
	ctl.sendJSON(conn, struct {
		Type    string         `json:"type"`
		RoomID  domain.RoomID  `json:"roomId"`
		Members []core.PeerDTO `json:"members"`
	}{
		Type:    "voice:peers",
		RoomID:  roomID,
		Members: roster,
	})
}

// handleVoiceLeave leaves the current voice room without dropping the
// connection.
func (ctl *Controller) handleVoiceLeave(
	sid core.SessionID,
	conn *wsConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("voice:leave")
	ctl.Coord.LeaveVoice(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "voice:left",
	})
}

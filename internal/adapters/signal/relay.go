package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// errorCode maps the coordinator's error taxonomy onto wire codes. Request
// failures never tear down the connection; the client may retry.
func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomNotFound),
		errors.Is(err, core.ErrTransportNotFound),
		errors.Is(err, core.ErrProducerNotFound),
		errors.Is(err, core.ErrConsumerNotFound),
		errors.Is(err, core.ErrEphemeralNotFound):
		return "not_found"
	case errors.Is(err, core.ErrProducerExists):
		return "producer_exists"
	case errors.Is(err, core.ErrTextDisabled):
		return "text_disabled"
	case errors.Is(err, core.ErrRoomKindMismatch):
		return "wrong_room_kind"
	case errors.Is(err, core.ErrIncompatibleCapabilities):
		return "incompatible_capabilities"
	default:
		var engineErr *core.EngineRequestError
		if errors.As(err, &engineErr) {
			return "engine_request_failed"
		}
		return "internal"
	}
}

// respond echoes the request type and correlation id with the result payload.
func (ctl *Controller) respond(conn *wsConn, reqType, id string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("respond marshal")
		return
	}
	ctl.sendJSON(conn, struct {
		Type string          `json:"type"`
		ID   string          `json:"id,omitempty"`
		Data json.RawMessage `json:"data"`
	}{
		Type: reqType,
		ID:   id,
		Data: b,
	})
}

func (ctl *Controller) respondError(conn *wsConn, reqType, id string, err error) {
	ctl.sendJSON(conn, struct {
		Type  string `json:"type"`
		ID    string `json:"id,omitempty"`
		Error string `json:"error"`
	}{
		Type:  reqType,
		ID:    id,
		Error: errorCode(err),
	})
}

func (ctl *Controller) handleGetCapabilities(
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID string `json:"roomId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondError(conn, "relay:getCapabilities", id, core.ErrRoomNotFound)
		return
	}
	caps, err := ctl.Negotiator.Capabilities(domain.RoomID(p.RoomID))
	if err != nil {
		ctl.respondError(conn, "relay:getCapabilities", id, err)
		return
	}
	ctl.respond(conn, "relay:getCapabilities", id, struct {
		Capabilities webrtc.RTPCapabilities `json:"capabilities"`
	}{Capabilities: caps})
}

func (ctl *Controller) handleCreateTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID string `json:"roomId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondError(conn, "relay:createTransport", id, core.ErrRoomNotFound)
		return
	}
	info, err := ctl.Negotiator.CreateTransport(ctx, domain.RoomID(p.RoomID), sid)
	if err != nil {
		ctl.respondError(conn, "relay:createTransport", id, err)
		return
	}
	ctl.respond(conn, "relay:createTransport", id, info)
}

func (ctl *Controller) handleConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID         string                `json:"roomId"`
		TransportID    string                `json:"transportId"`
		DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
		ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.TransportID == "" {
		ctl.respondError(conn, "relay:connectTransport", id, core.ErrTransportNotFound)
		return
	}
	err := ctl.Negotiator.ConnectTransport(ctx, domain.RoomID(p.RoomID), core.TransportID(p.TransportID), core.ConnectParams{
		DTLSParameters: p.DTLSParameters,
		ICEParameters:  p.ICEParameters,
	})
	if err != nil {
		ctl.respondError(conn, "relay:connectTransport", id, err)
		return
	}
	ctl.respond(conn, "relay:connectTransport", id, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (ctl *Controller) handleProduce(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID      string                       `json:"roomId"`
		TransportID string                       `json:"transportId"`
		Kind        string                       `json:"kind"`
		RTP         webrtc.RTPParameters         `json:"rtpParameters"`
		Encodings   []webrtc.RTPCodingParameters `json:"encodings"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.TransportID == "" {
		ctl.respondError(conn, "relay:produce", id, core.ErrTransportNotFound)
		return
	}
	producerID, err := ctl.Negotiator.Produce(ctx, domain.RoomID(p.RoomID), sid, core.TransportID(p.TransportID), core.ProduceParams{
		Kind:          p.Kind,
		RTPParameters: p.RTP,
		Encodings:     p.Encodings,
	})
	if err != nil {
		ctl.respondError(conn, "relay:produce", id, err)
		return
	}
	ctl.respond(conn, "relay:produce", id, struct {
		ProducerID core.ProducerID `json:"producerId"`
	}{ProducerID: producerID})
}

func (ctl *Controller) handlePauseProducer(
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
	paused bool,
) {
	reqType := "relay:pauseProducer"
	if !paused {
		reqType = "relay:resumeProducer"
	}
	type payload struct {
		RoomID string `json:"roomId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondError(conn, reqType, id, core.ErrProducerNotFound)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	if err := ctl.Negotiator.PauseProducer(roomID, sid, paused); err != nil {
		ctl.respondError(conn, reqType, id, err)
		return
	}
	ctl.Coord.Presence.RoomChanged(roomID)
	ctl.respond(conn, reqType, id, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (ctl *Controller) handleUnproduce(
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID string `json:"roomId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondError(conn, "relay:unproduce", id, core.ErrProducerNotFound)
		return
	}
	if err := ctl.Negotiator.Unproduce(domain.RoomID(p.RoomID), sid); err != nil {
		ctl.respondError(conn, "relay:unproduce", id, err)
		return
	}
	ctl.respond(conn, "relay:unproduce", id, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (ctl *Controller) handleConsume(
	ctx context.Context,
	sid core.SessionID,
	conn *wsConn,
	id string,
	data []byte,
) {
	type payload struct {
		RoomID         string                 `json:"roomId"`
		ProducerPeerID string                 `json:"producerPeerId"`
		TransportID    string                 `json:"transportId"`
		Capabilities   webrtc.RTPCapabilities `json:"capabilities"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.TransportID == "" {
		ctl.respondError(conn, "relay:consume", id, core.ErrTransportNotFound)
		return
	}
	info, err := ctl.Negotiator.Consume(ctx, domain.RoomID(p.RoomID), sid,
		core.SessionID(p.ProducerPeerID), core.TransportID(p.TransportID), p.Capabilities)
	if err != nil {
		ctl.respondError(conn, "relay:consume", id, err)
		return
	}
	ctl.respond(conn, "relay:consume", id, info)
}

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"callroom/internal/app"
	"callroom/internal/core"
	"callroom/internal/domain"
)

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendJSON(c, core.ErrorEvent{Type: core.EventError, Message: msg})
}

// reportErr translates coordinator failures into client-facing error
// events. Internal detail stays in the log.
func (ctl *SignalWSController) reportErr(c *WsSignalConn, err error) {
	var banErr *app.BanError
	switch {
	case errors.As(err, &banErr):
		msg := "you are banned from this room"
		if banErr.Reason != "" {
			msg = fmt.Sprintf("banned: %s", banErr.Reason)
		}
		ctl.sendError(c, msg)
	case errors.Is(err, app.ErrRoomFull):
		ctl.sendError(c, "room is full")
	case errors.Is(err, app.ErrNotFound):
		ctl.sendError(c, "room not found")
	case errors.Is(err, app.ErrConflict):
		ctl.sendError(c, "room already exists")
	case errors.Is(err, app.ErrUnauthorized):
		ctl.sendError(c, "not a member of this room")
	case errors.Is(err, app.ErrForbidden):
		ctl.sendError(c, "not allowed")
	case errors.Is(err, app.ErrValidation):
		ctl.sendError(c, err.Error())
	default:
		log.Error().Err(err).Str("module", "signal").Msg("internal error")
		ctl.sendError(c, "internal error")
	}
}

func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var p struct {
		RoomID      domain.RoomID   `json:"roomId"`
		Name        string          `json:"name"`
		MaxMembers  int             `json:"maxMembers"`
		UserID      domain.Identity `json:"userId"`
		Private     bool            `json:"isPrivate"`
		HasPassword bool            `json:"hasPassword"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "malformed frame")
		return
	}
	res, err := ctl.Coord.CreateAndJoin(ctx, sid, c, app.CreateRoomParams{
		RoomID:      p.RoomID,
		Name:        p.Name,
		Capacity:    p.MaxMembers,
		HasPassword: p.HasPassword,
		Private:     p.Private,
		Owner:       p.UserID,
	})
	if err != nil {
		ctl.reportErr(c, err)
		return
	}
	ctl.sendJSON(c, core.RoomCreated{
		Type:   core.EventRoomCreated,
		RoomID: res.RoomID,
		UserID: res.Identity,
		Users:  res.Users,
	})
}

func (ctl *SignalWSController) handleJoinRoom(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var p struct {
		RoomID domain.RoomID   `json:"roomId"`
		UserID domain.Identity `json:"userId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "malformed frame")
		return
	}
	res, err := ctl.Coord.Join(ctx, sid, c, p.RoomID, p.UserID)
	if err != nil {
		ctl.reportErr(c, err)
		return
	}
	ctl.sendJSON(c, core.JoinedRoom{
		Type:   core.EventJoinedRoom,
		RoomID: res.RoomID,
		UserID: res.Identity,
		Users:  res.Users,
	})
}

func (ctl *SignalWSController) handleLeaveRoom(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ctl.Coord.Leave(ctx, sid)
}

var relayKinds = map[string]domain.SignalKind{
	"send-offer":         domain.SignalOffer,
	"send-answer":        domain.SignalAnswer,
	"send-ice-candidate": domain.SignalCandidate,
}

// handleRelay is shared by the three handshake events. The payload
// field name follows the event: offer, answer, or candidate.
func (ctl *SignalWSController) handleRelay(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var p struct {
		Type      string          `json:"type"`
		RoomID    domain.RoomID   `json:"roomId"`
		ToUser    domain.Identity `json:"toUser"`
		Offer     json.RawMessage `json:"offer"`
		Answer    json.RawMessage `json:"answer"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "malformed frame")
		return
	}
	kind := relayKinds[p.Type]
	var payload json.RawMessage
	switch kind {
	case domain.SignalOffer:
		payload = p.Offer
	case domain.SignalAnswer:
		payload = p.Answer
	case domain.SignalCandidate:
		payload = p.Candidate
	}
	if len(payload) == 0 {
		ctl.sendError(c, "missing payload")
		return
	}
	if err := ctl.Coord.Relay(ctx, sid, p.RoomID, kind, p.ToUser, payload); err != nil {
		ctl.reportErr(c, err)
	}
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
		Text   string        `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "malformed frame")
		return
	}
	if err := ctl.Coord.SendMessage(ctx, sid, p.RoomID, p.Text); err != nil {
		ctl.reportErr(c, err)
	}
}

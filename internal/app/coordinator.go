// Package app hosts the session coordination core: room directory,
// membership ledger, moderation gate, signaling relay, liveness
// supervision, and chat fan-out.
package app

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"callroom/internal/core"
	"callroom/internal/domain"
	"callroom/internal/obfuscate"
	"callroom/internal/store"
)

// Coordinator wires the core components together. Transports call it;
// it never touches sockets directly, only core.SignalConn handles held
// by the ledger.
type Coordinator struct {
	store    store.Store
	gate     *Gate
	ledger   *Ledger
	liveness *Liveness
}

func NewCoordinator(st store.Store, livenessWindow time.Duration) *Coordinator {
	c := &Coordinator{store: st, gate: NewGate(st)}
	c.ledger = NewLedger(st, c.gate)
	c.liveness = NewLiveness(livenessWindow, c.evictExpired)
	return c
}

// Ledger exposes read access for the transport layer (presence, target
// resolution in tests). Mutations stay inside the coordinator.
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomRoomID() (domain.RoomID, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
	}
	return domain.RoomID(b), nil
}

// CreateRoomParams carries the caller-supplied room fields. A zero
// RoomID requests a server-generated one.
type CreateRoomParams struct {
	RoomID      domain.RoomID
	Name        string
	Capacity    int
	HasPassword bool
	Private     bool
	Owner       domain.Identity
}

// CreateRoom registers a new active room. A duplicate active identifier
// fails with ErrConflict; generated identifiers retry on collision.
func (c *Coordinator) CreateRoom(ctx context.Context, p CreateRoomParams) (*domain.Room, error) {
	const maxAttempts = 10
	generated := p.RoomID == ""
	for attempt := 0; ; attempt++ {
		roomID := p.RoomID
		if generated {
			var err error
			if roomID, err = randomRoomID(); err != nil {
				return nil, fmt.Errorf("%w: room id generation: %w", ErrInternal, err)
			}
		}
		room, err := domain.NewRoom(roomID, p.Name, p.Capacity, p.HasPassword, p.Private, p.Owner)
		if err != nil {
			return nil, validationErr(err)
		}
		err = c.store.CreateRoom(ctx, room)
		switch {
		case err == nil:
			log.Info().Str("module", "app.coordinator").Str("room", string(room.RoomID)).
				Str("owner", string(room.Owner)).Msg("room created")
			return room, nil
		case errors.Is(err, store.ErrConflict):
			if generated && attempt < maxAttempts-1 {
				continue
			}
			return nil, ErrConflict
		default:
			return nil, fmt.Errorf("%w: create room: %w", ErrInternal, err)
		}
	}
}

func (c *Coordinator) resolveRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	room, err := c.store.FindRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find room: %w", ErrInternal, err)
	}
	return room, nil
}

// JoinResult is what the transport reports back to the joiner.
type JoinResult struct {
	RoomID   domain.RoomID
	Identity domain.Identity
	Users    []domain.Identity
}

// Join admits a transport into a room and announces the arrival to the
// other members.
func (c *Coordinator) Join(ctx context.Context, sid core.SessionID, conn core.SignalConn, roomID domain.RoomID, requested domain.Identity) (*JoinResult, error) {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// One room and one identity per transport: joining elsewhere, or
	// under a new name, departs first through the normal notification
	// path. A repeat join with the same identity is a reconnect.
	if prevRoom, prevIdentity, ok := c.ledger.BindingOf(sid); ok {
		switch {
		case prevRoom == roomID && requested == "":
			requested = prevIdentity
		case prevRoom != roomID || requested != prevIdentity:
			c.departAndAnnounce(ctx, sid, domain.ReasonLeft)
		}
	}

	identity, users, err := c.ledger.Admit(ctx, room, requested, sid, conn)
	if err != nil {
		return nil, err
	}
	c.liveness.Watch(sid)

	c.fanoutExcept(roomID, identity, core.UserJoined{
		Type:   core.EventUserJoined,
		UserID: identity,
		Users:  users,
	})
	return &JoinResult{RoomID: roomID, Identity: identity, Users: users}, nil
}

// CreateAndJoin backs the create-room transport event: the creator
// becomes owner and first member in one step.
func (c *Coordinator) CreateAndJoin(ctx context.Context, sid core.SessionID, conn core.SignalConn, p CreateRoomParams) (*JoinResult, error) {
	if p.Owner == "" {
		p.Owner = domain.AssignedIdentity(0)
	}
	room, err := c.CreateRoom(ctx, p)
	if err != nil {
		return nil, err
	}
	identity, users, err := c.ledger.Admit(ctx, room, p.Owner, sid, conn)
	if err != nil {
		return nil, err
	}
	c.liveness.Watch(sid)
	return &JoinResult{RoomID: room.RoomID, Identity: identity, Users: users}, nil
}

func (c *Coordinator) departAndAnnounce(ctx context.Context, sid core.SessionID, reason domain.DepartReason) *Departure {
	dep, err := c.ledger.Depart(ctx, sid)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("depart failed")
		}
		return nil
	}
	c.fanout(dep.RoomID, core.UserLeft{
		Type:   core.EventUserLeft,
		UserID: dep.Identity,
		Reason: string(reason),
	})
	return dep
}

// Leave handles the explicit leave-room event. The transport stays
// open; only the room binding is dropped.
func (c *Coordinator) Leave(ctx context.Context, sid core.SessionID) {
	c.liveness.Forget(sid)
	c.departAndAnnounce(ctx, sid, domain.ReasonLeft)
}

// Disconnect handles a transport-level close.
func (c *Coordinator) Disconnect(ctx context.Context, sid core.SessionID) {
	c.liveness.Forget(sid)
	c.departAndAnnounce(ctx, sid, domain.ReasonLeft)
}

// evictExpired is the liveness supervisor's callback: same departure
// path as an explicit leave, tagged "timeout", then the transport is
// severed.
func (c *Coordinator) evictExpired(sid core.SessionID) {
	dep := c.departAndAnnounce(context.Background(), sid, domain.ReasonTimeout)
	if dep != nil {
		dep.Conn.Close()
	}
}

// Relay forwards one handshake payload. The sender is whatever identity
// the calling transport is bound to; a caller bound to a different room
// (or none) is rejected before anything else happens. Delivery is
// best-effort: an absent or unreachable target is dropped silently.
func (c *Coordinator) Relay(ctx context.Context, sid core.SessionID, roomID domain.RoomID, kind domain.SignalKind, to domain.Identity, payload json.RawMessage) error {
	boundRoom, from, ok := c.ledger.BindingOf(sid)
	if !ok || boundRoom != roomID {
		return ErrUnauthorized
	}
	c.liveness.Touch(sid)
	if err := domain.ValidateIdentity(to); err != nil {
		return validationErr(err)
	}

	// Audit write never blocks or fails forwarding.
	rec := domain.NewSignalRecord(roomID, from, to, kind, payload)
	go func() {
		if err := c.store.CreateSignalRecord(context.Background(), rec); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").
				Str("room", string(roomID)).Str("kind", string(kind)).Msg("signal audit write failed")
		}
	}()

	conn, ok := c.ledger.Resolve(roomID, to)
	if !ok {
		return nil
	}

	var event any
	switch kind {
	case domain.SignalOffer:
		event = core.ReceiveOffer{Type: core.EventReceiveOffer, FromUser: from, Offer: payload}
	case domain.SignalAnswer:
		event = core.ReceiveAnswer{Type: core.EventReceiveAnswer, FromUser: from, Answer: payload}
	case domain.SignalCandidate:
		event = core.ReceiveCandidate{Type: core.EventReceiveCandidate, FromUser: from, Candidate: payload}
	default:
		return validationErr(fmt.Errorf("unknown signal kind %q", kind))
	}
	c.send(conn, event)
	return nil
}

// SendMessage validates, obfuscates, persists, and fans out one chat
// message to everyone connected at send time, sender included.
func (c *Coordinator) SendMessage(ctx context.Context, sid core.SessionID, roomID domain.RoomID, text string) error {
	boundRoom, from, ok := c.ledger.BindingOf(sid)
	if !ok || boundRoom != roomID {
		return ErrUnauthorized
	}
	c.liveness.Touch(sid)
	if err := domain.ValidateChatText(text); err != nil {
		return validationErr(err)
	}

	msg := domain.NewChatMessage(roomID, from, obfuscate.Apply(text))
	go func() {
		if err := c.store.CreateChatMessage(context.Background(), msg); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").
				Str("room", string(roomID)).Msg("chat write failed")
		}
	}()

	c.fanout(roomID, core.ReceiveMessage{
		Type:      core.EventReceiveMessage,
		SenderID:  from,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	})
	return nil
}

// Kick ejects a connected member: notify the target, depart through the
// shared ledger path, announce to the rest, sever the transport.
func (c *Coordinator) Kick(ctx context.Context, roomID domain.RoomID, caller, target domain.Identity) error {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermKick); err != nil {
		return err
	}
	conn, connected := c.ledger.Resolve(roomID, target)
	if !connected {
		return ErrNotFound
	}
	c.send(conn, core.Kicked{Type: core.EventKicked, Reason: "kicked by room owner or moderator"})

	dep, err := c.ledger.Evict(ctx, roomID, target)
	if err != nil {
		return err
	}
	c.liveness.Forget(dep.SID)
	c.fanout(roomID, core.UserLeft{Type: core.EventUserLeft, UserID: target, Reason: string(domain.ReasonKicked)})
	dep.Conn.Close()
	return nil
}

// Ban writes the ban record first — that part is authoritative and its
// failure surfaces — then enforces it against a live session, if any.
// A zero duration means permanent.
func (c *Coordinator) Ban(ctx context.Context, roomID domain.RoomID, caller, target domain.Identity, reason string, duration time.Duration) (*domain.BanRecord, error) {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermBan); err != nil {
		return nil, err
	}
	if err := domain.ValidateIdentity(target); err != nil {
		return nil, validationErr(err)
	}

	ban := domain.NewBanRecord(roomID, target, caller, reason, duration)
	if err := c.store.CreateBanRecord(ctx, ban); err != nil {
		return nil, fmt.Errorf("%w: create ban: %w", ErrInternal, err)
	}

	if conn, connected := c.ledger.Resolve(roomID, target); connected {
		eventReason := reason
		if eventReason == "" {
			eventReason = "banned by room owner or moderator"
		}
		c.send(conn, core.Banned{Type: core.EventBanned, Reason: eventReason, ExpiresAt: ban.ExpiresAt})
		if dep, err := c.ledger.Evict(ctx, roomID, target); err == nil {
			c.liveness.Forget(dep.SID)
			c.fanout(roomID, core.UserLeft{Type: core.EventUserLeft, UserID: target, Reason: string(domain.ReasonBanned)})
			dep.Conn.Close()
		}
	}
	return ban, nil
}

// Unban lifts a ban. Owner only.
func (c *Coordinator) Unban(ctx context.Context, roomID domain.RoomID, caller, target domain.Identity) error {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermOwner); err != nil {
		return err
	}
	if err := c.store.DeleteBan(ctx, roomID, target); err != nil {
		return fmt.Errorf("%w: delete ban: %w", ErrInternal, err)
	}
	return nil
}

// GrantModerator hands a permission set to an identity. Owner only.
func (c *Coordinator) GrantModerator(ctx context.Context, roomID domain.RoomID, caller, target domain.Identity, perms *domain.PermissionSet) error {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermOwner); err != nil {
		return err
	}
	if err := domain.ValidateIdentity(target); err != nil {
		return validationErr(err)
	}
	p := domain.DefaultPermissions()
	if perms != nil {
		p = *perms
	}
	if err := c.store.UpsertModerator(ctx, domain.NewModeratorGrant(roomID, target, caller, p)); err != nil {
		return fmt.Errorf("%w: grant moderator: %w", ErrInternal, err)
	}
	return nil
}

// RevokeModerator removes a grant. Owner only.
func (c *Coordinator) RevokeModerator(ctx context.Context, roomID domain.RoomID, caller, target domain.Identity) error {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermOwner); err != nil {
		return err
	}
	if err := c.store.DeleteModerator(ctx, roomID, target); err != nil {
		return fmt.Errorf("%w: revoke moderator: %w", ErrInternal, err)
	}
	return nil
}

// UpdateSettings changes name/capacity/privacy. Owner, or a moderator
// holding can_change_settings.
type SettingsUpdate struct {
	Name     *string
	Capacity *int
	Private  *bool
}

func (c *Coordinator) UpdateSettings(ctx context.Context, roomID domain.RoomID, caller domain.Identity, upd SettingsUpdate) (*domain.Room, error) {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := c.gate.Authorize(ctx, room, caller, PermChangeSettings); err != nil {
		return nil, err
	}
	if upd.Name != nil {
		room.Name = *upd.Name
	}
	if upd.Capacity != nil {
		if *upd.Capacity < domain.MinRoomCapacity || *upd.Capacity > domain.MaxRoomCapacity {
			return nil, validationErr(domain.ErrCapacityOutOfRange)
		}
		room.MaxMembers = *upd.Capacity
	}
	if upd.Private != nil {
		room.Private = *upd.Private
	}
	if err := c.store.UpdateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: update room: %w", ErrInternal, err)
	}
	return room, nil
}

// CloseRoom soft-closes: the row survives with active=false, every
// member is force-departed, and the room-closed broadcast goes out
// before transports are severed.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID domain.RoomID) error {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	room.Active = false
	if err := c.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("%w: close room: %w", ErrInternal, err)
	}
	c.fanout(roomID, core.RoomClosed{Type: core.EventRoomClosed})
	for _, identity := range c.ledger.Connected(roomID) {
		if dep, err := c.ledger.Evict(ctx, roomID, identity); err == nil {
			c.liveness.Forget(dep.SID)
			dep.Conn.Close()
		}
	}
	if err := c.store.MarkAllDisconnected(ctx, roomID); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").
			Str("room", string(roomID)).Msg("mark all disconnected failed")
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("room closed")
	return nil
}

// Read-side accessors for the administrative surface.

type RoomView struct {
	Room  domain.Room
	Users []domain.Identity
}

func (c *Coordinator) RoomInfo(ctx context.Context, roomID domain.RoomID) (*RoomView, error) {
	room, err := c.resolveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	users := c.ledger.Connected(roomID)
	if users == nil {
		users = []domain.Identity{}
	}
	return &RoomView{Room: *room, Users: users}, nil
}

func (c *Coordinator) ListRooms(ctx context.Context, publicOnly bool) ([]RoomView, error) {
	rooms, err := c.store.ListActiveRooms(ctx, publicOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %w", ErrInternal, err)
	}
	out := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		users := c.ledger.Connected(room.RoomID)
		if users == nil {
			users = []domain.Identity{}
		}
		out = append(out, RoomView{Room: room, Users: users})
	}
	return out, nil
}

func (c *Coordinator) Messages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.ChatMessage, int64, error) {
	if _, err := c.resolveRoom(ctx, roomID); err != nil {
		return nil, 0, err
	}
	msgs, total, err := c.store.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list messages: %w", ErrInternal, err)
	}
	return msgs, total, nil
}

func (c *Coordinator) Bans(ctx context.Context, roomID domain.RoomID) ([]domain.BanRecord, error) {
	if _, err := c.resolveRoom(ctx, roomID); err != nil {
		return nil, err
	}
	bans, err := c.store.ListActiveBans(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: list bans: %w", ErrInternal, err)
	}
	return bans, nil
}

// Fan-out helpers. Frames are marshaled once; a full or closed peer
// queue drops that frame for that peer only.

func (c *Coordinator) send(conn core.SignalConn, v any) {
	frame, err := core.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("event marshal failed")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("event dropped")
	}
}

func (c *Coordinator) fanout(roomID domain.RoomID, v any) {
	frame, err := core.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("event marshal failed")
		return
	}
	for _, conn := range c.ledger.Conns(roomID) {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").
				Str("room", string(roomID)).Msg("broadcast frame dropped")
		}
	}
}

func (c *Coordinator) fanoutExcept(roomID domain.RoomID, except domain.Identity, v any) {
	frame, err := core.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("event marshal failed")
		return
	}
	for _, target := range c.ledger.ConnsExcept(roomID, except) {
		if err := target.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").
				Str("room", string(roomID)).Msg("broadcast frame dropped")
		}
	}
}

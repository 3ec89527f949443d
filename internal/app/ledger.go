package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"callroom/internal/core"
	"callroom/internal/domain"
	"callroom/internal/store"
)

// AdmissionGuard is consulted inside the admission critical section,
// once per admit, with no caching. The moderation gate implements it.
type AdmissionGuard interface {
	CheckAdmission(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error
}

type session struct {
	sid      core.SessionID
	identity domain.Identity
	conn     core.SignalConn
}

// roomState serializes all membership mutations for one room. Rooms are
// locked independently so one busy room never stalls another.
type roomState struct {
	mu         sync.Mutex
	byIdentity map[domain.Identity]*session
}

type binding struct {
	roomID   domain.RoomID
	identity domain.Identity
}

// Ledger is the single source of truth for who is connected where, and
// the only component allowed to mutate connectivity state. Durable
// membership rows are written through to the store.
type Ledger struct {
	store store.Store
	guard AdmissionGuard

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
	bySID map[core.SessionID]binding
}

func NewLedger(st store.Store, guard AdmissionGuard) *Ledger {
	return &Ledger{
		store: st,
		guard: guard,
		rooms: make(map[domain.RoomID]*roomState),
		bySID: make(map[core.SessionID]binding),
	}
}

func (l *Ledger) getOrCreate(roomID domain.RoomID) *roomState {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if ok {
		return rs
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if rs, ok = l.rooms[roomID]; ok {
		return rs
	}
	rs = &roomState{byIdentity: make(map[domain.Identity]*session)}
	l.rooms[roomID] = rs
	return rs
}

func connectedLocked(rs *roomState) []domain.Identity {
	out := make([]domain.Identity, 0, len(rs.byIdentity))
	for identity := range rs.byIdentity {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Admit runs the whole admission inside the room's critical section:
// ban check, capacity check, identity assignment, durable upsert, and
// transport binding. Re-admission by a connected identity replaces the
// transport binding instead of creating a second member.
func (l *Ledger) Admit(ctx context.Context, room *domain.Room, requested domain.Identity, sid core.SessionID, conn core.SignalConn) (domain.Identity, []domain.Identity, error) {
	if requested != "" {
		if err := domain.ValidateIdentity(requested); err != nil {
			return "", nil, validationErr(err)
		}
	}

	rs := l.getOrCreate(room.RoomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	identity := requested
	if identity == "" {
		identity = domain.AssignedIdentity(len(rs.byIdentity))
	}

	if err := l.guard.CheckAdmission(ctx, room.RoomID, identity); err != nil {
		return "", nil, err
	}

	prev, reconnect := rs.byIdentity[identity]
	if !reconnect && len(rs.byIdentity) >= room.MaxMembers {
		return "", nil, ErrRoomFull
	}

	// Authoritative state change: a store failure here must not admit.
	if err := l.store.UpsertMember(ctx, room.RoomID, identity, string(sid)); err != nil {
		return "", nil, fmt.Errorf("%w: upsert member: %w", ErrInternal, err)
	}

	rs.byIdentity[identity] = &session{sid: sid, identity: identity, conn: conn}

	l.mu.Lock()
	l.bySID[sid] = binding{roomID: room.RoomID, identity: identity}
	if reconnect && prev.sid != sid {
		delete(l.bySID, prev.sid)
	}
	l.mu.Unlock()

	if reconnect && prev.sid != sid {
		// Sever the stale transport; its disconnect no longer maps to
		// a binding, so it cannot evict the fresh session.
		prev.conn.Close()
	}

	log.Info().Str("module", "app.ledger").Str("room", string(room.RoomID)).
		Str("identity", string(identity)).Bool("reconnect", reconnect).Msg("member admitted")
	return identity, connectedLocked(rs), nil
}

// Departure reports one completed connectivity mutation.
type Departure struct {
	RoomID    domain.RoomID
	Identity  domain.Identity
	SID       core.SessionID
	Conn      core.SignalConn
	Remaining []domain.Identity
}

func (l *Ledger) removeLocked(rs *roomState, roomID domain.RoomID, sess *session) {
	delete(rs.byIdentity, sess.identity)
	l.mu.Lock()
	if b, ok := l.bySID[sess.sid]; ok && b.roomID == roomID && b.identity == sess.identity {
		delete(l.bySID, sess.sid)
	}
	// Empty roomStates stay in the map on purpose: an Admit already
	// holding the pointer must not race a delete-and-recreate.
	l.mu.Unlock()
}

// Depart removes the membership bound to a transport. Unknown sids
// return ErrNotFound; a transport that never joined has nothing to do.
func (l *Ledger) Depart(ctx context.Context, sid core.SessionID) (*Departure, error) {
	l.mu.RLock()
	b, ok := l.bySID[sid]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return l.evict(ctx, b.roomID, b.identity, sid)
}

// Evict removes a membership by identity (kick, ban, room close).
func (l *Ledger) Evict(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*Departure, error) {
	return l.evict(ctx, roomID, identity, "")
}

func (l *Ledger) evict(ctx context.Context, roomID domain.RoomID, identity domain.Identity, requireSID core.SessionID) (*Departure, error) {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rs.mu.Lock()
	sess, ok := rs.byIdentity[identity]
	if !ok || (requireSID != "" && sess.sid != requireSID) {
		// A stale transport's disconnect must not evict the session
		// that replaced it.
		rs.mu.Unlock()
		return nil, ErrNotFound
	}
	l.removeLocked(rs, roomID, sess)
	remaining := connectedLocked(rs)
	rs.mu.Unlock()

	if err := l.store.MarkDisconnected(ctx, roomID, identity); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: mark disconnected: %w", ErrInternal, err)
	}

	log.Info().Str("module", "app.ledger").Str("room", string(roomID)).
		Str("identity", string(identity)).Msg("member departed")
	return &Departure{
		RoomID:    roomID,
		Identity:  identity,
		SID:       sess.sid,
		Conn:      sess.conn,
		Remaining: remaining,
	}, nil
}

// Connected lists the identities currently in the room. Order carries
// no meaning; it is sorted only to be stable.
func (l *Ledger) Connected(roomID domain.RoomID) []domain.Identity {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return connectedLocked(rs)
}

// Resolve maps a room identity to its live transport handle.
func (l *Ledger) Resolve(roomID domain.RoomID, identity domain.Identity) (core.SignalConn, bool) {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	sess, ok := rs.byIdentity[identity]
	if !ok {
		return nil, false
	}
	return sess.conn, true
}

// Conns snapshots the fan-out targets of a room at call time.
func (l *Ledger) Conns(roomID domain.RoomID) []core.SignalConn {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]core.SignalConn, 0, len(rs.byIdentity))
	for _, sess := range rs.byIdentity {
		out = append(out, sess.conn)
	}
	return out
}

// ConnsExcept is Conns minus one identity, for arrival announcements
// that skip the subject.
func (l *Ledger) ConnsExcept(roomID domain.RoomID, except domain.Identity) []core.SignalConn {
	l.mu.RLock()
	rs, ok := l.rooms[roomID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]core.SignalConn, 0, len(rs.byIdentity))
	for identity, sess := range rs.byIdentity {
		if identity == except {
			continue
		}
		out = append(out, sess.conn)
	}
	return out
}

// BindingOf reports which room identity a transport is bound to. This
// is the anti-spoofing anchor for the relay and chat paths.
func (l *Ledger) BindingOf(sid core.SessionID) (domain.RoomID, domain.Identity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bySID[sid]
	return b.roomID, b.identity, ok
}

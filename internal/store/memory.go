package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"callroom/internal/domain"
)

// Memory is a process-local Store for tests and single-node runs.
type Memory struct {
	mu         sync.RWMutex
	rooms      map[string]*domain.Room // keyed by row id
	members    map[domain.RoomID]map[domain.Identity]*domain.Member
	bans       map[domain.RoomID]map[domain.Identity]*domain.BanRecord
	moderators map[domain.RoomID]map[domain.Identity]*domain.ModeratorGrant
	signals    []domain.SignalRecord
	messages   map[domain.RoomID][]domain.ChatMessage
}

func NewMemory() *Memory {
	return &Memory{
		rooms:      make(map[string]*domain.Room),
		members:    make(map[domain.RoomID]map[domain.Identity]*domain.Member),
		bans:       make(map[domain.RoomID]map[domain.Identity]*domain.BanRecord),
		moderators: make(map[domain.RoomID]map[domain.Identity]*domain.ModeratorGrant),
		messages:   make(map[domain.RoomID][]domain.ChatMessage),
	}
}

func (m *Memory) findActiveLocked(roomID domain.RoomID) *domain.Room {
	for _, r := range m.rooms {
		if r.RoomID == roomID && r.Active {
			return r
		}
	}
	return nil
}

func (m *Memory) FindRoom(_ context.Context, roomID domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.findActiveLocked(roomID); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findActiveLocked(room.RoomID) != nil {
		return ErrConflict
	}
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *Memory) UpdateRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *Memory) ListActiveRooms(_ context.Context, publicOnly bool) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if !r.Active || (publicOnly && r.Private) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpsertMember(_ context.Context, roomID domain.RoomID, identity domain.Identity, transportRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIdentity, ok := m.members[roomID]
	if !ok {
		byIdentity = make(map[domain.Identity]*domain.Member)
		m.members[roomID] = byIdentity
	}
	if existing, ok := byIdentity[identity]; ok {
		existing.TransportRef = transportRef
		existing.Connected = true
		existing.LeftAt = nil
		return nil
	}
	byIdentity[identity] = domain.NewMember(roomID, identity, transportRef)
	return nil
}

func (m *Memory) MarkDisconnected(_ context.Context, roomID domain.RoomID, identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[roomID][identity]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	member.Connected = false
	member.TransportRef = ""
	member.LeftAt = &now
	return nil
}

func (m *Memory) MarkAllDisconnected(_ context.Context, roomID domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, member := range m.members[roomID] {
		if member.Connected {
			member.Connected = false
			member.TransportRef = ""
			member.LeftAt = &now
		}
	}
	return nil
}

func (m *Memory) CountConnectedMembers(_ context.Context, roomID domain.RoomID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, member := range m.members[roomID] {
		if member.Connected {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListConnectedMembers(_ context.Context, roomID domain.RoomID) ([]domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Member, 0, len(m.members[roomID]))
	for _, member := range m.members[roomID] {
		if member.Connected {
			out = append(out, *member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) CreateBanRecord(_ context.Context, ban *domain.BanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIdentity, ok := m.bans[ban.RoomID]
	if !ok {
		byIdentity = make(map[domain.Identity]*domain.BanRecord)
		m.bans[ban.RoomID] = byIdentity
	}
	// One active record per (room, identity): a new ban replaces a
	// stale or expired one.
	cp := *ban
	byIdentity[ban.Identity] = &cp
	return nil
}

func (m *Memory) FindActiveBan(_ context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.BanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ban, ok := m.bans[roomID][identity]
	if !ok || !ban.ActiveAt(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *ban
	return &cp, nil
}

func (m *Memory) DeleteBan(_ context.Context, roomID domain.RoomID, identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans[roomID], identity)
	return nil
}

func (m *Memory) ListActiveBans(_ context.Context, roomID domain.RoomID) ([]domain.BanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	out := make([]domain.BanRecord, 0, len(m.bans[roomID]))
	for _, ban := range m.bans[roomID] {
		if ban.ActiveAt(now) {
			out = append(out, *ban)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BannedAt.After(out[j].BannedAt) })
	return out, nil
}

func (m *Memory) UpsertModerator(_ context.Context, grant *domain.ModeratorGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIdentity, ok := m.moderators[grant.RoomID]
	if !ok {
		byIdentity = make(map[domain.Identity]*domain.ModeratorGrant)
		m.moderators[grant.RoomID] = byIdentity
	}
	cp := *grant
	byIdentity[grant.Identity] = &cp
	return nil
}

func (m *Memory) FindModerator(_ context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModeratorGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grant, ok := m.moderators[roomID][identity]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *grant
	return &cp, nil
}

func (m *Memory) DeleteModerator(_ context.Context, roomID domain.RoomID, identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.moderators[roomID], identity)
	return nil
}

func (m *Memory) CreateSignalRecord(_ context.Context, rec *domain.SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, *rec)
	return nil
}

// SignalRecords snapshots the audit trail; only tests need this.
func (m *Memory) SignalRecords() []domain.SignalRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SignalRecord, len(m.signals))
	copy(out, m.signals)
	return out
}

func (m *Memory) CreateChatMessage(_ context.Context, msg *domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], *msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, roomID domain.RoomID, limit, offset int) ([]domain.ChatMessage, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[roomID]
	total := int64(len(all))
	// Newest first, matching the SQL ordering.
	rev := make([]domain.ChatMessage, len(all))
	for i, msg := range all {
		rev[len(all)-1-i] = msg
	}
	if offset >= len(rev) {
		return []domain.ChatMessage{}, total, nil
	}
	rev = rev[offset:]
	if limit > 0 && limit < len(rev) {
		rev = rev[:limit]
	}
	return rev, total, nil
}

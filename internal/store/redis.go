package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"callroom/internal/domain"
)

// Redis is the Store for multi-process deployments where several
// coordinator instances share room and ban state. Closed rooms are
// dropped rather than archived; the SQL driver is the one that keeps
// history.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s", id)
}
func membersKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s:members", id)
}
func bansKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s:bans", id)
}
func modsKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s:mods", id)
}
func signalsKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s:signals", id)
}
func messagesKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s:messages", id)
}

const roomsIndexKey = "rooms:index"

func (r *Redis) FindRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	val, err := r.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get room %q: %w", roomID, err)
	}
	var room domain.Room
	if err := json.Unmarshal(val, &room); err != nil {
		return nil, fmt.Errorf("redis decode room %q: %w", roomID, err)
	}
	return &room, nil
}

func (r *Redis) CreateRoom(ctx context.Context, room *domain.Room) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, roomKey(room.RoomID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis create room %q: %w", room.RoomID, err)
	}
	if !ok {
		return ErrConflict
	}
	if err := r.rdb.SAdd(ctx, roomsIndexKey, string(room.RoomID)).Err(); err != nil {
		return fmt.Errorf("redis index room %q: %w", room.RoomID, err)
	}
	return nil
}

func (r *Redis) UpdateRoom(ctx context.Context, room *domain.Room) error {
	if !room.Active {
		// Soft close: the room leaves the active keyspace entirely.
		pipe := r.rdb.TxPipeline()
		pipe.Del(ctx, roomKey(room.RoomID))
		pipe.SRem(ctx, roomsIndexKey, string(room.RoomID))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis close room %q: %w", room.RoomID, err)
		}
		return nil
	}
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, roomKey(room.RoomID), b, 0).Err(); err != nil {
		return fmt.Errorf("redis update room %q: %w", room.RoomID, err)
	}
	return nil
}

func (r *Redis) ListActiveRooms(ctx context.Context, publicOnly bool) ([]domain.Room, error) {
	ids, err := r.rdb.SMembers(ctx, roomsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list rooms: %w", err)
	}
	out := make([]domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.FindRoom(ctx, domain.RoomID(id))
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if publicOnly && room.Private {
			continue
		}
		out = append(out, *room)
	}
	return out, nil
}

func (r *Redis) UpsertMember(ctx context.Context, roomID domain.RoomID, identity domain.Identity, transportRef string) error {
	key := membersKey(roomID)
	val, err := r.rdb.HGet(ctx, key, string(identity)).Bytes()
	var member *domain.Member
	switch {
	case err == redis.Nil:
		member = domain.NewMember(roomID, identity, transportRef)
	case err != nil:
		return fmt.Errorf("redis get member %s/%s: %w", roomID, identity, err)
	default:
		member = &domain.Member{}
		if err := json.Unmarshal(val, member); err != nil {
			return fmt.Errorf("redis decode member %s/%s: %w", roomID, identity, err)
		}
		member.TransportRef = transportRef
		member.Connected = true
		member.LeftAt = nil
	}
	b, err := json.Marshal(member)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, key, string(identity), b).Err(); err != nil {
		return fmt.Errorf("redis set member %s/%s: %w", roomID, identity, err)
	}
	return nil
}

func (r *Redis) markDisconnected(ctx context.Context, roomID domain.RoomID, identity domain.Identity, now time.Time) error {
	key := membersKey(roomID)
	val, err := r.rdb.HGet(ctx, key, string(identity)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get member %s/%s: %w", roomID, identity, err)
	}
	var member domain.Member
	if err := json.Unmarshal(val, &member); err != nil {
		return fmt.Errorf("redis decode member %s/%s: %w", roomID, identity, err)
	}
	member.Connected = false
	member.TransportRef = ""
	member.LeftAt = &now
	b, err := json.Marshal(&member)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, key, string(identity), b).Err()
}

func (r *Redis) MarkDisconnected(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	return r.markDisconnected(ctx, roomID, identity, time.Now())
}

func (r *Redis) MarkAllDisconnected(ctx context.Context, roomID domain.RoomID) error {
	members, err := r.ListConnectedMembers(ctx, roomID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, member := range members {
		if err := r.markDisconnected(ctx, roomID, member.Identity, now); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

func (r *Redis) members(ctx context.Context, roomID domain.RoomID) ([]domain.Member, error) {
	vals, err := r.rdb.HVals(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list members %s: %w", roomID, err)
	}
	out := make([]domain.Member, 0, len(vals))
	for _, v := range vals {
		var member domain.Member
		if json.Unmarshal([]byte(v), &member) == nil {
			out = append(out, member)
		}
	}
	return out, nil
}

func (r *Redis) CountConnectedMembers(ctx context.Context, roomID domain.RoomID) (int, error) {
	all, err := r.members(ctx, roomID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, member := range all {
		if member.Connected {
			n++
		}
	}
	return n, nil
}

func (r *Redis) ListConnectedMembers(ctx context.Context, roomID domain.RoomID) ([]domain.Member, error) {
	all, err := r.members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, member := range all {
		if member.Connected {
			out = append(out, member)
		}
	}
	return out, nil
}

func (r *Redis) CreateBanRecord(ctx context.Context, ban *domain.BanRecord) error {
	b, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, bansKey(ban.RoomID), string(ban.Identity), b).Err(); err != nil {
		return fmt.Errorf("redis set ban %s/%s: %w", ban.RoomID, ban.Identity, err)
	}
	return nil
}

func (r *Redis) FindActiveBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.BanRecord, error) {
	val, err := r.rdb.HGet(ctx, bansKey(roomID), string(identity)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get ban %s/%s: %w", roomID, identity, err)
	}
	var ban domain.BanRecord
	if err := json.Unmarshal(val, &ban); err != nil {
		return nil, fmt.Errorf("redis decode ban %s/%s: %w", roomID, identity, err)
	}
	if !ban.ActiveAt(time.Now()) {
		return nil, ErrNotFound
	}
	return &ban, nil
}

func (r *Redis) DeleteBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	if err := r.rdb.HDel(ctx, bansKey(roomID), string(identity)).Err(); err != nil {
		return fmt.Errorf("redis del ban %s/%s: %w", roomID, identity, err)
	}
	return nil
}

func (r *Redis) ListActiveBans(ctx context.Context, roomID domain.RoomID) ([]domain.BanRecord, error) {
	vals, err := r.rdb.HVals(ctx, bansKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list bans %s: %w", roomID, err)
	}
	now := time.Now()
	out := make([]domain.BanRecord, 0, len(vals))
	for _, v := range vals {
		var ban domain.BanRecord
		if json.Unmarshal([]byte(v), &ban) == nil && ban.ActiveAt(now) {
			out = append(out, ban)
		}
	}
	return out, nil
}

func (r *Redis) UpsertModerator(ctx context.Context, grant *domain.ModeratorGrant) error {
	b, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, modsKey(grant.RoomID), string(grant.Identity), b).Err(); err != nil {
		return fmt.Errorf("redis set moderator %s/%s: %w", grant.RoomID, grant.Identity, err)
	}
	return nil
}

func (r *Redis) FindModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModeratorGrant, error) {
	val, err := r.rdb.HGet(ctx, modsKey(roomID), string(identity)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get moderator %s/%s: %w", roomID, identity, err)
	}
	var grant domain.ModeratorGrant
	if err := json.Unmarshal(val, &grant); err != nil {
		return nil, fmt.Errorf("redis decode moderator %s/%s: %w", roomID, identity, err)
	}
	return &grant, nil
}

func (r *Redis) DeleteModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	if err := r.rdb.HDel(ctx, modsKey(roomID), string(identity)).Err(); err != nil {
		return fmt.Errorf("redis del moderator %s/%s: %w", roomID, identity, err)
	}
	return nil
}

func (r *Redis) CreateSignalRecord(ctx context.Context, rec *domain.SignalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.rdb.RPush(ctx, signalsKey(rec.RoomID), b).Err(); err != nil {
		return fmt.Errorf("redis append signal %s: %w", rec.RoomID, err)
	}
	return nil
}

func (r *Redis) CreateChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.RPush(ctx, messagesKey(msg.RoomID), b).Err(); err != nil {
		return fmt.Errorf("redis append message %s: %w", msg.RoomID, err)
	}
	return nil
}

func (r *Redis) ListMessages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.ChatMessage, int64, error) {
	key := messagesKey(roomID)
	total, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis count messages %s: %w", roomID, err)
	}
	// The list is append-ordered; page from the tail so newest come
	// first, matching the SQL driver.
	end := total - 1 - int64(offset)
	if end < 0 {
		return []domain.ChatMessage{}, total, nil
	}
	start := end - int64(limit) + 1
	if limit <= 0 || start < 0 {
		start = 0
	}
	vals, err := r.rdb.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis list messages %s: %w", roomID, err)
	}
	out := make([]domain.ChatMessage, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var msg domain.ChatMessage
		if json.Unmarshal([]byte(vals[i]), &msg) == nil {
			out = append(out, msg)
		}
	}
	return out, total, nil
}

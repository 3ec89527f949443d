// Package store is the durable-record collaborator behind the
// coordinator: rooms, membership rows, bans, moderator grants, and the
// append-only signal/chat audit trails. Connectivity truth lives in the
// in-memory ledger; the store mirrors it for the administrative surface
// and across restarts.
package store

import (
	"context"
	"errors"

	"callroom/internal/domain"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: duplicate record")
)

type Store interface {
	// Rooms. FindRoom returns ErrNotFound for unknown ids; CreateRoom
	// returns ErrConflict when the room id is already taken by an
	// active room.
	FindRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	CreateRoom(ctx context.Context, room *domain.Room) error
	UpdateRoom(ctx context.Context, room *domain.Room) error
	ListActiveRooms(ctx context.Context, publicOnly bool) ([]domain.Room, error)

	// Membership rows. UpsertMember flips an existing (room, identity)
	// row back to connected rather than duplicating it.
	UpsertMember(ctx context.Context, roomID domain.RoomID, identity domain.Identity, transportRef string) error
	MarkDisconnected(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error
	MarkAllDisconnected(ctx context.Context, roomID domain.RoomID) error
	CountConnectedMembers(ctx context.Context, roomID domain.RoomID) (int, error)
	ListConnectedMembers(ctx context.Context, roomID domain.RoomID) ([]domain.Member, error)

	// Bans. FindActiveBan returns ErrNotFound when no ban is in force;
	// expired records are never reported as active.
	CreateBanRecord(ctx context.Context, ban *domain.BanRecord) error
	FindActiveBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.BanRecord, error)
	DeleteBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error
	ListActiveBans(ctx context.Context, roomID domain.RoomID) ([]domain.BanRecord, error)

	// Moderator grants.
	UpsertModerator(ctx context.Context, grant *domain.ModeratorGrant) error
	FindModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModeratorGrant, error)
	DeleteModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error

	// Append-only audit trails.
	CreateSignalRecord(ctx context.Context, rec *domain.SignalRecord) error
	CreateChatMessage(ctx context.Context, msg *domain.ChatMessage) error
	ListMessages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.ChatMessage, int64, error)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"callroom/internal/domain"
)

// Gorm is the SQL-backed Store. The default deployment uses an embedded
// SQLite file; any gorm.DB works.
type Gorm struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a SQLite-backed store at path.
// Use ":memory:" for throwaway databases in tests.
func OpenSQLite(path string) (*Gorm, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(
		&domain.Room{},
		&domain.Member{},
		&domain.BanRecord{},
		&domain.ModeratorGrant{},
		&domain.SignalRecord{},
		&domain.ChatMessage{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) FindRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND is_active = ?", roomID, true).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find room %q: %w", roomID, err)
	}
	return &room, nil
}

func (g *Gorm) CreateRoom(ctx context.Context, room *domain.Room) error {
	// Uniqueness holds among active rooms only, so this is a
	// check-then-insert inside one transaction rather than a UNIQUE
	// constraint on room_id.
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Room{}).
			Where("room_id = ? AND is_active = ?", room.RoomID, true).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count rooms %q: %w", room.RoomID, err)
		}
		if count > 0 {
			return ErrConflict
		}
		if err := tx.Create(room).Error; err != nil {
			return fmt.Errorf("create room %q: %w", room.RoomID, err)
		}
		return nil
	})
}

func (g *Gorm) UpdateRoom(ctx context.Context, room *domain.Room) error {
	res := g.db.WithContext(ctx).Save(room)
	if res.Error != nil {
		return fmt.Errorf("update room %q: %w", room.RoomID, res.Error)
	}
	return nil
}

func (g *Gorm) ListActiveRooms(ctx context.Context, publicOnly bool) ([]domain.Room, error) {
	q := g.db.WithContext(ctx).Where("is_active = ?", true)
	if publicOnly {
		q = q.Where("is_private = ?", false)
	}
	var rooms []domain.Room
	if err := q.Order("created_at DESC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (g *Gorm) UpsertMember(ctx context.Context, roomID domain.RoomID, identity domain.Identity, transportRef string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member domain.Member
		err := tx.Where("room_id = ? AND identity = ?", roomID, identity).First(&member).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(domain.NewMember(roomID, identity, transportRef)).Error
		case err != nil:
			return fmt.Errorf("find member %s/%s: %w", roomID, identity, err)
		default:
			return tx.Model(&member).Updates(map[string]any{
				"transport_ref": transportRef,
				"is_connected":  true,
				"left_at":       nil,
			}).Error
		}
	})
}

func (g *Gorm) MarkDisconnected(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	res := g.db.WithContext(ctx).Model(&domain.Member{}).
		Where("room_id = ? AND identity = ?", roomID, identity).
		Updates(map[string]any{
			"is_connected":  false,
			"transport_ref": "",
			"left_at":       time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark disconnected %s/%s: %w", roomID, identity, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) MarkAllDisconnected(ctx context.Context, roomID domain.RoomID) error {
	err := g.db.WithContext(ctx).Model(&domain.Member{}).
		Where("room_id = ? AND is_connected = ?", roomID, true).
		Updates(map[string]any{
			"is_connected":  false,
			"transport_ref": "",
			"left_at":       time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark all disconnected %s: %w", roomID, err)
	}
	return nil
}

func (g *Gorm) CountConnectedMembers(ctx context.Context, roomID domain.RoomID) (int, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&domain.Member{}).
		Where("room_id = ? AND is_connected = ?", roomID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count members %s: %w", roomID, err)
	}
	return int(count), nil
}

func (g *Gorm) ListConnectedMembers(ctx context.Context, roomID domain.RoomID) ([]domain.Member, error) {
	var members []domain.Member
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND is_connected = ?", roomID, true).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members %s: %w", roomID, err)
	}
	return members, nil
}

func (g *Gorm) CreateBanRecord(ctx context.Context, ban *domain.BanRecord) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Replace any previous record so the unique-active invariant
		// holds even when re-banning after expiry.
		if err := tx.Where("room_id = ? AND identity = ?", ban.RoomID, ban.Identity).
			Delete(&domain.BanRecord{}).Error; err != nil {
			return fmt.Errorf("clear ban %s/%s: %w", ban.RoomID, ban.Identity, err)
		}
		if err := tx.Create(ban).Error; err != nil {
			return fmt.Errorf("create ban %s/%s: %w", ban.RoomID, ban.Identity, err)
		}
		return nil
	})
}

func (g *Gorm) FindActiveBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.BanRecord, error) {
	var ban domain.BanRecord
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND identity = ?", roomID, identity).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&ban).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find ban %s/%s: %w", roomID, identity, err)
	}
	return &ban, nil
}

func (g *Gorm) DeleteBan(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND identity = ?", roomID, identity).
		Delete(&domain.BanRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete ban %s/%s: %w", roomID, identity, err)
	}
	return nil
}

func (g *Gorm) ListActiveBans(ctx context.Context, roomID domain.RoomID) ([]domain.BanRecord, error) {
	var bans []domain.BanRecord
	err := g.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("banned_at DESC").
		Find(&bans).Error
	if err != nil {
		return nil, fmt.Errorf("list bans %s: %w", roomID, err)
	}
	return bans, nil
}

func (g *Gorm) UpsertModerator(ctx context.Context, grant *domain.ModeratorGrant) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ? AND identity = ?", grant.RoomID, grant.Identity).
			Delete(&domain.ModeratorGrant{}).Error; err != nil {
			return fmt.Errorf("clear moderator %s/%s: %w", grant.RoomID, grant.Identity, err)
		}
		if err := tx.Create(grant).Error; err != nil {
			return fmt.Errorf("create moderator %s/%s: %w", grant.RoomID, grant.Identity, err)
		}
		return nil
	})
}

func (g *Gorm) FindModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModeratorGrant, error) {
	var grant domain.ModeratorGrant
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND identity = ?", roomID, identity).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find moderator %s/%s: %w", roomID, identity, err)
	}
	return &grant, nil
}

func (g *Gorm) DeleteModerator(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	err := g.db.WithContext(ctx).
		Where("room_id = ? AND identity = ?", roomID, identity).
		Delete(&domain.ModeratorGrant{}).Error
	if err != nil {
		return fmt.Errorf("delete moderator %s/%s: %w", roomID, identity, err)
	}
	return nil
}

func (g *Gorm) CreateSignalRecord(ctx context.Context, rec *domain.SignalRecord) error {
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create signal record: %w", err)
	}
	return nil
}

func (g *Gorm) CreateChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := g.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create chat message: %w", err)
	}
	return nil
}

func (g *Gorm) ListMessages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.ChatMessage, int64, error) {
	var total int64
	if err := g.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Where("room_id = ?", roomID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages %s: %w", roomID, err)
	}
	var msgs []domain.ChatMessage
	err := g.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list messages %s: %w", roomID, err)
	}
	return msgs, total, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BanRecord bars an identity from a room. A nil ExpiresAt means the ban
// is permanent; otherwise it is active only while ExpiresAt is in the
// future.
type BanRecord struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	RoomID    RoomID     `json:"roomId" gorm:"column:room_id;size:50;index;not null"`
	Identity  Identity   `json:"identity" gorm:"column:identity;size:50;not null"`
	BannedBy  Identity   `json:"bannedBy" gorm:"column:banned_by;size:50;not null"`
	Reason    string     `json:"reason" gorm:"column:reason"`
	BannedAt  time.Time  `json:"bannedAt" gorm:"column:banned_at"`
	ExpiresAt *time.Time `json:"expiresAt" gorm:"column:expires_at;index"`
}

func NewBanRecord(roomID RoomID, target, bannedBy Identity, reason string, duration time.Duration) *BanRecord {
	rec := &BanRecord{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Identity: target,
		BannedBy: bannedBy,
		Reason:   reason,
		BannedAt: time.Now(),
	}
	if duration > 0 {
		t := rec.BannedAt.Add(duration)
		rec.ExpiresAt = &t
	}
	return rec
}

// ActiveAt reports whether the ban is in force at the given instant.
func (b *BanRecord) ActiveAt(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PermissionSet enumerates what a moderator may do in a room. The room
// owner implicitly holds every permission.
type PermissionSet struct {
	CanKick           bool `json:"can_kick"`
	CanBan            bool `json:"can_ban"`
	CanMute           bool `json:"can_mute"`
	CanChangeSettings bool `json:"can_change_settings"`
}

// DefaultPermissions mirrors what a freshly granted moderator receives.
func DefaultPermissions() PermissionSet {
	return PermissionSet{CanKick: true, CanBan: true}
}

type ModeratorGrant struct {
	ID          string        `json:"id" gorm:"primaryKey;size:36"`
	RoomID      RoomID        `json:"roomId" gorm:"column:room_id;size:50;index:idx_mod_room_identity,unique;not null"`
	Identity    Identity      `json:"identity" gorm:"column:identity;size:50;index:idx_mod_room_identity,unique;not null"`
	GrantedBy   Identity      `json:"grantedBy" gorm:"column:granted_by;size:50;not null"`
	Permissions PermissionSet `json:"permissions" gorm:"embedded;embeddedPrefix:perm_"`
	GrantedAt   time.Time     `json:"grantedAt" gorm:"column:granted_at"`
}

func NewModeratorGrant(roomID RoomID, target, grantedBy Identity, perms PermissionSet) *ModeratorGrant {
	return &ModeratorGrant{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Identity:    target,
		GrantedBy:   grantedBy,
		Permissions: perms,
		GrantedAt:   time.Now(),
	}
}

// Package domain contains the persistent entities and their validation
// rules. No transport or lifecycle logic lives here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	// RoomID is the user-facing room identifier used for joining,
	// unique among active rooms.
	RoomID string
	// Identity is a per-room participant handle (e.g. "user1"),
	// not a global account.
	Identity string
)

const (
	MinRoomCapacity    = 2
	MaxRoomCapacity    = 50
	DefaultRoomCapacity = 10
)

type Room struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RoomID      RoomID    `json:"roomId" gorm:"column:room_id;index;size:50;not null"`
	Name        string    `json:"name" gorm:"size:100"`
	MaxMembers  int       `json:"maxMembers" gorm:"column:max_members;not null"`
	HasPassword bool      `json:"hasPassword" gorm:"column:has_password"`
	Private     bool      `json:"private" gorm:"column:is_private"`
	Active      bool      `json:"active" gorm:"column:is_active;index"`
	Owner       Identity  `json:"owner" gorm:"column:owner_id;size:50"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at"`
}

// NewRoom builds an active room with validated fields. A zero capacity
// falls back to DefaultRoomCapacity.
func NewRoom(roomID RoomID, name string, capacity int, hasPassword, private bool, owner Identity) (*Room, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if owner != "" {
		if err := ValidateIdentity(owner); err != nil {
			return nil, err
		}
	}
	if capacity == 0 {
		capacity = DefaultRoomCapacity
	}
	if capacity < MinRoomCapacity || capacity > MaxRoomCapacity {
		return nil, ErrCapacityOutOfRange
	}
	return &Room{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Name:        name,
		MaxMembers:  capacity,
		HasPassword: hasPassword,
		Private:     private,
		Active:      true,
		Owner:       owner,
		CreatedAt:   time.Now(),
	}, nil
}

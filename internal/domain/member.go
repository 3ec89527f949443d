package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Member is the durable participation record of one identity in one room.
// It persists across reconnects; connectivity is flipped, the row is never
// re-created.
type Member struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	RoomID       RoomID     `json:"roomId" gorm:"column:room_id;size:50;index:idx_member_room_identity,unique;not null"`
	Identity     Identity   `json:"identity" gorm:"column:identity;size:50;index:idx_member_room_identity,unique;not null"`
	TransportRef string     `json:"-" gorm:"column:transport_ref;size:64"`
	Connected    bool       `json:"connected" gorm:"column:is_connected;index"`
	JoinedAt     time.Time  `json:"joinedAt" gorm:"column:joined_at"`
	LeftAt       *time.Time `json:"leftAt" gorm:"column:left_at"`
}

func NewMember(roomID RoomID, identity Identity, transportRef string) *Member {
	return &Member{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Identity:     identity,
		TransportRef: transportRef,
		Connected:    true,
		JoinedAt:     time.Now(),
	}
}

// AssignedIdentity is the server-chosen handle for the (n+1)-th
// connected participant.
func AssignedIdentity(connected int) Identity {
	return Identity(fmt.Sprintf("user%d", connected+1))
}

// DepartReason tags why a member left; all reasons apply the same ledger
// mutation and differ only in the departure notification.
type DepartReason string

const (
	ReasonLeft    DepartReason = "left"
	ReasonTimeout DepartReason = "timeout"
	ReasonKicked  DepartReason = "kicked"
	ReasonBanned  DepartReason = "banned"
	ReasonClosed  DepartReason = "room-closed"
)

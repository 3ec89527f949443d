package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignalKind classifies a relayed handshake payload.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalRecord is the append-only audit row for one relayed handshake
// message. Relay correctness never depends on reading it back.
type SignalRecord struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	RoomID    RoomID          `json:"roomId" gorm:"column:room_id;size:50;index;not null"`
	From      Identity        `json:"from" gorm:"column:from_identity;size:50;not null"`
	To        Identity        `json:"to" gorm:"column:to_identity;size:50;not null"`
	Kind      SignalKind      `json:"kind" gorm:"column:kind;size:16;not null"`
	Payload   json.RawMessage `json:"payload" gorm:"column:payload"`
	CreatedAt time.Time       `json:"createdAt" gorm:"column:created_at"`
}

func NewSignalRecord(roomID RoomID, from, to Identity, kind SignalKind, payload json.RawMessage) *SignalRecord {
	return &SignalRecord{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		From:      from,
		To:        to,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// ChatMessage is the append-only chat row. Text is stored in its
// obfuscated wire form.
type ChatMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	RoomID    RoomID    `json:"roomId" gorm:"column:room_id;size:50;index:idx_msg_room_ts;not null"`
	Sender    Identity  `json:"senderId" gorm:"column:sender_id;size:50;not null"`
	Text      string    `json:"text" gorm:"column:text;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;index:idx_msg_room_ts"`
}

func NewChatMessage(roomID RoomID, sender Identity, text string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
}

package core

import (
	"encoding/json"
	"time"

	"callroom/internal/domain"
)

// Outbound event payloads. Every frame on the wire is one of these
// structs; the Type field is fixed by the constructor-free literal at
// each call site, so the compiler keeps payload and event name together.

type RoomCreated struct {
	Type   string            `json:"type"`
	RoomID domain.RoomID     `json:"roomId"`
	UserID domain.Identity   `json:"userId"`
	Users  []domain.Identity `json:"users"`
}

type JoinedRoom struct {
	Type   string            `json:"type"`
	RoomID domain.RoomID     `json:"roomId"`
	UserID domain.Identity   `json:"userId"`
	Users  []domain.Identity `json:"users"`
}

type UserJoined struct {
	Type   string            `json:"type"`
	UserID domain.Identity   `json:"userId"`
	Users  []domain.Identity `json:"users"`
}

type UserLeft struct {
	Type   string          `json:"type"`
	UserID domain.Identity `json:"userId"`
	Reason string          `json:"reason"`
}

type ReceiveOffer struct {
	Type     string          `json:"type"`
	FromUser domain.Identity `json:"fromUser"`
	Offer    json.RawMessage `json:"offer"`
}

type ReceiveAnswer struct {
	Type     string          `json:"type"`
	FromUser domain.Identity `json:"fromUser"`
	Answer   json.RawMessage `json:"answer"`
}

type ReceiveCandidate struct {
	Type      string          `json:"type"`
	FromUser  domain.Identity `json:"fromUser"`
	Candidate json.RawMessage `json:"candidate"`
}

type ReceiveMessage struct {
	Type      string          `json:"type"`
	SenderID  domain.Identity `json:"senderId"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

type Kicked struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Banned struct {
	Type      string     `json:"type"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type RoomClosed struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	EventRoomCreated      = "room-created"
	EventJoinedRoom       = "joined-room"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventReceiveOffer     = "receive-offer"
	EventReceiveAnswer    = "receive-answer"
	EventReceiveCandidate = "receive-ice-candidate"
	EventReceiveMessage   = "receive-message"
	EventKicked           = "kicked"
	EventBanned           = "banned"
	EventRoomClosed       = "room-closed"
	EventError            = "error"
)

// Marshal serializes an event payload into a Frame.
func Marshal(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

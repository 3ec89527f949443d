package domain

import "errors"

const (
	MinRoomIDLen   = 3
	MaxRoomIDLen   = 50
	MinIdentityLen = 1
	MaxIdentityLen = 50
	MaxChatTextLen = 1000
)

var (
	ErrRoomIDInvalid      = errors.New("room id must be 3-50 chars of [A-Za-z0-9_-]")
	ErrIdentityInvalid    = errors.New("identity must be 1-50 chars of [A-Za-z0-9_-]")
	ErrCapacityOutOfRange = errors.New("room capacity must be between 2 and 50")
	ErrChatTextEmpty      = errors.New("message text empty")
	ErrChatTextTooLong    = errors.New("message text exceeds 1000 characters")
)

func identifierCharset(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func ValidateRoomID(id RoomID) error {
	if len(id) < MinRoomIDLen || len(id) > MaxRoomIDLen || !identifierCharset(string(id)) {
		return ErrRoomIDInvalid
	}
	return nil
}

func ValidateIdentity(id Identity) error {
	if len(id) < MinIdentityLen || len(id) > MaxIdentityLen || !identifierCharset(string(id)) {
		return ErrIdentityInvalid
	}
	return nil
}

// ValidateChatText bounds chat input before any persistence or fan-out.
// Length is counted in runes so multibyte text is not over-rejected.
func ValidateChatText(text string) error {
	if text == "" {
		return ErrChatTextEmpty
	}
	n := 0
	for range text {
		n++
		if n > MaxChatTextLen {
			return ErrChatTextTooLong
		}
	}
	return nil
}

// IsIdentifierChar reports whether c is allowed in room ids and
// identities. Exposed for the HTTP layer's custom binding rule.
func IsIdentifierChar(c byte) bool {
	return identifierCharset(string(c))
}

package core

// Frame is one serialized outbound event.
type Frame []byte

// SessionID identifies one transport connection, not a participant.
type SessionID string

// SignalConn abstracts the per-participant ordered channel.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend enqueues a frame without blocking. A full queue or a
	// closed connection returns an error; the caller decides whether
	// that matters.
	TrySend(Frame) error
	Close()
}

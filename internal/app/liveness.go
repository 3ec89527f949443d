package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"callroom/internal/core"
)

// watch is one armed inactivity deadline. gen increments on every
// re-arm; a fired timer carrying a stale gen lost the race to a reset
// and must not evict.
type watch struct {
	timer *time.Timer
	gen   uint64
}

// Liveness runs one inactivity timer per connected transport. Every
// inbound event that implies liveness re-arms the timer; expiry without
// a reset evicts through the same departure path as an explicit leave.
// Expiry is terminal for the transport; only a fresh admission starts a
// new watch.
type Liveness struct {
	window time.Duration
	evict  func(sid core.SessionID)

	mu      sync.Mutex
	watches map[core.SessionID]*watch
}

func NewLiveness(window time.Duration, evict func(sid core.SessionID)) *Liveness {
	return &Liveness{
		window:  window,
		evict:   evict,
		watches: make(map[core.SessionID]*watch),
	}
}

// armLocked replaces the sid's timer with a fresh one. The expiry
// callback captures the generation it was armed with, so a callback
// already in flight from a previous deadline cannot evict a transport
// that was touched in the meantime.
func (s *Liveness) armLocked(sid core.SessionID) {
	w, ok := s.watches[sid]
	if ok {
		w.timer.Stop()
		w.gen++
	} else {
		w = &watch{}
		s.watches[sid] = w
	}
	gen := w.gen
	w.timer = time.AfterFunc(s.window, func() { s.expire(sid, gen) })
}

// Watch arms (or re-arms) the timer for a transport.
func (s *Liveness) Watch(sid core.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(sid)
}

// Touch re-arms the timer if the transport is being watched. Unknown
// sids are ignored: a transport that already expired stays expired.
func (s *Liveness) Touch(sid core.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[sid]; ok {
		s.armLocked(sid)
	}
}

// Forget stops supervision, e.g. on graceful leave or disconnect.
func (s *Liveness) Forget(sid core.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[sid]; ok {
		w.timer.Stop()
		delete(s.watches, sid)
	}
}

func (s *Liveness) expire(sid core.SessionID, gen uint64) {
	s.mu.Lock()
	w, ok := s.watches[sid]
	if !ok || w.gen != gen {
		// Forget or a re-arm won the race; this deadline is stale.
		s.mu.Unlock()
		return
	}
	delete(s.watches, sid)
	s.mu.Unlock()
	log.Info().Str("module", "app.liveness").Str("sid", string(sid)).Msg("transport expired")
	s.evict(sid)
}

package app

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"callroom/internal/core"
)

func TestLiveness_TouchDuringExpiryIsHonored(t *testing.T) {
	req := require.New(t)
	var evicted atomic.Int32
	lv := NewLiveness(time.Millisecond, func(core.SessionID) { evicted.Add(1) })
	lv.Watch("sid-1")

	// Hammer Touch across many expiry instants. A deadline firing
	// concurrently with a reset must lose: a transport that just
	// signalled activity is alive by definition.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		lv.Touch("sid-1")
	}
	req.Zero(evicted.Load())

	// With the activity gone, the next deadline is real.
	req.Eventually(func() bool { return evicted.Load() == 1 }, time.Second, time.Millisecond)

	// Expired is terminal: Touch does not re-arm.
	lv.Touch("sid-1")
	time.Sleep(10 * time.Millisecond)
	req.Equal(int32(1), evicted.Load())
}

func TestLiveness_ForgetStopsSupervision(t *testing.T) {
	req := require.New(t)
	var evicted atomic.Int32
	lv := NewLiveness(5*time.Millisecond, func(core.SessionID) { evicted.Add(1) })

	lv.Watch("sid-1")
	lv.Forget("sid-1")
	time.Sleep(20 * time.Millisecond)
	req.Zero(evicted.Load())

	// A fresh admission restarts the watch from scratch.
	lv.Watch("sid-1")
	req.Eventually(func() bool { return evicted.Load() == 1 }, time.Second, time.Millisecond)
}

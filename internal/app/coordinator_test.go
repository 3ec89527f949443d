package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"callroom/internal/core"
	"callroom/internal/domain"
	"callroom/internal/obfuscate"
	"callroom/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, e := range c.events(t) {
		if e["type"] == typ {
			found = e
		}
	}
	return found
}

func newTestCoordinator(window time.Duration) (*Coordinator, *store.Memory) {
	st := store.NewMemory()
	return NewCoordinator(st, window), st
}

func createRoom(t *testing.T, c *Coordinator, roomID domain.RoomID, capacity int, owner domain.Identity) {
	t.Helper()
	_, err := c.CreateRoom(context.Background(), CreateRoomParams{
		RoomID:   roomID,
		Capacity: capacity,
		Owner:    owner,
	})
	require.NoError(t, err)
}

func TestJoin_AssignsIdentitiesAndAnnounces(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 2, "user1")

	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}

	res1, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	req.Equal(domain.Identity("user1"), res1.Identity)
	req.Equal([]domain.Identity{"user1"}, res1.Users)

	res2, err := coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)
	req.Equal(domain.Identity("user2"), res2.Identity)
	req.ElementsMatch([]domain.Identity{"user1", "user2"}, res2.Users)

	// The first member hears about the second; the second member gets
	// no announcement about itself.
	joined := c1.lastOfType(t, "user-joined")
	req.NotNil(joined)
	req.Equal("user2", joined["userId"])
	req.Nil(c2.lastOfType(t, "user-joined"))

	_, err = coord.Join(ctx, "sid-3", c3, "call-1", "")
	req.ErrorIs(err, ErrRoomFull)
}

func TestJoin_UnknownRoom(t *testing.T) {
	req := require.New(t)
	coord, _ := newTestCoordinator(time.Minute)

	_, err := coord.Join(context.Background(), "sid-1", &fakeConn{}, "nope-1", "")
	req.ErrorIs(err, ErrNotFound)
}

func TestJoin_ReconnectReplacesTransport(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 2, "user1")

	c1, c2, c1b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "user1")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "user2")
	req.NoError(err)

	// Full room: a reconnect under the same identity must still pass.
	res, err := coord.Join(ctx, "sid-1b", c1b, "call-1", "user1")
	req.NoError(err)
	req.Equal(domain.Identity("user1"), res.Identity)
	req.True(c1.isClosed())

	conn, ok := coord.Ledger().Resolve("call-1", "user1")
	req.True(ok)
	req.Same(c1b, conn)
}

func TestLeave_AnnouncesDeparture(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	coord.Leave(ctx, "sid-2")

	left := c1.lastOfType(t, "user-left")
	req.NotNil(left)
	req.Equal("user2", left["userId"])
	req.Equal("left", left["reason"])
	req.Equal([]domain.Identity{"user1"}, coord.Ledger().Connected("call-1"))

	// Leaving twice is a no-op, not a failure.
	coord.Leave(ctx, "sid-2")
}

func TestRelay_DeliversTypedEventAndAudits(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, st := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	offer := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	req.NoError(coord.Relay(ctx, "sid-1", "call-1", domain.SignalOffer, "user2", offer))

	got := c2.lastOfType(t, "receive-offer")
	req.NotNil(got)
	req.Equal("user1", got["fromUser"])
	req.Equal("v=0...", got["offer"].(map[string]any)["sdp"])

	req.Eventually(func() bool {
		return len(st.SignalRecords()) == 1
	}, time.Second, 10*time.Millisecond)
	rec := st.SignalRecords()[0]
	req.Equal(domain.SignalOffer, rec.Kind)
	req.Equal(domain.Identity("user1"), rec.From)
	req.Equal(domain.Identity("user2"), rec.To)
}

func TestRelay_SilentDropToAbsentPeer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1 := &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)

	// Target never joined: the relay succeeds and nothing comes back.
	err = coord.Relay(ctx, "sid-1", "call-1", domain.SignalAnswer, "user9", json.RawMessage(`{}`))
	req.NoError(err)
	req.Nil(c1.lastOfType(t, "error"))
	req.Nil(c1.lastOfType(t, "receive-answer"))
}

func TestRelay_RequiresTransportBinding(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")
	createRoom(t, coord, "call-2", 4, "user1")

	// Never joined.
	err := coord.Relay(ctx, "sid-x", "call-1", domain.SignalOffer, "user1", json.RawMessage(`{}`))
	req.ErrorIs(err, ErrUnauthorized)

	// Bound to a different room.
	_, err = coord.Join(ctx, "sid-1", &fakeConn{}, "call-2", "")
	req.NoError(err)
	err = coord.Relay(ctx, "sid-1", "call-1", domain.SignalOffer, "user1", json.RawMessage(`{}`))
	req.ErrorIs(err, ErrUnauthorized)
}

func TestSendMessage_ObfuscatesAndFansOutToAll(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	req.NoError(coord.SendMessage(ctx, "sid-1", "call-1", "hello there"))

	for _, c := range []*fakeConn{c1, c2} {
		got := c.lastOfType(t, "receive-message")
		req.NotNil(got)
		req.Equal("user1", got["senderId"])
		wire := got["text"].(string)
		req.NotEqual("hello there", wire)
		plain, err := obfuscate.Reverse(wire)
		req.NoError(err)
		req.Equal("hello there", plain)
	}
}

func TestSendMessage_RejectsOversizeWithoutFanOut(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, st := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}
	err = coord.SendMessage(ctx, "sid-1", "call-1", string(long))
	req.ErrorIs(err, ErrValidation)

	req.Nil(c2.lastOfType(t, "receive-message"))
	msgs, total, err := st.ListMessages(ctx, "call-1", 10, 0)
	req.NoError(err)
	req.Empty(msgs)
	req.Zero(total)
}

func TestKick_NotifiesEvictsAndAnnounces(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "user1")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "user2")
	req.NoError(err)

	req.NoError(coord.Kick(ctx, "call-1", "user1", "user2"))

	req.NotNil(c2.lastOfType(t, "kicked"))
	req.True(c2.isClosed())
	left := c1.lastOfType(t, "user-left")
	req.NotNil(left)
	req.Equal("user2", left["userId"])
	req.Equal("kicked", left["reason"])

	// Kicked is not banned: rejoining works.
	_, err = coord.Join(ctx, "sid-2b", &fakeConn{}, "call-1", "user2")
	req.NoError(err)
}

func TestKick_AuthorizationAndMissingTarget(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	_, err := coord.Join(ctx, "sid-1", &fakeConn{}, "call-1", "user1")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", &fakeConn{}, "call-1", "user2")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-3", &fakeConn{}, "call-1", "user3")
	req.NoError(err)

	req.ErrorIs(coord.Kick(ctx, "call-1", "user2", "user3"), ErrForbidden)

	req.NoError(coord.GrantModerator(ctx, "call-1", "user1", "user2", nil))
	req.NoError(coord.Kick(ctx, "call-1", "user2", "user3"))

	req.ErrorIs(coord.Kick(ctx, "call-1", "user1", "ghost"), ErrNotFound)
}

func TestBan_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "user1")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "user2")
	req.NoError(err)

	ban, err := coord.Ban(ctx, "call-1", "user1", "user2", "spamming", time.Hour)
	req.NoError(err)
	req.NotNil(ban.ExpiresAt)

	banned := c2.lastOfType(t, "banned")
	req.NotNil(banned)
	req.Equal("spamming", banned["reason"])
	req.NotNil(banned["expiresAt"])
	req.True(c2.isClosed())

	left := c1.lastOfType(t, "user-left")
	req.NotNil(left)
	req.Equal("banned", left["reason"])

	// The ban holds on re-admission.
	_, err = coord.Join(ctx, "sid-2b", &fakeConn{}, "call-1", "user2")
	var banErr *BanError
	req.ErrorAs(err, &banErr)
	req.Equal("spamming", banErr.Reason)

	// Lifting it restores access.
	req.NoError(coord.Unban(ctx, "call-1", "user1", "user2"))
	_, err = coord.Join(ctx, "sid-2c", &fakeConn{}, "call-1", "user2")
	req.NoError(err)
}

func TestBan_DisconnectedTargetStillRecorded(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	_, err := coord.Join(ctx, "sid-1", &fakeConn{}, "call-1", "user1")
	req.NoError(err)

	// Target is offline; the record is written anyway and blocks the
	// next join attempt.
	_, err = coord.Ban(ctx, "call-1", "user1", "user9", "", 0)
	req.NoError(err)

	_, err = coord.Join(ctx, "sid-9", &fakeConn{}, "call-1", "user9")
	var banErr *BanError
	req.ErrorAs(err, &banErr)
}

func TestUnban_OwnerOnly(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")
	req.NoError(coord.GrantModerator(ctx, "call-1", "user1", "user2", nil))

	_, err := coord.Ban(ctx, "call-1", "user1", "user9", "", 0)
	req.NoError(err)

	req.ErrorIs(coord.Unban(ctx, "call-1", "user2", "user9"), ErrForbidden)
	req.NoError(coord.Unban(ctx, "call-1", "user1", "user9"))
}

func TestLiveness_EvictsSilentTransport(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(40 * time.Millisecond)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	// Keep the first transport active past the second one's deadline.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && !c2.isClosed() {
		req.NoError(coord.SendMessage(ctx, "sid-1", "call-1", "ping"))
		time.Sleep(10 * time.Millisecond)
	}

	req.Eventually(c2.isClosed, time.Second, 10*time.Millisecond)
	req.Eventually(func() bool {
		left := c1.lastOfType(t, "user-left")
		return left != nil && left["reason"] == "timeout"
	}, time.Second, 10*time.Millisecond)
	req.Equal([]domain.Identity{"user1"}, coord.Ledger().Connected("call-1"))
}

func TestCloseRoom_BroadcastsAndFreesID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := coord.Join(ctx, "sid-1", c1, "call-1", "")
	req.NoError(err)
	_, err = coord.Join(ctx, "sid-2", c2, "call-1", "")
	req.NoError(err)

	req.NoError(coord.CloseRoom(ctx, "call-1"))

	req.NotNil(c1.lastOfType(t, "room-closed"))
	req.NotNil(c2.lastOfType(t, "room-closed"))
	req.True(c1.isClosed())
	req.True(c2.isClosed())
	req.Empty(coord.Ledger().Connected("call-1"))

	_, err = coord.RoomInfo(ctx, "call-1")
	req.ErrorIs(err, ErrNotFound)

	// The identifier is reusable once the room is inactive.
	createRoom(t, coord, "call-1", 4, "user1")
}

func TestCreateRoom_DuplicateAndGeneratedIDs(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)

	createRoom(t, coord, "call-1", 4, "user1")
	_, err := coord.CreateRoom(ctx, CreateRoomParams{RoomID: "call-1", Capacity: 4})
	req.ErrorIs(err, ErrConflict)

	room, err := coord.CreateRoom(ctx, CreateRoomParams{Capacity: 4})
	req.NoError(err)
	req.Len(string(room.RoomID), 6)
	req.NoError(domain.ValidateRoomID(room.RoomID))
}

func TestUpdateSettings_Permissions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _ := newTestCoordinator(time.Minute)
	createRoom(t, coord, "call-1", 4, "user1")

	capacity := 8
	_, err := coord.UpdateSettings(ctx, "call-1", "user2", SettingsUpdate{Capacity: &capacity})
	req.ErrorIs(err, ErrForbidden)

	// Default moderator permissions do not include settings changes.
	req.NoError(coord.GrantModerator(ctx, "call-1", "user1", "user2", nil))
	_, err = coord.UpdateSettings(ctx, "call-1", "user2", SettingsUpdate{Capacity: &capacity})
	req.ErrorIs(err, ErrForbidden)

	perms := domain.DefaultPermissions()
	perms.CanChangeSettings = true
	req.NoError(coord.GrantModerator(ctx, "call-1", "user1", "user2", &perms))
	room, err := coord.UpdateSettings(ctx, "call-1", "user2", SettingsUpdate{Capacity: &capacity})
	req.NoError(err)
	req.Equal(8, room.MaxMembers)

	bad := 1
	_, err = coord.UpdateSettings(ctx, "call-1", "user1", SettingsUpdate{Capacity: &bad})
	req.ErrorIs(err, ErrValidation)
}

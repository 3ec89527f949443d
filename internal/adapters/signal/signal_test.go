package signal_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	router "callroom/internal/adapters/http"
	"callroom/internal/app"
	"callroom/internal/config"
	"callroom/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Coordinator) {
	t.Helper()
	cfg := &config.Config{Mode: "release", SendQueue: 32, LivenessWindow: time.Minute}
	coord := app.NewCoordinator(store.NewMemory(), cfg.LivenessWindow)
	srv := httptest.NewServer(router.SetupRouter(context.Background(), cfg, coord))
	t.Cleanup(srv.Close)
	return srv, coord
}

func dialSignal(t *testing.T, srv *httptest.Server, clientToken string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	header := http.Header{"Cookie": {"ct=" + clientToken}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

// readEventOfType skips unrelated frames (e.g. presence broadcasts)
// until the wanted event arrives.
func readEventOfType(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		if m := readEvent(t, ws); m["type"] == typ {
			return m
		}
	}
	t.Fatalf("event %q never arrived", typ)
	return nil
}

func TestSignal_CreateJoinRelayMessageFlow(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	ws1 := dialSignal(t, srv, "client-1")
	req.NoError(ws1.WriteJSON(map[string]any{
		"type":       "create-room",
		"roomId":     "call-1",
		"userId":     "user1",
		"maxMembers": 4,
	}))
	created := readEventOfType(t, ws1, "room-created")
	req.Equal("call-1", created["roomId"])
	req.Equal("user1", created["userId"])

	ws2 := dialSignal(t, srv, "client-2")
	req.NoError(ws2.WriteJSON(map[string]any{"type": "join-room", "roomId": "call-1"}))
	joined := readEventOfType(t, ws2, "joined-room")
	req.Equal("user2", joined["userId"])
	req.ElementsMatch([]any{"user1", "user2"}, joined["users"])
	arrival := readEventOfType(t, ws1, "user-joined")
	req.Equal("user2", arrival["userId"])

	// Handshake relay lands only on the addressee.
	req.NoError(ws2.WriteJSON(map[string]any{
		"type":   "send-offer",
		"roomId": "call-1",
		"toUser": "user1",
		"offer":  map[string]any{"sdp": "v=0...", "type": "offer"},
	}))
	offer := readEventOfType(t, ws1, "receive-offer")
	req.Equal("user2", offer["fromUser"])
	req.Equal("v=0...", offer["offer"].(map[string]any)["sdp"])

	// Chat reaches everyone, sender included, in obfuscated form.
	req.NoError(ws1.WriteJSON(map[string]any{
		"type":   "send-message",
		"roomId": "call-1",
		"text":   "hello",
	}))
	for _, ws := range []*websocket.Conn{ws1, ws2} {
		msg := readEventOfType(t, ws, "receive-message")
		req.Equal("user1", msg["senderId"])
		req.NotEqual("hello", msg["text"])
		req.Regexp(`^[1-9]:`, msg["text"])
	}
}

func TestSignal_JoinUnknownRoomReportsError(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	ws := dialSignal(t, srv, "client-1")
	req.NoError(ws.WriteJSON(map[string]any{"type": "join-room", "roomId": "ghost-1"}))
	errEvent := readEventOfType(t, ws, "error")
	req.Equal("room not found", errEvent["message"])
}

func TestSignal_RelayWithoutJoinReportsError(t *testing.T) {
	req := require.New(t)
	srv, coord := newTestServer(t)
	_, err := coord.CreateRoom(context.Background(), app.CreateRoomParams{RoomID: "call-1", Capacity: 4, Owner: "user1"})
	req.NoError(err)

	ws := dialSignal(t, srv, "client-1")
	req.NoError(ws.WriteJSON(map[string]any{
		"type":   "send-offer",
		"roomId": "call-1",
		"toUser": "user1",
		"offer":  map[string]any{"sdp": "x"},
	}))
	errEvent := readEventOfType(t, ws, "error")
	req.Equal("not a member of this room", errEvent["message"])
}

func TestSignal_DisconnectAnnouncesDeparture(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	ws1 := dialSignal(t, srv, "client-1")
	req.NoError(ws1.WriteJSON(map[string]any{"type": "create-room", "roomId": "call-1", "maxMembers": 4}))
	readEventOfType(t, ws1, "room-created")

	ws2 := dialSignal(t, srv, "client-2")
	req.NoError(ws2.WriteJSON(map[string]any{"type": "join-room", "roomId": "call-1"}))
	readEventOfType(t, ws2, "joined-room")

	req.NoError(ws2.Close())

	left := readEventOfType(t, ws1, "user-left")
	req.Equal("user2", left["userId"])
	req.Equal("left", left["reason"])
}

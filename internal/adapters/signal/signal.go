// Package signal is the WebSocket transport for the call coordinator.
// One upgraded connection per client token; frames carry JSON envelopes
// dispatched on their "type" field.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"callroom/internal/app"
	"callroom/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Coord *app.Coordinator
}

func NewSignalWSController(coord *app.Coordinator) *SignalWSController {
	return &SignalWSController{Coord: coord}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the read/write pumps for
// the lifetime of the socket. The session id is the client token cookie
// set by the HTTP layer.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, sendQueue int, readLimit int64) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueue),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

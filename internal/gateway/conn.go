package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"plazaviva.org/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to the peer with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size in bytes.
	maxMessageSize = 64 * 1024
	// Outbound buffer per connection; sends beyond it are dropped.
	sendBuffer = 32
)

// wsConn adapts a websocket to session.Conn. Send never blocks: a slow
// consumer loses events rather than stalling the fan-out, the same policy the
// whole real-time layer follows.
type wsConn struct {
	id   string
	sock *websocket.Conn
	log  *zap.SugaredLogger

	out       chan session.Event
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(id string, sock *websocket.Conn, log *zap.SugaredLogger) *wsConn {
	return &wsConn{
		id:     id,
		sock:   sock,
		log:    log,
		out:    make(chan session.Event, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(evt session.Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- evt:
		return true
	case <-c.closed:
		return false
	default:
		c.log.Warnw("outbound event dropped, slow consumer",
			"connection_id", c.id, "event", evt.Name)
		return false
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.sock.Close()
	})
}

// writePump serializes all writes to the socket: queued events plus the
// keep-alive pings the transport uses to detect dead peers.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case evt := <-c.out:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

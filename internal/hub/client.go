package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// client is one member's websocket attachment to a room.
type client struct {
	ws   *websocket.Conn
	send chan []byte

	room string
	name string

	mu     sync.Mutex
	closed bool
}

func newClient(ws *websocket.Conn, room, name string) *client {
	return &client{
		ws:   ws,
		send: make(chan []byte, 32),
		room: room,
		name: name,
	}
}

func (c *client) trySend(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *client) writePump(writeTimeout time.Duration) {
	for frame := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Error().Err(err).Str("module", "hub").Str("name", c.name).Msg("writePump write error")
			return
		}
	}
}

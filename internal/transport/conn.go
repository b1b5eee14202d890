// Package transport owns the websocket connection of one room session:
// dialing, the buffered outbound pump, and in-order inbound delivery.
package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Options tune one connection. Zero values fall back to the defaults below.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	SendBuffer       int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = 32768
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = 32
	}
	return o
}

// Conn is one room's exclusive transport handle. Frames read off the socket
// are delivered on Inbound in arrival order; the channel closes when the
// socket dies, however uncleanly.
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	inbound chan []byte
	done    chan struct{}
	opts    Options

	mu     sync.Mutex
	closed bool
}

// Dial opens the room's websocket. The hub addresses connections by room id
// and display name, with the (already independently verified) password as a
// query parameter so the server can check it again on its side.
func Dial(ctx context.Context, baseURL, roomID, displayName, password string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	endpoint, err := wsEndpoint(baseURL, roomID, displayName, password)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(opts.ReadLimit)

	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, opts.SendBuffer),
		inbound: make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		opts:    opts,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func wsEndpoint(baseURL, roomID, displayName, password string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(roomID) + "/" + url.PathEscape(displayName)
	q := u.Query()
	q.Set("pwd", password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TrySend queues one frame without blocking. A full buffer returns
// ErrBackpressure rather than stalling the caller.
func (c *Conn) TrySend(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Inbound returns the in-order frame stream. It is closed when the socket is.
func (c *Conn) Inbound() <-chan []byte {
	return c.inbound
}

// Close is idempotent and safe from any goroutine.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *Conn) writePump() {
	for frame := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			log.Error().Err(err).Str("module", "transport").Msg("writePump set deadline")
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Error().Err(err).Str("module", "transport").Msg("writePump write error")
			return
		}
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.inbound)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "transport").Msg("readPump unclean close")
			}
			return
		}
		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

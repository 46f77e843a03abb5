// Package ws adapts gorilla/websocket connections to realtime.Transport.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/realtime"
)

const (
	// maxMessageSize caps inbound frames; clients only send heartbeats.
	maxMessageSize = 4096

	DefaultWriteWait  = 10 * time.Second
	DefaultSendBuffer = 32

	// closeGrace bounds how long Close tries to send a close frame.
	closeGrace = time.Second
)

// Options tunes a Conn.
type Options struct {
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	return o
}

type frame struct {
	msg  []byte
	done func(error)
}

// Conn is one WebSocket client. All data frames go through a single writer
// goroutine; pings use WriteControl, which gorilla allows concurrently.
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	send      chan frame

	mu      sync.Mutex // guards closed and pushes onto send
	closed  bool
	closing chan struct{}

	awaitingPong atomic.Bool
	writerDone   chan struct{}
}

// New wraps an upgraded connection and starts its writer.
func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:         ws,
		writeWait:  opts.WriteWait,
		send:       make(chan frame, opts.SendBuffer),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		c.awaitingPong.Store(false)
		return nil
	})
	go c.writeLoop()
	return c
}

// NewUpgrader returns an upgrader accepting the given origins. "*" or an
// empty list accepts any origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// Send queues msg for the writer. A full buffer means the client is not
// keeping up; the connection is closed so the user recovers via replay.
func (c *Conn) Send(msg []byte, done func(error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrTransportClosed
	}
	select {
	case c.send <- frame{msg: msg, done: done}:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	log.Warn().Str("remote", c.ws.RemoteAddr().String()).Msg("websocket send buffer full, closing connection")
	// Close can wait on the stalled writer; Send must return right away.
	go c.Close()
	return realtime.ErrSendBufferFull
}

// Probe fails if the previous ping was never answered, otherwise sends a new one.
func (c *Conn) Probe() error {
	if c.Closed() {
		return realtime.ErrTransportClosed
	}
	if c.awaitingPong.Swap(true) {
		return realtime.ErrNoPong
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a close frame and tears down the socket. Queued frames are
// completed with ErrTransportClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closing)
	c.mu.Unlock()

	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(min(c.writeWait, closeGrace)),
	)
	err := c.ws.Close()
	<-c.writerDone
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ReadLoop consumes inbound frames until the connection fails or closes.
// Pongs are handled by gorilla during reads, so this must run for Probe to
// see answers. Application-level {"type":"ping"} gets {"type":"pong"}.
func (c *Conn) ReadLoop() error {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.Closed() {
				return nil
			}
			return err
		}

		var in struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed websocket message")
			continue
		}
		if in.Type == "ping" {
			if err := c.Send(pongFrame, nil); err != nil {
				return err
			}
		}
	}
}

var pongFrame = []byte(`{"type":"pong"}`)

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case f := <-c.send:
			err := c.write(f.msg)
			if f.done != nil {
				f.done(err)
			}
			if err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				go c.Close()
				c.drain(err)
				return
			}
		case <-c.closing:
			c.drain(realtime.ErrTransportClosed)
			return
		}
	}
}

func (c *Conn) write(msg []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// drain fails every frame still queued. Once closing is closed no new frames
// can be pushed, so this terminates.
func (c *Conn) drain(cause error) {
	if !errors.Is(cause, realtime.ErrTransportClosed) {
		<-c.closing
	}
	for {
		select {
		case f := <-c.send:
			if f.done != nil {
				f.done(realtime.ErrTransportClosed)
			}
		default:
			return
		}
	}
}

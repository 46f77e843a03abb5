package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/realtime"
)

type sseFrame struct {
	msg  []byte
	done func(error)
}

// sseTransport is a realtime.Transport over a text/event-stream response.
// serve owns the response writer; everything else only queues.
type sseTransport struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	writeWait time.Duration

	send      chan sseFrame
	heartbeat chan struct{}
	awaiting  atomic.Bool

	mu      sync.Mutex // guards closed, pushes onto send and write deadlines
	closed  bool
	closing chan struct{}
}

func newSSETransport(w http.ResponseWriter, buffer int, writeWait time.Duration) *sseTransport {
	if buffer <= 0 {
		buffer = 32
	}
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &sseTransport{
		w:         w,
		rc:        http.NewResponseController(w),
		writeWait: writeWait,
		send:      make(chan sseFrame, buffer),
		heartbeat: make(chan struct{}, 1),
		closing:   make(chan struct{}),
	}
}

func (t *sseTransport) Send(msg []byte, done func(error)) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return realtime.ErrTransportClosed
	}
	select {
	case t.send <- sseFrame{msg: msg, done: done}:
		t.mu.Unlock()
		return nil
	default:
	}
	t.mu.Unlock()
	go t.Close()
	return realtime.ErrSendBufferFull
}

// Probe queues a heartbeat comment. SSE has no client reply, so the previous
// heartbeat having been written is what counts as an answer.
func (t *sseTransport) Probe() error {
	if t.isClosed() {
		return realtime.ErrTransportClosed
	}
	if t.awaiting.Swap(true) {
		return realtime.ErrNoPong
	}
	select {
	case t.heartbeat <- struct{}{}:
	default:
	}
	return nil
}

// Close stops serve. A write blocked on a stalled client is failed by moving
// the write deadline to now.
func (t *sseTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closing)
	if err := t.rc.SetWriteDeadline(time.Now()); err != nil {
		log.Debug().Err(err).Msg("sse: cannot set write deadline")
	}
	return nil
}

func (t *sseTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// armWrite gives the next write writeWait to finish. It reports false once
// Close has run, so it never pushes back the deadline Close set.
func (t *sseTransport) armWrite() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	_ = t.rc.SetWriteDeadline(time.Now().Add(t.writeWait))
	return true
}

// write sends one chunk and flushes it to the client.
func (t *sseTransport) write(format string, args ...any) error {
	if !t.armWrite() {
		return realtime.ErrTransportClosed
	}
	if _, err := fmt.Fprintf(t.w, format, args...); err != nil {
		return err
	}
	return t.rc.Flush()
}

// serve writes queued frames until the client goes away, the transport is
// closed or a write fails. Pending frames are then failed.
func (t *sseTransport) serve(ctx context.Context) {
	defer t.drain()
	for {
		select {
		case f := <-t.send:
			err := t.write("event: message\ndata: %s\n\n", f.msg)
			if f.done != nil {
				f.done(err)
			}
			if err != nil {
				_ = t.Close()
				return
			}
		case <-t.heartbeat:
			if err := t.write(": ping\n\n"); err != nil {
				_ = t.Close()
				return
			}
			t.awaiting.Store(false)
		case <-ctx.Done():
			_ = t.Close()
			return
		case <-t.closing:
			return
		}
	}
}

func (t *sseTransport) drain() {
	for {
		select {
		case f := <-t.send:
			if f.done != nil {
				f.done(realtime.ErrTransportClosed)
			}
		default:
			return
		}
	}
}

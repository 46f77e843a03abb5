package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/domain"
)

// DefaultDebounce is the delay between the first enqueue for a user and the flush of their batch.
const DefaultDebounce = 1500 * time.Millisecond

// Connections is the view of the Registry the Dispatcher needs.
type Connections interface {
	Lookup(userID string) (Transport, bool)
	Each(fn func(userID string, t Transport))
}

// DeliveryMarker records that notifications reached the client.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDelay overrides DefaultDebounce.
func WithDelay(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.delay = d
		}
	}
}

// WithDeliveryMarker marks pushed notifications delivered once their frame is written.
func WithDeliveryMarker(m DeliveryMarker, timeout time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.marker = m
		if timeout > 0 {
			disp.markTimeout = timeout
		}
	}
}

// pendingBatch exists only while its flush timer is armed.
type pendingBatch struct {
	items []domain.Notification
	timer *time.Timer
}

// userLock serializes one user's pushes. refs counts flushes holding or
// waiting for it; the entry is dropped at zero.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// Dispatcher coalesces per-user notifications into debounced batch pushes.
type Dispatcher struct {
	conns       Connections
	delay       time.Duration
	marker      DeliveryMarker
	markTimeout time.Duration

	// mu guards the maps only; it is never held across a transport call.
	mu      sync.Mutex
	pending map[string]*pendingBatch // userID -> batch
	sending map[string]*userLock
	stopped bool
}

// NewDispatcher creates a Dispatcher pushing through conns.
func NewDispatcher(conns Connections, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		conns:       conns,
		delay:       DefaultDebounce,
		markTimeout: 10 * time.Second,
		pending:     make(map[string]*pendingBatch),
		sending:     make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends n to the user's pending batch. The first enqueue for a user
// arms the flush timer; later ones only append and never push the flush back.
// The caller must have persisted n already.
func (d *Dispatcher) Enqueue(userID string, n domain.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if b, ok := d.pending[userID]; ok {
		b.items = append(b.items, n)
		return
	}

	b := &pendingBatch{items: []domain.Notification{n}}
	b.timer = time.AfterFunc(d.delay, func() { d.flush(userID, b) })
	d.pending[userID] = b
}

// flush swaps out the user's batch and pushes it to the live connection, if any.
// The swap happens under mu; the push happens under the user's own lock, so a
// slow transport holds up only its own user.
func (d *Dispatcher) flush(userID string, b *pendingBatch) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user", userID).Msg("notification flush panicked")
		}
	}()

	d.mu.Lock()
	if d.pending[userID] != b {
		// Stopped, or already flushed.
		d.mu.Unlock()
		return
	}
	delete(d.pending, userID)
	items := b.items
	lock := d.acquireUserLock(userID)
	d.mu.Unlock()

	lock.mu.Lock()
	defer d.releaseUserLock(userID, lock)

	d.push(userID, items)
}

func (d *Dispatcher) push(userID string, items []domain.Notification) {
	t, ok := d.conns.Lookup(userID)
	if !ok {
		log.Debug().Str("user", userID).Int("count", len(items)).Msg("no live connection, batch left for replay")
		return
	}

	msg, err := encodeBatch(items)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("encode notification batch")
		return
	}

	if err := t.Send(msg, d.onWritten(userID, domain.IDs(items))); err != nil {
		log.Warn().Err(err).Str("user", userID).Int("count", len(items)).Msg("push failed, batch left for replay")
		return
	}
	log.Debug().Str("user", userID).Int("count", len(items)).Msg("notification batch pushed")
}

// acquireUserLock must be called with mu held. Taking the reference in the
// same critical section as the swap keeps a user's batches in timer order.
func (d *Dispatcher) acquireUserLock(userID string) *userLock {
	l, ok := d.sending[userID]
	if !ok {
		l = &userLock{}
		d.sending[userID] = l
	}
	l.refs++
	return l
}

func (d *Dispatcher) releaseUserLock(userID string, l *userLock) {
	l.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.sending, userID)
	}
}

func (d *Dispatcher) onWritten(userID string, ids []uuid.UUID) func(error) {
	return func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("user", userID).Int("count", len(ids)).Msg("batch write failed, left for replay")
			return
		}
		if d.marker != nil {
			go d.markDelivered(userID, ids)
		}
	}
}

func (d *Dispatcher) markDelivered(userID string, ids []uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.markTimeout)
	defer cancel()

	if _, err := d.marker.MarkDelivered(ctx, ids); err != nil {
		log.Error().Err(err).Str("user", userID).Int("count", len(ids)).Msg("mark pushed notifications delivered")
	}
}

// Broadcast pushes n to every live connection right away and returns how
// many transports accepted it. Nothing is persisted or retried.
func (d *Dispatcher) Broadcast(n domain.Notification) int {
	msg, err := encodeNotification(n)
	if err != nil {
		log.Error().Err(err).Msg("encode broadcast notification")
		return 0
	}

	sent := 0
	d.conns.Each(func(userID string, t Transport) {
		if err := t.Send(msg, nil); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("broadcast send failed")
			return
		}
		sent++
	})
	return sent
}

// Pending returns the number of users with an armed flush timer.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop disarms every timer and drops pending batches. Later enqueues are ignored.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	dropped := 0
	for userID, b := range d.pending {
		b.timer.Stop()
		dropped += len(b.items)
		delete(d.pending, userID)
	}
	log.Info().Int("dropped", dropped).Msg("dispatcher stopped, pending batches left for replay")
}

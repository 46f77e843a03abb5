package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPingInterval is how often a registered connection is probed.
const DefaultPingInterval = 30 * time.Second

// Conn is a registered connection. It doubles as the handle passed to Remove.
type Conn struct {
	userID    string
	transport Transport
	since     time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// UserID returns the user the connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Transport returns the underlying transport.
func (c *Conn) Transport() Transport { return c.transport }

// shutdown stops the keep-alive probe and closes the transport.
func (c *Conn) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if err := c.transport.Close(); err != nil {
			log.Debug().Err(err).Str("user", c.userID).Msg("transport close")
		}
	})
}

// Registry tracks the single live connection per user.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn // userID -> conn

	pingInterval time.Duration
}

// NewRegistry creates a Registry probing each connection every pingInterval.
func NewRegistry(pingInterval time.Duration) *Registry {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Registry{
		conns:        make(map[string]*Conn),
		pingInterval: pingInterval,
	}
}

// Register installs t as the live connection for userID. Any previous
// connection for the same user is evicted and closed.
func (r *Registry) Register(userID string, t Transport) *Conn {
	c := &Conn{
		userID:    userID,
		transport: t,
		since:     time.Now(),
		stop:      make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = c
	r.mu.Unlock()

	if prev != nil {
		prev.shutdown()
		log.Info().Str("user", userID).Msg("previous connection evicted")
	}

	go r.keepAlive(c)

	log.Debug().Str("user", userID).Msg("connection registered")
	return c
}

// Remove unregisters c if it is still the user's live connection, then closes it.
// A connection already superseded by a newer Register is only closed.
func (r *Registry) Remove(c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	current, ok := r.conns[c.userID]
	if ok && current == c {
		delete(r.conns, c.userID)
	}
	r.mu.Unlock()

	c.shutdown()
	if ok && current == c {
		log.Debug().Str("user", c.userID).Dur("age", time.Since(c.since)).Msg("connection removed")
	}
}

// Lookup returns the live transport for userID, if any.
func (r *Registry) Lookup(userID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return c.transport, true
}

// Each calls fn for every live connection. fn runs outside the registry lock.
func (r *Registry) Each(fn func(userID string, t Transport)) {
	r.mu.RLock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c.userID, c.transport)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll removes and closes every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	log.Info().Int("closed", len(conns)).Msg("all connections closed")
}

// keepAlive probes c until it is shut down or a probe fails.
func (r *Registry) keepAlive(c *Conn) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.transport.Probe(); err != nil {
				log.Warn().Err(err).Str("user", c.userID).Msg("liveness probe failed, dropping connection")
				r.Remove(c)
				return
			}
		}
	}
}

package hub

import (
	"sync"

	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
)

// Registry is the authoritative in-process map from user id to live
// connection. Handlers run on real goroutines, so every access goes through
// the mutex. At most one connection per user exists at any instant;
// registering a second one supersedes and closes the first.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewRegistry(log *logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		log:     log,
		metrics: m,
	}
}

// Register inserts the connection, replacing and closing any prior connection
// for the same user (last-write-wins on reconnect). It always succeeds.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	prev := r.conns[c.UserID()]
	r.conns[c.UserID()] = c
	size := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
		if r.metrics != nil {
			r.metrics.ConnectionsReplaced.Inc()
		}
		r.log.WithField("user_id", c.UserID()).Debug("superseded previous connection")
	}
	r.setGauge(size)
}

// Lookup returns the live connection for userID, if any. It never blocks.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Unregister removes the user's connection if present. Idempotent.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.conns, userID)
	size := len(r.conns)
	r.mu.Unlock()
	r.setGauge(size)
}

// Release removes c only if it is still the registered connection for its
// user, so the teardown of a superseded connection never evicts the
// reconnect that replaced it. It reports whether c was removed.
func (r *Registry) Release(c Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[c.UserID()]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.UserID())
	size := len(r.conns)
	r.mu.Unlock()
	r.setGauge(size)
	return true
}

// ForEach calls fn for every live connection. It iterates a snapshot, so
// entries unregistered concurrently are simply skipped.
func (r *Registry) ForEach(fn func(Conn)) {
	r.mu.RLock()
	snapshot := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// SendToUser pushes an envelope to the user's live connection. It reports
// whether a live connection accepted the envelope; a send failure is treated
// as not delivered and is not surfaced further.
func (r *Registry) SendToUser(userID string, env contracts.Envelope) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	if err := c.Send(env); err != nil {
		r.log.WithError(err).WithField("user_id", userID).Debug("push to live connection failed")
		return false
	}
	return true
}

// Broadcast pushes an envelope to every live connection, best-effort.
func (r *Registry) Broadcast(env contracts.Envelope) {
	r.ForEach(func(c Conn) {
		if err := c.Send(env); err != nil {
			r.log.WithError(err).WithField("user_id", c.UserID()).Debug("broadcast send failed")
		}
	})
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and removes every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.setGauge(0)
}

func (r *Registry) setGauge(size int) {
	if r.metrics != nil {
		r.metrics.ConnectionsActive.Set(float64(size))
	}
}

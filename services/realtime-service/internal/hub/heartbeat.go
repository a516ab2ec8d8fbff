package hub

import (
	"context"
	"time"

	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
)

// DefaultHeartbeatInterval is a tunable default, not a hard contract.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat evicts unresponsive connections. On each tick a connection that
// has not answered the previous ping is closed and released; everyone else
// has their liveness flag cleared and receives a new ping. A connection
// therefore survives one missed pong but not two consecutive ones.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	onEvict  func(Conn)

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewHeartbeat(registry *Registry, interval time.Duration, log *logging.Logger, m *metrics.Metrics) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		log:      log,
		metrics:  m,
	}
}

// OnEvict registers a hook invoked after a connection is evicted, e.g. to
// drop its presence key.
func (h *Heartbeat) OnEvict(fn func(Conn)) {
	h.onEvict = fn
}

// Run ticks until ctx is cancelled. Cancel before tearing down the registry.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	ping := contracts.MustEnvelope(contracts.EventPing, nil)

	h.registry.ForEach(func(c Conn) {
		if !c.Alive() {
			h.evict(c)
			return
		}
		c.SetAlive(false)
		// A send failure means the socket died between ticks; treat it the
		// same as a missed pong.
		if err := c.Send(ping); err != nil {
			h.evict(c)
		}
	})
}

func (h *Heartbeat) evict(c Conn) {
	c.Close()
	if !h.registry.Release(c) {
		return
	}
	if h.metrics != nil {
		h.metrics.HeartbeatEvictions.Inc()
	}
	h.log.WithField("user_id", c.UserID()).Info("evicted unresponsive connection")
	if h.onEvict != nil {
		h.onEvict(c)
	}
}

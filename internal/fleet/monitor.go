package fleet

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

// Monitor is the liveness sweep: on every tick it demotes online nodes
// whose heartbeat has gone stale. It is the only writer of the offline
// transition and emits no commands. A missed demotion is retried on the
// next tick, so failures here are self-healing.
type Monitor struct {
	registry *Registry
	store    db.Store
	interval time.Duration
	timeout  time.Duration
	quit     chan struct{}
	done     chan struct{}
}

func NewMonitor(registry *Registry, store db.Store, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		store:    store,
		interval: interval,
		timeout:  timeout,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(time.Now())
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.quit)
	<-m.done
}

// Sweep demotes every online node whose last heartbeat is older than
// the timeout.
func (m *Monitor) Sweep(now time.Time) {
	for _, id := range m.registry.OnlineNodeIDs() {
		snap, ok := m.registry.Snapshot(id)
		if !ok || !snap.Online {
			continue
		}
		if now.Sub(snap.LastHeartbeat) <= m.timeout {
			continue
		}

		m.registry.MarkOffline(id)
		log.Warn().
			Int("node_id", id).
			Time("last_heartbeat", snap.LastHeartbeat).
			Msg("heartbeat stale, marking node offline")

		if err := m.store.SetNodeStatus(id, model.NodeOffline); err != nil {
			// retried next tick
			log.Error().Err(err).Int("node_id", id).Msg("offline status write failed")
		}
	}
}

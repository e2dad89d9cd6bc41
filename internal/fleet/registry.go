// Package fleet tracks the currently connected nodes: their command
// channel sessions, reported playback telemetry, and per-node
// transition bookkeeping used by the orchestrator.
package fleet

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

// Session is the per-node command channel handle held by the registry.
type Session interface {
	Send(msg protocol.ServerMessage) error
	Close() error
}

// Telemetry is one heartbeat's playback report.
type Telemetry struct {
	ContentID *int
	Position  *float64
	Duration  *float64
	Status    string
}

// Snapshot is a consistent per-node copy taken for sweep decisions so
// sweeps never act on partially-updated telemetry.
type Snapshot struct {
	NodeID        int
	Online        bool
	LastHeartbeat time.Time
	ContentID     *int
	Position      float64
	Duration      float64
	PlayerStatus  string

	HasDedup       bool
	DedupContentID *int
	DedupAt        time.Time
}

type transitionState struct {
	inFlight       bool
	hasDedup       bool
	dedupContentID *int
	dedupAt        time.Time
}

type entry struct {
	session       Session
	online        bool
	lastHeartbeat time.Time
	contentID     *int
	position      float64
	duration      float64
	playerStatus  string
	transition    transitionState
}

// Registry owns the connected-node table and its locking; callers only
// see atomic operations, never the table itself.
type Registry struct {
	mu    sync.RWMutex
	nodes map[int]*entry
	store db.Store
}

func NewRegistry(store db.Store) *Registry {
	return &Registry{
		nodes: make(map[int]*entry),
		store: store,
	}
}

// Register installs the session for a node. A duplicate registration
// under the same id closes the older session first (last-writer-wins):
// a node that reconnects before the dead socket is noticed must not
// leak the stale handle.
func (r *Registry) Register(nodeID int, sess Session) {
	r.mu.Lock()
	old := r.nodes[nodeID]
	var oldSession Session
	if old != nil {
		oldSession = old.session
	}
	r.nodes[nodeID] = &entry{
		session:       sess,
		online:        true,
		lastHeartbeat: time.Now(),
	}
	r.mu.Unlock()

	if oldSession != nil {
		log.Warn().Int("node_id", nodeID).Msg("duplicate connection, closing older session")
		_ = oldSession.Close()
	}
	log.Info().Int("node_id", nodeID).Msg("node registered")
}

// UpdateTelemetry applies a heartbeat report. The read loop is
// single-threaded per node, so reports land in receipt order. The
// persisted node row is updated outside the lock; a failed write only
// delays the stored view until the next heartbeat.
func (r *Registry) UpdateTelemetry(nodeID int, t Telemetry) {
	now := time.Now()

	r.mu.Lock()
	e, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.online = true
	e.lastHeartbeat = now
	e.contentID = t.ContentID
	e.playerStatus = t.Status
	if t.Position != nil {
		e.position = *t.Position
	} else {
		e.position = 0
	}
	if t.Duration != nil {
		e.duration = *t.Duration
	} else {
		e.duration = 0
	}
	r.mu.Unlock()

	if err := r.store.UpdateNodeTelemetry(nodeID, t.ContentID, t.Position, t.Duration, now); err != nil {
		log.Error().Err(err).Int("node_id", nodeID).Msg("telemetry write failed")
	}
}

// Lookup returns the node's session if it is currently registered.
func (r *Registry) Lookup(nodeID int) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Remove drops the node if sess is still its current session, clearing
// its transition state with it. A stale session's deferred Remove must
// not evict the connection that replaced it.
func (r *Registry) Remove(nodeID int, sess Session) {
	r.mu.Lock()
	e, ok := r.nodes[nodeID]
	if ok && (sess == nil || e.session == sess) {
		delete(r.nodes, nodeID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		log.Info().Int("node_id", nodeID).Msg("node removed from registry")
	}
}

// OnlineNodeIDs lists nodes the sweeps should visit.
func (r *Registry) OnlineNodeIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.nodes))
	for id, e := range r.nodes {
		if e.online {
			out = append(out, id)
		}
	}
	return out
}

// Snapshot copies one node's state under the lock.
func (r *Registry) Snapshot(nodeID int) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		NodeID:         nodeID,
		Online:         e.online,
		LastHeartbeat:  e.lastHeartbeat,
		ContentID:      e.contentID,
		Position:       e.position,
		Duration:       e.duration,
		PlayerStatus:   e.playerStatus,
		HasDedup:       e.transition.hasDedup,
		DedupContentID: e.transition.dedupContentID,
		DedupAt:        e.transition.dedupAt,
	}, true
}

// Snapshots copies the whole table, ordered by nothing in particular.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	ids := make([]int, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// MarkOffline flips the in-memory liveness flag. The liveness monitor
// is the only caller.
func (r *Registry) MarkOffline(nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.online = false
	}
}

// TryAcquireTransition takes the node's in-flight guard. Returns false
// when a transition is already being prepared, or the node is unknown.
func (r *Registry) TryAcquireTransition(nodeID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok || e.transition.inFlight {
		return false
	}
	e.transition.inFlight = true
	return true
}

// ReleaseTransition drops the in-flight guard. Safe to call after the
// node was removed.
func (r *Registry) ReleaseTransition(nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.transition.inFlight = false
	}
}

// SetDedup records the dedup key for a node. Written synchronously at
// trigger time, before any slow external call.
func (r *Registry) SetDedup(nodeID int, contentID *int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.transition.hasDedup = true
		e.transition.dedupContentID = contentID
		e.transition.dedupAt = at
	}
}

// StatusString maps the in-memory liveness flag onto the persisted
// node status vocabulary.
func (s Snapshot) StatusString() string {
	if s.Online {
		return model.NodeOnline
	}
	return model.NodeOffline
}

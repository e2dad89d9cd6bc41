// Package orchestrator runs the transition sweep: deciding, per online
// node, whether the next item should start preparing, and dispatching
// the handoff command at the right instant.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/config"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
	"github.com/Nixie-Tech-LLC/chorus/internal/timeline"
)

type Orchestrator struct {
	registry *fleet.Registry
	store    db.Store
	resolver *timeline.Resolver
	selector ContentSelector
	dialogue DialogueGenerator
	hooks    HookRunner

	sweepInterval  time.Duration
	earlyWindowMin time.Duration
	earlyWindowMax time.Duration
	coldStartRetry time.Duration
	dispatchLead   time.Duration

	quit chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func New(registry *fleet.Registry, store db.Store, resolver *timeline.Resolver, selector ContentSelector, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		registry:       registry,
		store:          store,
		resolver:       resolver,
		selector:       selector,
		sweepInterval:  cfg.SweepInterval,
		earlyWindowMin: cfg.EarlyWindowMin,
		earlyWindowMax: cfg.EarlyWindowMax,
		coldStartRetry: cfg.ColdStartRetry,
		dispatchLead:   cfg.DispatchLeadOffset,
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// SetDialogueGenerator wires the speech capability for talk blocks.
func (o *Orchestrator) SetDialogueGenerator(d DialogueGenerator) { o.dialogue = d }

// SetHookRunner wires the authored-hook capability.
func (o *Orchestrator) SetHookRunner(h HookRunner) { o.hooks = h }

func (o *Orchestrator) Start() {
	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.Sweep(time.Now())
			case <-o.quit:
				return
			}
		}
	}()
}

// Stop halts the sweep loop, cancels pending timed dispatches and waits
// for in-flight transitions to release their guards.
func (o *Orchestrator) Stop() {
	close(o.quit)
	<-o.done
	o.wg.Wait()
}

// Sweep visits every online node once. Per-node failures never cross
// node boundaries.
func (o *Orchestrator) Sweep(now time.Time) {
	for _, id := range o.registry.OnlineNodeIDs() {
		o.sweepNode(id, now)
	}
}

func (o *Orchestrator) sweepNode(nodeID int, now time.Time) {
	snap, ok := o.registry.Snapshot(nodeID)
	if !ok || !snap.Online {
		return
	}

	// the guard is taken before any asynchronous work begins; every
	// path below either releases it here or hands it to runTransition
	if !o.registry.TryAcquireTransition(nodeID) {
		return
	}

	if !o.shouldTrigger(snap, now) {
		o.registry.ReleaseTransition(nodeID)
		return
	}

	// the session is captured now and checked again at fire time, so a
	// reconnect during preparation never receives a command computed
	// from the old connection's telemetry
	sess, ok := o.registry.Lookup(nodeID)
	if !ok {
		o.registry.ReleaseTransition(nodeID)
		return
	}

	o.wg.Add(1)
	go o.runTransition(nodeID, sess, snap, now)
}

// shouldTrigger applies the dedup check and the trigger condition to a
// node snapshot.
func (o *Orchestrator) shouldTrigger(snap fleet.Snapshot, now time.Time) bool {
	coldStart := snap.ContentID == nil

	if snap.HasDedup && intPtrEqual(snap.DedupContentID, snap.ContentID) {
		if !coldStart {
			// this content item was already handled
			return false
		}
		if now.Sub(snap.DedupAt) < o.coldStartRetry {
			// a cold-start attempt is still within its retry window
			return false
		}
		// cold start stuck past the window: retry
	}

	if coldStart {
		return true
	}

	remaining := remainingPlayback(snap)
	return remaining > o.earlyWindowMin && remaining < o.earlyWindowMax
}

// runTransition owns the in-flight guard through resolution, selection
// and timed dispatch. The guard release is deferred so no early return
// or panic can starve the node.
func (o *Orchestrator) runTransition(nodeID int, sess fleet.Session, snap fleet.Snapshot, startedAt time.Time) {
	defer o.wg.Done()
	defer o.registry.ReleaseTransition(nodeID)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("node_id", nodeID).Interface("panic", r).Msg("transition panicked")
		}
	}()

	ctx := context.Background()
	coldStart := snap.ContentID == nil

	node, err := o.store.GetNodeByID(nodeID)
	if err != nil {
		log.Error().Err(err).Int("node_id", nodeID).Msg("transition aborted, node load failed")
		return
	}

	local := startedAt.In(node.Location())
	blocks, err := o.resolver.Resolve(nodeID, local)
	if err != nil {
		log.Error().Err(err).Int("node_id", nodeID).Msg("transition aborted, resolution failed")
		return
	}

	minute := local.Hour()*60 + local.Minute()
	block := timeline.BlockAt(blocks, minute)
	if block == nil {
		if coldStart {
			// no active programming, leave the node idle; no dedup so
			// the next sweep re-evaluates immediately
			return
		}
		// the active window has ended: stop playback
		o.registry.SetDedup(nodeID, snap.ContentID, startedAt)
		o.send(nodeID, sess, protocol.Command(protocol.ActionStop))
		log.Info().Int("node_id", nodeID).Msg("programming window ended, stopping playback")
		return
	}

	// dedup key is recorded before any slow external call so an
	// overlapping sweep cannot double-trigger for this item
	o.registry.SetDedup(nodeID, snap.ContentID, startedAt)

	sel, err := o.selectContent(ctx, node, *block)
	if err != nil {
		log.Error().Err(err).
			Int("node_id", nodeID).
			Int("schedule_id", block.ScheduleID).
			Msg("content selection failed, abandoning transition this tick")
		return
	}

	if block.HookID != nil && o.hooks != nil {
		if err := o.hooks.RunHook(ctx, *block.HookID, "pre_load", nodeID); err != nil {
			// hook failures never block the handoff
			log.Warn().Err(err).Int("hook_id", *block.HookID).Int("node_id", nodeID).Msg("pre_load hook failed")
		}
	}

	o.dispatchAt(nodeID, sess, snap, startedAt, sel)
}

// selectContent routes the block to the right capability: direct
// content goes through the selector, talk blocks without content go to
// the dialogue generator.
func (o *Orchestrator) selectContent(ctx context.Context, node *model.Node, block model.CollapsedBlock) (Selection, error) {
	if block.ContentID == nil && o.dialogue != nil {
		return o.dialogue.ProduceUtterance(ctx, node, block.VoiceProfileID)
	}
	return o.selector.NextContent(ctx, node, block)
}

// dispatchAt sleeps until just before the current item ends, then
// delivers the load command. Preparation work above overlaps with the
// remaining playback instead of cutting it short. If the node
// disconnected meanwhile the command is dropped, even if a new
// connection took its place; the next sweep re-evaluates from the
// replacement's own telemetry.
func (o *Orchestrator) dispatchAt(nodeID int, sess fleet.Session, snap fleet.Snapshot, startedAt time.Time, sel Selection) {
	fireAt := startedAt
	if snap.ContentID != nil {
		fireAt = startedAt.Add(remainingPlayback(snap) - o.dispatchLead)
	}
	delay := time.Until(fireAt)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.quit:
			return
		}
	}
	o.send(nodeID, sess, protocol.LoadContent(sel.ContentID, sel.Path))
	log.Info().
		Int("node_id", nodeID).
		Int("content_id", sel.ContentID).
		Msg("transition command dispatched")
}

// send delivers msg on the session captured at trigger time, but only
// if that session is still the one registered for the node. A stale
// session means the telemetry this transition was computed from is
// stale too, so the command is dropped.
func (o *Orchestrator) send(nodeID int, sess fleet.Session, msg protocol.ServerMessage) {
	current, ok := o.registry.Lookup(nodeID)
	if !ok || current != sess {
		log.Debug().Int("node_id", nodeID).Msg("session changed since trigger, dropping command")
		return
	}
	if err := sess.Send(msg); err != nil {
		log.Error().Err(err).Int("node_id", nodeID).Msg("command send failed")
	}
}

func remainingPlayback(snap fleet.Snapshot) time.Duration {
	remaining := snap.Duration - snap.Position
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining * float64(time.Second))
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

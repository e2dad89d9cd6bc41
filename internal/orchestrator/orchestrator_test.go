package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/chorus/internal/config"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
	"github.com/Nixie-Tech-LLC/chorus/internal/timeline"
)

type fakeStore struct {
	db.Store
	schedules []model.AssignedSchedule
	blocks    map[int][]model.Block
}

func (f *fakeStore) GetActiveAssignments(nodeID int) ([]model.AssignedSchedule, error) {
	return f.schedules, nil
}

// weekly blocks in these tests apply every day; date filtering is
// covered by the resolver's own tests
func (f *fakeStore) GetBlocksForDate(scheduleID int, date time.Time) ([]model.Block, error) {
	return f.blocks[scheduleID], nil
}

func (f *fakeStore) GetNodeByID(id int) (*model.Node, error) {
	return &model.Node{ID: id, Name: "test-node", Timezone: "UTC", Status: model.NodeOnline}, nil
}

func (f *fakeStore) GetContentByID(id int) (*model.Content, error) {
	url := "https://cdn.example.com/item.mp4"
	return &model.Content{ID: id, Name: "item", Type: "video", URL: url}, nil
}

func (f *fakeStore) UpdateNodeTelemetry(id int, contentID *int, position, duration *float64, heartbeat time.Time) error {
	return nil
}

type fakeSession struct {
	mu   sync.Mutex
	sent []protocol.ServerMessage
	at   []time.Time
}

func (s *fakeSession) Send(msg protocol.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	s.at = append(s.at, time.Now())
	return nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSession) first() (protocol.ServerMessage, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[0], s.at[0]
}

func testConfig() *config.Config {
	return &config.Config{
		SweepInterval:      10 * time.Millisecond,
		EarlyWindowMin:     50 * time.Millisecond,
		EarlyWindowMax:     65 * time.Second,
		ColdStartRetry:     45 * time.Second,
		DispatchLeadOffset: 100 * time.Millisecond,
	}
}

// allDayStore covers every minute with one block playing content 7.
func allDayStore() *fakeStore {
	return &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "always on", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: intp(0), StartMinute: 0, DurationMinutes: 1440, ContentID: intp(7)}},
		},
	}
}

func intp(v int) *int { return &v }
func floatp(v float64) *float64 { return &v }

func newTestOrchestrator(store *fakeStore) (*Orchestrator, *fleet.Registry) {
	registry := fleet.NewRegistry(store)
	resolver := timeline.NewResolver(store)
	return New(registry, store, resolver, NewStaticSelector(store), testConfig()), registry
}

func waitFor(t *testing.T, cond func() bool, within time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSweepDedupsUnchangedContent(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	// 300ms remaining puts the node inside the early window
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})

	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected one dispatched command")

	// same content, second sweep: dedup must suppress a second trigger
	o.Sweep(time.Now())
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, sess.count())
}

func TestSweepTriggersAgainForNewContent(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})

	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected first command")

	// the node moved on to the next item; its transition is fair game
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(43), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})
	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 2 }, time.Second, "expected second command")
}

func TestColdStartTriggersImmediately(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{Status: "idle"})

	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected cold start command")

	msg, _ := sess.first()
	assert.Equal(t, protocol.TypeCommand, msg.Type)
	assert.Equal(t, protocol.ActionLoadContent, msg.Action)
	require.NotNil(t, msg.ContentID)
	assert.Equal(t, 7, *msg.ContentID)
	require.NotNil(t, msg.Path)
}

func TestColdStartRetryWindow(t *testing.T) {
	o, _ := newTestOrchestrator(allDayStore())
	now := time.Now()

	fresh := fleet.Snapshot{NodeID: 1, Online: true, HasDedup: true, DedupContentID: nil, DedupAt: now.Add(-10 * time.Second)}
	assert.False(t, o.shouldTrigger(fresh, now), "inside the retry window, must not re-trigger")

	stuck := fleet.Snapshot{NodeID: 1, Online: true, HasDedup: true, DedupContentID: nil, DedupAt: now.Add(-46 * time.Second)}
	assert.True(t, o.shouldTrigger(stuck, now), "past the retry window, must re-trigger")
}

func TestShouldTriggerEarlyWindow(t *testing.T) {
	o, _ := newTestOrchestrator(allDayStore())
	now := time.Now()
	content := intp(42)

	// remaining 200ms: inside the (50ms, 65s) window
	inWindow := fleet.Snapshot{NodeID: 1, Online: true, ContentID: content, Position: 0, Duration: 0.2}
	assert.True(t, o.shouldTrigger(inWindow, now))

	// remaining 10ms: too late to prepare
	tooLate := fleet.Snapshot{NodeID: 1, Online: true, ContentID: content, Position: 0.19, Duration: 0.2}
	assert.False(t, o.shouldTrigger(tooLate, now))

	// remaining 10min: too early
	tooEarly := fleet.Snapshot{NodeID: 1, Online: true, ContentID: content, Position: 0, Duration: 600}
	assert.False(t, o.shouldTrigger(tooEarly, now))
}

func TestInFlightGuardIsExclusive(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})

	// simulate a transition already in flight
	require.True(t, registry.TryAcquireTransition(1))
	o.Sweep(time.Now())
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, sess.count(), "sweep must not start a second transition")

	// once released, the next sweep may trigger
	registry.ReleaseTransition(1)
	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected command after release")
}

func TestTimedDispatchWaitsForLead(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	// remaining 400ms, lead 100ms: fire no earlier than ~300ms
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.4), Status: "playing"})

	start := time.Now()
	o.Sweep(start)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, sess.count(), "command observed before the computed fire time")

	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected command after fire time")
	_, at := sess.first()
	assert.GreaterOrEqual(t, at.Sub(start), 250*time.Millisecond)
}

func TestWindowEndStopsPlayback(t *testing.T) {
	// no programming at all: a playing node must be stopped
	store := &fakeStore{blocks: map[int][]model.Block{}}
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})

	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected stop command")

	msg, _ := sess.first()
	assert.Equal(t, protocol.ActionStop, msg.Action)

	snap, ok := registry.Snapshot(1)
	require.True(t, ok)
	assert.True(t, snap.HasDedup)
	assert.Equal(t, 42, *snap.DedupContentID)

	// stop is handled once; the next sweep with the same content skips
	o.Sweep(time.Now())
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, sess.count())
}

func TestColdStartWithoutProgrammingStaysIdle(t *testing.T) {
	store := &fakeStore{blocks: map[int][]model.Block{}}
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{Status: "idle"})

	o.Sweep(time.Now())
	time.Sleep(200 * time.Millisecond)

	assert.Zero(t, sess.count())
	snap, _ := registry.Snapshot(1)
	// no dedup mark: the next sweep re-evaluates immediately
	assert.False(t, snap.HasDedup)
	// and the guard was released
	assert.True(t, registry.TryAcquireTransition(1))
}

func TestDisconnectedNodeDropsCommand(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.4), Status: "playing"})

	o.Sweep(time.Now())
	// the node vanishes while the dispatch timer is pending
	registry.Remove(1, sess)

	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, sess.count())
}

func TestReconnectDuringPendingDispatchDropsCommand(t *testing.T) {
	store := allDayStore()
	o, registry := newTestOrchestrator(store)
	sess1 := &fakeSession{}
	registry.Register(1, sess1)
	// remaining 400ms, lead 100ms: the timer pends for ~300ms
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.4), Status: "playing"})

	o.Sweep(time.Now())

	// the node reconnects while the dispatch timer is pending; the
	// replacement session must not receive the command computed from the
	// old connection's telemetry
	sess2 := &fakeSession{}
	registry.Remove(1, sess1)
	registry.Register(1, sess2)

	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, sess1.count())
	assert.Zero(t, sess2.count(), "stale command delivered to the replacement session")
}

type stubDialogue struct {
	contentID int
}

func (s *stubDialogue) ProduceUtterance(_ context.Context, _ *model.Node, _ *int) (Selection, error) {
	return Selection{ContentID: s.contentID}, nil
}

func TestTalkBlockUsesDialogueGenerator(t *testing.T) {
	// a block with no content reference routes to the dialogue capability
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "talk", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: intp(0), StartMinute: 0, DurationMinutes: 1440, VoiceProfileID: intp(3)}},
		},
	}
	o, registry := newTestOrchestrator(store)
	o.SetDialogueGenerator(&stubDialogue{contentID: 77})
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{Status: "idle"})

	o.Sweep(time.Now())
	waitFor(t, func() bool { return sess.count() >= 1 }, time.Second, "expected utterance command")

	msg, _ := sess.first()
	assert.Equal(t, protocol.ActionLoadContent, msg.Action)
	assert.Equal(t, 77, *msg.ContentID)
}

func TestSelectionFailureReleasesGuard(t *testing.T) {
	// a block with no content and no dialogue generator cannot select
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "talk", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: intp(0), StartMinute: 0, DurationMinutes: 1440}},
		},
	}
	o, registry := newTestOrchestrator(store)
	sess := &fakeSession{}
	registry.Register(1, sess)
	registry.UpdateTelemetry(1, fleet.Telemetry{ContentID: intp(42), Position: floatp(0), Duration: floatp(0.3), Status: "playing"})

	o.Sweep(time.Now())
	time.Sleep(200 * time.Millisecond)

	assert.Zero(t, sess.count())
	assert.True(t, registry.TryAcquireTransition(1), "guard must be released after a failed transition")
}

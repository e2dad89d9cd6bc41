package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

func TestSweepDemotesStaleHeartbeat(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store)
	m := NewMonitor(reg, store, 10*time.Second, 30*time.Second)

	reg.Register(1, &fakeSession{})
	snap, ok := reg.Snapshot(1)
	require.True(t, ok)

	// 29s old: still within the timeout
	m.Sweep(snap.LastHeartbeat.Add(29 * time.Second))
	snap, _ = reg.Snapshot(1)
	assert.True(t, snap.Online)
	assert.Empty(t, store.statusOf(1))

	// 31s old: demoted and persisted
	m.Sweep(snap.LastHeartbeat.Add(31 * time.Second))
	snap, _ = reg.Snapshot(1)
	assert.False(t, snap.Online)
	assert.Equal(t, model.NodeOffline, store.statusOf(1))
}

func TestSweepSkipsOfflineNodes(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store)
	m := NewMonitor(reg, store, 10*time.Second, 30*time.Second)

	reg.Register(1, &fakeSession{})
	reg.MarkOffline(1)

	m.Sweep(time.Now().Add(time.Hour))
	// already offline: the monitor does not write again
	assert.Empty(t, store.statusOf(1))
}

func TestHeartbeatRevivesNode(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store)
	m := NewMonitor(reg, store, 10*time.Second, 30*time.Second)

	reg.Register(1, &fakeSession{})
	m.Sweep(time.Now().Add(time.Minute))
	snap, _ := reg.Snapshot(1)
	require.False(t, snap.Online)

	reg.UpdateTelemetry(1, Telemetry{Status: "idle"})
	snap, _ = reg.Snapshot(1)
	assert.True(t, snap.Online)
}

package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

// fakeStore serves assignments and blocks from memory, matching blocks
// to dates the same way the SQL layer does.
type fakeStore struct {
	db.Store
	schedules []model.AssignedSchedule
	blocks    map[int][]model.Block
}

func (f *fakeStore) GetActiveAssignments(nodeID int) ([]model.AssignedSchedule, error) {
	return f.schedules, nil
}

func (f *fakeStore) GetBlocksForDate(scheduleID int, date time.Time) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.blocks[scheduleID] {
		if b.DayOfWeek != nil && *b.DayOfWeek == int(date.Weekday()) {
			out = append(out, b)
			continue
		}
		if b.SpecificDate != nil {
			y1, m1, d1 := b.SpecificDate.Date()
			y2, m2, d2 := date.Date()
			if y1 == y2 && m1 == m2 && d1 == d2 {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func weekday(d time.Weekday) *int {
	v := int(d)
	return &v
}

func intp(v int) *int { return &v }

// Monday 2025-06-02 in UTC.
var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func TestResolveCollapsesByPriority(t *testing.T) {
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "background", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
			{ID: 2, Name: "feature", Kind: model.ScheduleKindWeekly, EffectivePriority: 5},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: weekday(time.Monday), StartMinute: 60, DurationMinutes: 120, ContentID: intp(100)}},
			2: {{ID: 20, ScheduleID: 2, DayOfWeek: weekday(time.Monday), StartMinute: 90, DurationMinutes: 30, ContentID: intp(200)}},
		},
	}

	blocks, err := NewResolver(store).Resolve(1, monday)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, 60, blocks[0].StartMinute)
	assert.Equal(t, 30, blocks[0].DurationMinutes)
	assert.Equal(t, 1, blocks[0].ScheduleID)

	assert.Equal(t, 90, blocks[1].StartMinute)
	assert.Equal(t, 30, blocks[1].DurationMinutes)
	assert.Equal(t, 2, blocks[1].ScheduleID)
	assert.Equal(t, 200, *blocks[1].ContentID)

	assert.Equal(t, 120, blocks[2].StartMinute)
	assert.Equal(t, 60, blocks[2].DurationMinutes)
	assert.Equal(t, 1, blocks[2].ScheduleID)

	// no gaps or overlaps across the covered range
	assert.Equal(t, blocks[0].StartMinute+blocks[0].DurationMinutes, blocks[1].StartMinute)
	assert.Equal(t, blocks[1].StartMinute+blocks[1].DurationMinutes, blocks[2].StartMinute)
}

func TestResolveIsIdempotent(t *testing.T) {
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "background", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
			{ID: 2, Name: "feature", Kind: model.ScheduleKindWeekly, EffectivePriority: 5},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: weekday(time.Monday), StartMinute: 0, DurationMinutes: 600, ContentID: intp(100)}},
			2: {{ID: 20, ScheduleID: 2, DayOfWeek: weekday(time.Monday), StartMinute: 300, DurationMinutes: 60, ContentID: intp(200)}},
		},
	}
	r := NewResolver(store)

	first, err := r.Resolve(1, monday)
	require.NoError(t, err)
	second, err := r.Resolve(1, monday)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveDaySpill(t *testing.T) {
	// a Sunday block starting 23:00 for 120 minutes covers Monday's
	// first hour
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "overnight", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, DayOfWeek: weekday(time.Sunday), StartMinute: 1380, DurationMinutes: 120, ContentID: intp(100)}},
		},
	}

	blocks, err := NewResolver(store).Resolve(1, monday)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, 0, blocks[0].StartMinute)
	assert.Equal(t, 60, blocks[0].DurationMinutes)
	assert.Equal(t, 100, *blocks[0].ContentID)
}

func TestResolvePriorityTieGoesToLowerScheduleID(t *testing.T) {
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 9, Name: "later", Kind: model.ScheduleKindWeekly, EffectivePriority: 3},
			{ID: 4, Name: "earlier", Kind: model.ScheduleKindWeekly, EffectivePriority: 3},
		},
		blocks: map[int][]model.Block{
			9: {{ID: 90, ScheduleID: 9, DayOfWeek: weekday(time.Monday), StartMinute: 0, DurationMinutes: 60, ContentID: intp(900)}},
			4: {{ID: 40, ScheduleID: 4, DayOfWeek: weekday(time.Monday), StartMinute: 0, DurationMinutes: 60, ContentID: intp(400)}},
		},
	}

	blocks, err := NewResolver(store).Resolve(1, monday)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, 4, blocks[0].ScheduleID)
	assert.Equal(t, 400, *blocks[0].ContentID)
}

func TestResolveLeavesGaps(t *testing.T) {
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "sparse", Kind: model.ScheduleKindWeekly, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {
				{ID: 10, ScheduleID: 1, DayOfWeek: weekday(time.Monday), StartMinute: 60, DurationMinutes: 30, ContentID: intp(1)},
				{ID: 11, ScheduleID: 1, DayOfWeek: weekday(time.Monday), StartMinute: 600, DurationMinutes: 30, ContentID: intp(2)},
			},
		},
	}

	blocks, err := NewResolver(store).Resolve(1, monday)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Nil(t, BlockAt(blocks, 0))
	assert.Nil(t, BlockAt(blocks, 120))
	assert.NotNil(t, BlockAt(blocks, 75))
	assert.NotNil(t, BlockAt(blocks, 610))
}

func TestResolveOneOffMatchesExactDate(t *testing.T) {
	date := monday
	other := monday.AddDate(0, 0, 7)
	store := &fakeStore{
		schedules: []model.AssignedSchedule{
			{ID: 1, Name: "special", Kind: model.ScheduleKindOneOff, EffectivePriority: 1},
		},
		blocks: map[int][]model.Block{
			1: {{ID: 10, ScheduleID: 1, SpecificDate: &date, StartMinute: 0, DurationMinutes: 60, ContentID: intp(1)}},
		},
	}
	r := NewResolver(store)

	blocks, err := r.Resolve(1, monday)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	blocks, err = r.Resolve(1, other)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

// Package timeline resolves the declarative schedule set into one
// concrete minute-by-minute plan per node and facility day.
package timeline

import (
	"sort"
	"time"

	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

const minutesPerDay = 24 * 60

type Resolver struct {
	store db.Store
}

func NewResolver(store db.Store) *Resolver {
	return &Resolver{store: store}
}

// painting identifies one painted block occurrence; minutes sharing the
// same painting collapse into one CollapsedBlock.
type painting struct {
	block    model.Block
	schedule model.AssignedSchedule
}

// Resolve returns the collapsed timeline for the facility day containing
// the given instant, in the instant's location. Higher effective priority
// wins each minute; ties go to the lower schedule id. Blocks from the
// previous day that run past midnight cover the early minutes of the
// target day. Minutes no block covers are left as gaps.
//
// Resolution is a pure function of stored state and the date: repeated
// calls with unchanged inputs return identical output.
func (r *Resolver) Resolve(nodeID int, date time.Time) ([]model.CollapsedBlock, error) {
	year, month, day := date.Date()
	target := time.Date(year, month, day, 0, 0, 0, 0, date.Location())
	previous := target.AddDate(0, 0, -1)

	schedules, err := r.store.GetActiveAssignments(nodeID)
	if err != nil {
		return nil, err
	}
	// the store already orders by priority; re-sort so resolution does
	// not depend on any particular Store implementation
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].EffectivePriority != schedules[j].EffectivePriority {
			return schedules[i].EffectivePriority > schedules[j].EffectivePriority
		}
		return schedules[i].ID < schedules[j].ID
	})

	var slots [minutesPerDay]*painting
	for _, sched := range schedules {
		// spill first so ordering within one schedule is by clock time
		spill, err := r.store.GetBlocksForDate(sched.ID, previous)
		if err != nil {
			return nil, err
		}
		for _, b := range spill {
			if b.EndMinute() <= minutesPerDay {
				continue
			}
			paint(&slots, &painting{block: b, schedule: sched}, 0, b.EndMinute()-minutesPerDay)
		}

		blocks, err := r.store.GetBlocksForDate(sched.ID, target)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			paint(&slots, &painting{block: b, schedule: sched}, b.StartMinute, b.EndMinute())
		}
	}

	return collapse(&slots), nil
}

// paint fills the empty minutes of [from, to) with p. Already-painted
// minutes belong to a higher-priority schedule (or an earlier block of
// the same schedule) and are never overwritten.
func paint(slots *[minutesPerDay]*painting, p *painting, from, to int) {
	if from < 0 {
		from = 0
	}
	if to > minutesPerDay {
		to = minutesPerDay
	}
	for m := from; m < to; m++ {
		if slots[m] == nil {
			slots[m] = p
		}
	}
}

// collapse merges consecutive minutes painted by the same block
// occurrence into CollapsedBlocks, skipping gaps.
func collapse(slots *[minutesPerDay]*painting) []model.CollapsedBlock {
	out := []model.CollapsedBlock{}
	var current *painting
	start := 0
	flush := func(end int) {
		if current == nil {
			return
		}
		out = append(out, model.CollapsedBlock{
			StartMinute:     start,
			DurationMinutes: end - start,
			ContentID:       current.block.ContentID,
			HookID:          current.block.HookID,
			VoiceProfileID:  current.block.VoiceProfileID,
			ScheduleID:      current.schedule.ID,
			ScheduleName:    current.schedule.Name,
			Priority:        current.schedule.EffectivePriority,
		})
	}
	for m := 0; m < minutesPerDay; m++ {
		if slots[m] == current {
			continue
		}
		flush(m)
		current = slots[m]
		start = m
	}
	flush(minutesPerDay)
	return out
}

// BlockAt returns the collapsed block covering the given minute of the
// day, or nil when that minute is a gap.
func BlockAt(blocks []model.CollapsedBlock, minute int) *model.CollapsedBlock {
	for i := range blocks {
		b := &blocks[i]
		if minute >= b.StartMinute && minute < b.StartMinute+b.DurationMinutes {
			return b
		}
	}
	return nil
}

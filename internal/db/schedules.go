package db

import (
	"time"

	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/rs/zerolog/log"
)

// GetActiveAssignments returns the active schedules assigned to a node
// with the priority that applies to it (assignment override, falling
// back to the schedule's base priority). Ordered by effective priority
// descending; ties broken by lowest schedule id so resolution stays
// deterministic.
func (p *pgStore) GetActiveAssignments(nodeID int) ([]model.AssignedSchedule, error) {
	var out []model.AssignedSchedule
	const q = `
	SELECT s.id,
	       s.name,
	       s.kind,
	       COALESCE(a.priority_override, s.base_priority) AS effective_priority
	  FROM assignments a
	  JOIN schedules s ON s.id = a.schedule_id
	 WHERE a.node_id = $1
	   AND s.active = true
	 ORDER BY effective_priority DESC, s.id ASC;`
	if err := p.db.Select(&out, q, nodeID); err != nil {
		log.Error().Err(err).Int("node_id", nodeID).Msg("GetActiveAssignments failed")
		return nil, err
	}
	return out, nil
}

// GetBlocksForDate returns the blocks of one schedule that apply on the
// given facility date: weekly blocks match by day-of-week, one-off
// blocks by exact date. Ordered by start minute, then id.
func (p *pgStore) GetBlocksForDate(scheduleID int, date time.Time) ([]model.Block, error) {
	var out []model.Block
	const q = `
	SELECT id, schedule_id, day_of_week, specific_date,
	       start_minute, duration_minutes,
	       content_id, hook_id, voice_profile_id
	  FROM blocks
	 WHERE schedule_id = $1
	   AND (day_of_week = $2 OR specific_date = $3::date)
	 ORDER BY start_minute ASC, id ASC;`
	day := int(date.Weekday())
	if err := p.db.Select(&out, q, scheduleID, day, date.Format("2006-01-02")); err != nil {
		log.Error().Err(err).
			Int("schedule_id", scheduleID).
			Str("date", date.Format("2006-01-02")).
			Msg("GetBlocksForDate failed")
		return nil, err
	}
	return out, nil
}

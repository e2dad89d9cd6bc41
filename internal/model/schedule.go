package model

import "time"

// Schedule kinds. Weekly schedules repeat by day-of-week; one-off
// schedules bind their blocks to specific calendar dates.
const (
	ScheduleKindWeekly = "weekly"
	ScheduleKindOneOff = "one_off"
)

type Schedule struct {
	ID           int       `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Kind         string    `db:"kind" json:"kind"`
	BasePriority int       `db:"base_priority" json:"base_priority"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Block is one concrete time interval within a Schedule. Exactly one of
// DayOfWeek / SpecificDate is set, matching the schedule kind.
type Block struct {
	ID              int        `db:"id" json:"id"`
	ScheduleID      int        `db:"schedule_id" json:"schedule_id"`
	DayOfWeek       *int       `db:"day_of_week" json:"day_of_week"`
	SpecificDate    *time.Time `db:"specific_date" json:"specific_date"`
	StartMinute     int        `db:"start_minute" json:"start_minute"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	ContentID       *int       `db:"content_id" json:"content_id"`
	HookID          *int       `db:"hook_id" json:"hook_id"`
	VoiceProfileID  *int       `db:"voice_profile_id" json:"voice_profile_id"`
}

type Assignment struct {
	ID               int  `db:"id" json:"id"`
	NodeID           int  `db:"node_id" json:"node_id"`
	ScheduleID       int  `db:"schedule_id" json:"schedule_id"`
	PriorityOverride *int `db:"priority_override" json:"priority_override"`
}

// AssignedSchedule is a schedule joined with the priority that applies
// to one node: the assignment override when present, the schedule's
// base priority otherwise.
type AssignedSchedule struct {
	ID                int    `db:"id" json:"id"`
	Name              string `db:"name" json:"name"`
	Kind              string `db:"kind" json:"kind"`
	EffectivePriority int    `db:"effective_priority" json:"effective_priority"`
}

// CollapsedBlock is a contiguous run of identical resolved programming
// within one facility day. Produced by the timeline resolver, never
// persisted.
type CollapsedBlock struct {
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
	ContentID       *int   `json:"content_id"`
	HookID          *int   `json:"hook_id"`
	VoiceProfileID  *int   `json:"voice_profile_id"`
	ScheduleID      int    `json:"schedule_id"`
	ScheduleName    string `json:"schedule_name"`
	Priority        int    `json:"priority"`
}

// EndMinute is the first minute past the block, possibly past 1440 for
// blocks that spill into the next facility day.
func (b Block) EndMinute() int {
	return b.StartMinute + b.DurationMinutes
}

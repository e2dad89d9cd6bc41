package model

import "time"

// Content is a playable item referenced by schedule blocks. Authoring
// and rendering live outside this service; we only carry enough to
// address the item on a node.
type Content struct {
	ID              int       `db:"id"            json:"id"`
	Name            string    `db:"name"          json:"name"`
	Type            string    `db:"type"          json:"type"`
	URL             string    `db:"url"           json:"url"`
	DurationSeconds *float64  `db:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time `db:"created_at"    json:"created_at"`
}

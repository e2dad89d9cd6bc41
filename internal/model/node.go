package model

import "time"

const (
	NodeOnline  = "online"
	NodeOffline = "offline"
)

// Node represents one unattended playback device in the fleet.
type Node struct {
	ID               int        `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	DeviceID         *string    `db:"device_id" json:"device_id"`
	Timezone         string     `db:"timezone" json:"timezone"`
	SecretHash       *string    `db:"secret_hash" json:"-"`
	Status           string     `db:"status" json:"status"`
	LastHeartbeat    *time.Time `db:"last_heartbeat" json:"last_heartbeat"`
	CurrentContentID *int       `db:"current_content_id" json:"current_content_id"`
	PlaybackPosition *float64   `db:"playback_position" json:"playback_position"`
	PlaybackDuration *float64   `db:"playback_duration" json:"playback_duration"`
	Paired           bool       `db:"paired" json:"paired"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Location resolves the node's configured facility timezone, falling
// back to UTC when the zone name is missing or unknown.
func (n *Node) Location() *time.Location {
	if n.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

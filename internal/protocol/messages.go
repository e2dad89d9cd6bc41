// Package protocol defines the command-channel wire messages exchanged
// between the server and node agents. Frames are JSON with a "type"
// discriminator; unknown or malformed frames are dropped by the reader.
package protocol

// node -> server message types
const (
	TypeAuthenticate    = "authenticate"
	TypeHeartbeat       = "heartbeat"
	TypeRequestSchedule = "request_schedule"
	TypeReportPaths     = "report_paths"
	TypeContentError    = "content_error"
	TypeLog             = "log"
)

// server -> node message types
const (
	TypeAuthResponse    = "auth_response"
	TypeScheduleUpdated = "schedule_updated"
	TypeCommand         = "command"
	TypeHeartbeatAck    = "heartbeat_ack"
)

// command actions
const (
	ActionPlay           = "play"
	ActionPause          = "pause"
	ActionStop           = "stop"
	ActionSeek           = "seek"
	ActionLoadContent    = "load_content"
	ActionReloadSchedule = "reload_schedule"
	ActionShutdown       = "shutdown"
	ActionInjectAudio    = "inject_audio"
)

// NodeMessage is any frame sent by a node. Fields beyond Type are
// populated per message kind.
type NodeMessage struct {
	Type string `json:"type"`

	// authenticate
	NodeName string `json:"node_name,omitempty"`
	Secret   string `json:"secret,omitempty"`

	// heartbeat
	ContentID  *int     `json:"content_id,omitempty"`
	Position   *float64 `json:"position,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	Status     string   `json:"status,omitempty"`
	CPUPercent float64  `json:"cpu_percent,omitempty"`
	MemoryMB   float64  `json:"memory_mb,omitempty"`
	Errors     []string `json:"errors,omitempty"`

	// report_paths
	Available []string `json:"available,omitempty"`

	// content_error
	Error string `json:"error,omitempty"`

	// log
	Level     string `json:"level,omitempty"`
	Message   string `json:"message,omitempty"`
	Target    string `json:"target,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ServerMessage is any frame sent to a node.
type ServerMessage struct {
	Type string `json:"type"`

	// auth_response
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	NodeID  *int   `json:"node_id,omitempty"`

	// schedule_updated / heartbeat_ack
	Timestamp int64 `json:"timestamp,omitempty"`

	// command
	Action    string   `json:"action,omitempty"`
	Position  *float64 `json:"position,omitempty"`
	ContentID *int     `json:"content_id,omitempty"`
	Path      *string  `json:"path,omitempty"`
	URL       string   `json:"url,omitempty"`
	Mix       *float64 `json:"mix,omitempty"`
}

// Command builds a bare command frame for the given action.
func Command(action string) ServerMessage {
	return ServerMessage{Type: TypeCommand, Action: action}
}

// LoadContent builds a load_content command addressing one item.
func LoadContent(contentID int, path *string) ServerMessage {
	id := contentID
	return ServerMessage{
		Type:      TypeCommand,
		Action:    ActionLoadContent,
		ContentID: &id,
		Path:      path,
	}
}

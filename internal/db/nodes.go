package db

import (
	"time"

	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/rs/zerolog/log"
)

const nodeColumns = `
	id, name, device_id, timezone, secret_hash, status,
	last_heartbeat, current_content_id, playback_position, playback_duration,
	paired, created_at, updated_at`

func (p *pgStore) GetNodeByID(id int) (*model.Node, error) {
	var n model.Node
	if err := p.db.Get(&n, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1;`, id); err != nil {
		log.Error().Err(err).Int("node_id", id).Msg("GetNodeByID failed")
		return nil, err
	}
	return &n, nil
}

func (p *pgStore) GetNodeByName(name string) (*model.Node, error) {
	var n model.Node
	if err := p.db.Get(&n, `SELECT `+nodeColumns+` FROM nodes WHERE name = $1;`, name); err != nil {
		return nil, err
	}
	return &n, nil
}

func (p *pgStore) ListNodes() ([]model.Node, error) {
	var out []model.Node
	if err := p.db.Select(&out, `SELECT `+nodeColumns+` FROM nodes ORDER BY id;`); err != nil {
		log.Error().Err(err).Msg("ListNodes failed")
		return nil, err
	}
	return out, nil
}

// UpdateNodeTelemetry applies one heartbeat's playback report. The
// registry is the only caller; it applies reports in receipt order.
func (p *pgStore) UpdateNodeTelemetry(id int, contentID *int, position, duration *float64, heartbeat time.Time) error {
	_, err := p.db.Exec(`
	UPDATE nodes
	   SET current_content_id = $2,
	       playback_position  = $3,
	       playback_duration  = $4,
	       last_heartbeat     = $5,
	       status             = 'online',
	       updated_at         = now()
	 WHERE id = $1;`, id, contentID, position, duration, heartbeat)
	if err != nil {
		log.Error().Err(err).Int("node_id", id).Msg("UpdateNodeTelemetry failed")
	}
	return err
}

func (p *pgStore) SetNodeStatus(id int, status string) error {
	_, err := p.db.Exec(`
	UPDATE nodes SET status = $2, updated_at = now() WHERE id = $1;`, id, status)
	if err != nil {
		log.Error().Err(err).Int("node_id", id).Str("status", status).Msg("SetNodeStatus failed")
	}
	return err
}

func (p *pgStore) SetNodeSecret(id int, secretHash string) error {
	_, err := p.db.Exec(`
	UPDATE nodes SET secret_hash = $2, paired = true, updated_at = now() WHERE id = $1;`, id, secretHash)
	if err != nil {
		log.Error().Err(err).Int("node_id", id).Msg("SetNodeSecret failed")
	}
	return err
}

func (p *pgStore) AssignDeviceIDToNode(id int, deviceID *string) error {
	_, err := p.db.Exec(`
	UPDATE nodes SET device_id = $2, updated_at = now() WHERE id = $1;`, id, deviceID)
	if err != nil {
		log.Error().Err(err).Int("node_id", id).Msg("AssignDeviceIDToNode failed")
	}
	return err
}

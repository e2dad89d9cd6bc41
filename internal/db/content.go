package db

import (
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/rs/zerolog/log"
)

func (p *pgStore) GetContentByID(id int) (*model.Content, error) {
	var c model.Content
	const q = `
	SELECT id, name, type, url, duration_seconds, created_at
	  FROM content WHERE id = $1;`
	if err := p.db.Get(&c, q, id); err != nil {
		log.Error().Err(err).Int("content_id", id).Msg("GetContentByID failed")
		return nil, err
	}
	return &c, nil
}

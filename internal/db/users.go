package db

import (
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

func (p *pgStore) GetUserByID(id int) (*model.User, error) {
	var u model.User
	const q = `
	SELECT id, email, hashed_password, name, created_at, updated_at
	  FROM users WHERE id = $1;`
	if err := p.db.Get(&u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *pgStore) GetUserByEmail(email string) (*model.User, error) {
	var u model.User
	const q = `
	SELECT id, email, hashed_password, name, created_at, updated_at
	  FROM users WHERE email = $1;`
	if err := p.db.Get(&u, q, email); err != nil {
		return nil, err
	}
	return &u, nil
}

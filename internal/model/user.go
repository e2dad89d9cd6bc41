package model

import "time"

// User is an administrative operator account. Account management is
// handled by the admin service; we only read users to validate tokens.
type User struct {
	ID             int       `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	Name           *string   `db:"name" json:"name"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

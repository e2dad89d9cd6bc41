package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidSecret is returned when a node presents a secret that does
// not match its stored hash.
var ErrInvalidSecret = errors.New("invalid node secret")

// HashSecret uses bcrypt to hash a plaintext shared secret.
func HashSecret(plain string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckSecret compares a bcrypt hash with the plaintext.
func CheckSecret(hash, plain string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	return err == nil
}

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const minimumPasswordLength = 8

var (
	ErrPasswordTooShort = errors.New("auth: password too short")
	ErrPasswordMismatch = errors.New("auth: password mismatch")
)

// HashPassword derives a bcrypt hash suitable for storage.
func HashPassword(password string) (string, error) {
	if len(password) < minimumPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports ErrPasswordMismatch when password does not match hash.
func ComparePassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

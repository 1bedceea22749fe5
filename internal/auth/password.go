package auth

import (
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when a candidate does not match the stored hash.
var ErrPasswordMismatch = errors.New("password mismatch")

const argon2idPrefix = "$argon2id$"

// HashPassword hashes a plaintext password with configured bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// HashPasswordArgon2id hashes a plaintext password with argon2id default parameters.
func HashPasswordArgon2id(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}

// ComparePassword verifies a password against its hashed value.
// Both bcrypt and argon2id encodings are accepted.
func ComparePassword(hashed, plain string) error {
	if strings.HasPrefix(hashed, argon2idPrefix) {
		match, err := argon2id.ComparePasswordAndHash(plain, hashed)
		if err != nil {
			return err
		}
		if !match {
			return ErrPasswordMismatch
		}
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

// PasswordVerifier adapts ComparePassword to the credential check used by login.
type PasswordVerifier struct{}

// Verify reports whether candidate matches storedHash.
func (PasswordVerifier) Verify(candidate, storedHash string) bool {
	return ComparePassword(storedHash, candidate) == nil
}

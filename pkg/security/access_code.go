package security

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minAccessCodeLength = 4

// HashAccessCode returns the bcrypt hash used to protect a validation route.
func HashAccessCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) < minAccessCodeLength {
		return "", fmt.Errorf("%w: access code must be at least %d characters", ErrInvalidInput, minAccessCodeLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access code: %w", err)
	}
	return string(hashed), nil
}

// CompareAccessCode reports whether code matches the stored bcrypt hash.
func CompareAccessCode(hashed, code string) bool {
	if hashed == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(strings.TrimSpace(code))) == nil
}

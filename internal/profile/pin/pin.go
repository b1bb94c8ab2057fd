// Package pin hashes and verifies caregiver PINs.
package pin

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "lifetag/pkg/domain-errors"
)

const (
	minLength = 4
	maxLength = 12
)

// Validate checks that pin is 4-12 ASCII digits.
func Validate(pin string) error {
	if len(pin) < minLength || len(pin) > maxLength {
		return dErrors.New(dErrors.CodeValidation, "pin must be 4-12 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return dErrors.New(dErrors.CodeValidation, "pin must be 4-12 digits")
		}
	}
	return nil
}

// Hash creates a bcrypt hash of the PIN.
func Hash(pin string) (string, error) {
	if err := Validate(pin); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash pin: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext PIN against a bcrypt hash. A mismatch returns a
// CodeUnauthorized error.
func Verify(pin, hash string) error {
	if hash == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid pin")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid pin")
		}
		return fmt.Errorf("could not verify pin: %w", err)
	}
	return nil
}

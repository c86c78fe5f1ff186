// Package otp generates and checks short-lived numeric verification codes.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Length is the number of digits in an issued code.
const Length = 6

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

// Validation failures.
var (
	ErrNotFound = errors.New("otp not found")
	ErrMismatch = errors.New("otp mismatch")
	ErrExpired  = errors.New("otp expired")
)

var upper = big.NewInt(1_000_000)

// Generate returns a uniformly random zero-padded 6-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", Length, n.Int64()), nil
}

// Challenge is an issued code bound to its deadline.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
}

// Issue creates a fresh challenge valid for ttl from now.
func Issue(now time.Time, ttl time.Duration) (Challenge, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	code, err := Generate()
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Code: code, ExpiresAt: now.Add(ttl)}, nil
}

// Validate checks submitted against c. A nil challenge is ErrNotFound. Expiry
// is checked before the code so an expired match still reports ErrExpired.
func Validate(c *Challenge, submitted string, now time.Time) error {
	if c == nil || c.Code == "" {
		return ErrNotFound
	}
	if now.After(c.ExpiresAt) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(submitted)) != 1 {
		return ErrMismatch
	}
	return nil
}

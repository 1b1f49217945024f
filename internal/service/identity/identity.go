// Package identity generates opaque result identifiers.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"detectionapi/internal/config"
)

const (
	alphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxAttempts = 5
)

// ErrIDExhausted is returned when every attempt produced an identifier that is already taken.
var ErrIDExhausted = errors.New("could not generate an unused identifier")

// Checker reports whether an identifier is already in use.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Generator produces identifiers that are unused according to its Checker.
type Generator struct {
	next    func() (string, error)
	checker Checker
}

// NewGenerator builds a generator for the configured scheme; checker may be nil.
func NewGenerator(cfg config.IdentityConfig, checker Checker) (*Generator, error) {
	var next func() (string, error)
	switch cfg.Scheme {
	case config.IdentityRandom, "":
		length := cfg.Length
		if length <= 0 {
			length = 8
		}
		next = func() (string, error) { return RandomString(length) }
	case config.IdentityUUID7:
		next = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	default:
		return nil, fmt.Errorf("unknown identity scheme: %q", cfg.Scheme)
	}
	return &Generator{next: next, checker: checker}, nil
}

// NewID returns a fresh identifier, retrying on collisions.
func (g *Generator) NewID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := g.next()
		if err != nil {
			return "", fmt.Errorf("failed to generate identifier: %w", err)
		}
		if g.checker == nil {
			return id, nil
		}

		taken, err := g.checker.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check identifier %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// RandomString draws length characters uniformly from [A-Za-z0-9].
func RandomString(length int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

package hashing

import (
	"errors"
	"fmt"
	"time"

	"marketplace-auth/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrInvalidCost   = errors.New("bcrypt cost out of range")
)

// MinCost is the lowest cost accepted for stored passwords.
const MinCost = 10

// Hasher salts and verifies passwords with bcrypt.
type Hasher struct {
	cost int
}

func NewHasher(cost int) (*Hasher, error) {
	if cost < MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of password with a random salt.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash never
// matches.
func (h *Hasher) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true
	}
	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		util.Debug("Password hash could not be compared", zap.Error(err))
	}
	return false
}

// NeedsRehash reports whether hash was produced with a cost other than the
// configured one.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

func (h *Hasher) Cost() int { return h.cost }

// Benchmark hashing performance
func (h *Hasher) Benchmark(iterations int) time.Duration {
	start := time.Now()

	for i := 0; i < iterations; i++ {
		if _, err := h.Hash(fmt.Sprintf("benchmark%d", i)); err != nil {
			util.Error("Benchmark failed", zap.Error(err))
			return 0
		}
	}

	return time.Since(start)
}

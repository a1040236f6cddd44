package crypto

import (
	"fmt"

	"github.com/org/passkeeper/internal/shared"
	"golang.org/x/crypto/bcrypt"
)

// MinHashCost is the lowest bcrypt work factor accepted for account passwords.
const MinHashCost = 12

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// Digest is a salted password hash and the work factor used to produce it.
type Digest struct {
	Hash string
	Cost int
}

// Hasher hashes and verifies account passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < MinHashCost || cost > bcrypt.MaxCost {
		return nil, shared.ConfigurationError(fmt.Sprintf("hash cost must be between %d and %d", MinHashCost, bcrypt.MaxCost))
	}
	return &Hasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash computes a bcrypt digest. bcrypt draws a new random salt on each call.
func (h *Hasher) Hash(password string) (Digest, error) {
	if len(password) > maxPasswordBytes {
		return Digest{}, shared.ValidationError("password must be at most 72 bytes")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing password: %w", err)
	}
	return Digest{Hash: string(b), Cost: h.cost}, nil
}

// Verify reports whether password matches hash. The comparison is constant
// time in the candidate.
func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

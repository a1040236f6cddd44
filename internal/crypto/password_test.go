package crypto

import (
	"errors"
	"strings"
	"testing"

	"github.com/org/passkeeper/internal/shared"
)

func TestNewHasherCostFloor(t *testing.T) {
	if _, err := NewHasher(MinHashCost - 1); !errors.Is(err, shared.ErrConfiguration) {
		t.Errorf("expected configuration error for cost below floor, got %v", err)
	}
	if _, err := NewHasher(40); !errors.Is(err, shared.ErrConfiguration) {
		t.Errorf("expected configuration error for cost above bcrypt max, got %v", err)
	}
	h, err := NewHasher(MinHashCost)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	if h.Cost() != MinHashCost {
		t.Errorf("expected cost %d, got %d", MinHashCost, h.Cost())
	}
}

func TestHashSaltedAndVerifiable(t *testing.T) {
	h, _ := NewHasher(MinHashCost)

	d1, err := h.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	d2, _ := h.Hash("Str0ng!Pass")
	if d1.Hash == d2.Hash {
		t.Error("repeated hashes of the same password should differ")
	}
	if d1.Cost != MinHashCost {
		t.Errorf("expected digest cost %d, got %d", MinHashCost, d1.Cost)
	}
	if strings.Contains(d1.Hash, "Str0ng!Pass") {
		t.Error("digest must not contain the password")
	}

	if !h.Verify("Str0ng!Pass", d1.Hash) || !h.Verify("Str0ng!Pass", d2.Hash) {
		t.Error("verify should accept the original password")
	}
	if h.Verify("wrong-password", d1.Hash) {
		t.Error("verify should reject a wrong password")
	}
	if h.Verify("Str0ng!Pass", "not-a-bcrypt-hash") {
		t.Error("verify should reject a malformed hash")
	}
}

func TestHashRejectsOverlongPassword(t *testing.T) {
	h, _ := NewHasher(MinHashCost)
	if _, err := h.Hash(strings.Repeat("a", 73)); !errors.Is(err, shared.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

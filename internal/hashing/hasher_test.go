package hashing

import (
	"errors"
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$10$") {
		t.Fatalf("expected bcrypt cost 10 hash, got %q", hash)
	}
	if !h.Verify("correct horse", hash) {
		t.Fatal("expected password to verify")
	}
	if h.Verify("battery staple", hash) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestHashIsSalted(t *testing.T) {
	h := newTestHasher(t)

	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatal("expected different hashes for the same password")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	for _, hash := range []string{"", "plain", "$2a$10$short"} {
		if h.Verify("password", hash) {
			t.Fatalf("expected malformed hash %q to fail", hash)
		}
	}
}

func TestNewHasherCost(t *testing.T) {
	if _, err := NewHasher(4); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	h := newTestHasher(t)

	hash, _ := h.Hash("pw")
	if h.NeedsRehash(hash) {
		t.Fatal("expected fresh hash to be current")
	}
	stronger, err := NewHasher(MinCost + 1)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	if !stronger.NeedsRehash(hash) {
		t.Fatal("expected cost change to require rehash")
	}
}

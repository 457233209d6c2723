package auth

import (
	"testing"

	"github.com/bunbase/bunbase/internal/config"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h := NewHasher(config.PasswordConfig{MinLength: 8})

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := Verify("correct horse battery staple", hash); err != nil {
		t.Errorf("expected matching password to verify, got %v", err)
	}
	if err := Verify("wrong password", hash); err == nil {
		t.Error("expected mismatched password to fail verification")
	}
}

func TestHashRejectsTooShortPassword(t *testing.T) {
	h := NewHasher(config.PasswordConfig{MinLength: 8})
	if _, err := h.Hash("short"); err == nil {
		t.Error("expected a too-short password to be rejected")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	if err := Verify("anything", "not-a-valid-hash"); err == nil {
		t.Error("expected malformed hash to fail verification")
	}
}

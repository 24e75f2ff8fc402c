package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignParse(t *testing.T) {
	tok, err := SignJWT("cli", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != "cli" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestParse_Rejects(t *testing.T) {
	tok, _ := SignJWT("cli", "secret", time.Hour)
	if _, err := ParseJWT(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	expired, _ := SignJWT("cli", "secret", -time.Minute)
	if _, err := ParseJWT(expired, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := SignJWT("cli", "", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

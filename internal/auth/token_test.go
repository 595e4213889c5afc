package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testUser = "9b2f3c52-4f0e-4a5c-9d61-0c1f1e9a7a11"

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "", Identity{UserID: testUser, Name: "Avery", Email: "avery@example.com", Staff: true}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	identity, err := NewVerifier(secret, "").Verify(issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.UserID != testUser || identity.Name != "Avery" || !identity.Staff {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "", Identity{UserID: testUser}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := NewVerifier(secret, "").Verify(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), "", Identity{UserID: testUser}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	cases := map[string]string{
		"wrong secret": issued,
		"truncated":    issued[:strings.LastIndex(issued, ".")],
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewVerifier([]byte("other"), "").Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifyRequiresUUIDSubject(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "", Identity{UserID: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := NewVerifier(secret, "").Verify(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyChecksIssuer(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "https://id.example.com", Identity{UserID: testUser}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := NewVerifier(secret, "https://other.example.com").Verify(issued); err == nil {
		t.Fatal("Verify() accepted foreign issuer")
	}
	if _, err := NewVerifier(secret, "https://id.example.com").Verify(issued); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Fatal("IdentityFrom(empty) ok = true")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: testUser})
	identity, ok := IdentityFrom(ctx)
	if !ok || identity.UserID != testUser {
		t.Fatalf("IdentityFrom() = %+v, %v", identity, ok)
	}
}

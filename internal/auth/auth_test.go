package auth

import (
	"errors"
	"testing"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("alice", 1234)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Username != "alice" || claims.Rating != 1234 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").Issue("alice", 1200)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier("secret-b").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier("test-secret")
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestIssueRejectsEmptyUsername(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, err := v.Issue("  ", 1200); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

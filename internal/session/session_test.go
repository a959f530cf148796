package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"envds.org/internal/auth"
)

func testSecret() []byte {
	return bytes.Repeat([]byte{'s'}, 32)
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New([]byte("too-short")); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := New(testSecret()); err != nil {
		t.Fatalf("unexpected error for 32-byte secret: %v", err)
	}
}

func TestIssueThenVerify(t *testing.T) {
	svc, err := New(testSecret())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := auth.Principal{ID: "u-42", Email: "provider@example.com", Role: auth.RoleProvider}
	token, expiresAt, err := svc.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if until := time.Until(expiresAt); until < 6*24*time.Hour {
		t.Fatalf("expected roughly 7-day validity, got %v", until)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != p {
		t.Fatalf("principal mismatch: %+v != %+v", got, p)
	}
}

func TestVerifyExpired(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := issuedAt
	svc, err := New(testSecret(), WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, _, err := svc.Issue(auth.Principal{ID: "u-1", Email: "a@b.c", Role: auth.RolePublic})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Signature is still valid; only time has moved past expiresAt.
	clock = issuedAt.Add(8 * 24 * time.Hour)
	if _, err := svc.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	svc1, _ := New(testSecret())
	svc2, _ := New(bytes.Repeat([]byte{'x'}, 32))

	token, _, err := svc1.Issue(auth.Principal{ID: "u-1", Email: "a@b.c", Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc2.Verify(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	svc, _ := New(testSecret())
	for _, token := range []string{"", "garbage", "a.b", strings.Repeat("x.", 5)} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", token, err)
		}
	}
}

func TestIssueRejectsInvalidRole(t *testing.T) {
	svc, _ := New(testSecret())
	if _, _, err := svc.Issue(auth.Principal{ID: "u-1", Role: auth.Role("SUPERUSER")}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, _, err := svc.Issue(auth.Principal{Role: auth.RoleAdmin}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

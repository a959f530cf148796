package auth

import (
	"context"
	"testing"
)

func TestCanAccess(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleAdmin, AdminArea, true},
		{RoleAdmin, ProviderArea, true},
		{RoleProvider, AdminArea, false},
		{RoleProvider, ProviderArea, true},
		{RolePublic, AdminArea, false},
		{RolePublic, ProviderArea, false},
		{Role("bogus"), ProviderArea, false},
		{RoleAdmin, Capability("bogus"), false},
	}
	for _, tc := range cases {
		if got := CanAccess(tc.role, tc.cap); got != tc.want {
			t.Fatalf("CanAccess(%s, %s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("PROVIDER"); !ok || r != RoleProvider {
		t.Fatalf("ParseRole(PROVIDER) = %v, %v", r, ok)
	}
	if _, ok := ParseRole("provider"); ok {
		t.Fatal("roles are case-sensitive domain values")
	}
	if _, ok := ParseRole(""); ok {
		t.Fatal("empty role accepted")
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("unexpected principal in empty context")
	}

	p := Principal{ID: "u1", Email: "u1@example.com", Role: RoleProvider}
	ctx = ContextWithPrincipal(ctx, p)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got != p {
		t.Fatalf("principal round trip failed: %v, %v", got, ok)
	}
}

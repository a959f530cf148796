// Package users holds account records and credential checks. Passwords
// are stored as bcrypt hashes; role assignment is admin-only except for
// the bootstrap list, which promotes known operator emails on signup.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/ids"
)

var (
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

const (
	minPasswordLen = 8
	listLimit      = 200
)

// User is one stored account. PasswordHash never leaves the package.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         auth.Role `json:"role"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAtMs  int64     `json:"createdAtMs"`
}

func (u User) principal() auth.Principal {
	return auth.Principal{ID: u.ID, Email: u.Email, Role: u.Role}
}

// Service manages accounts.
type Service struct {
	col             docstore.Collection
	rec             *audit.Recorder
	bootstrapAdmins map[string]bool
	now             func() time.Time
}

// NewService constructs the user service. bootstrapAdmins lists emails
// that receive the ADMIN role at signup.
func NewService(store docstore.Store, rec *audit.Recorder, bootstrapAdmins []string) *Service {
	set := make(map[string]bool, len(bootstrapAdmins))
	for _, e := range bootstrapAdmins {
		if e = normalizeEmail(e); e != "" {
			set[e] = true
		}
	}
	return &Service{
		col:             store.Collection(docstore.Users),
		rec:             rec,
		bootstrapAdmins: set,
		now:             time.Now,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

// Signup creates an account. Self-service signups are limited to the
// PROVIDER and PUBLIC roles; emails on the bootstrap list become ADMIN
// regardless of what was requested.
func (s *Service) Signup(ctx context.Context, email, password string, requested auth.Role) (auth.Principal, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return auth.Principal{}, fmt.Errorf("%w: malformed email", auth.ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return auth.Principal{}, fmt.Errorf("%w: password shorter than %d characters", auth.ErrInvalidInput, minPasswordLen)
	}

	role := requested
	if role != auth.RoleProvider && role != auth.RolePublic {
		role = auth.RolePublic
	}
	if s.bootstrapAdmins[email] {
		role = auth.RoleAdmin
	}

	if _, err := s.byEmail(ctx, email); err == nil {
		return auth.Principal{}, ErrEmailTaken
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return auth.Principal{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           ids.New(),
		Email:        email,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAtMs:  s.now().UTC().UnixMilli(),
	}
	doc, err := docstore.FromStruct(u)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("encode user: %w", err)
	}
	if err := s.col.Put(ctx, u.ID, doc); err != nil {
		return auth.Principal{}, fmt.Errorf("store user: %w", err)
	}

	p := u.principal()
	_ = s.rec.RecordFor(ctx, p, audit.Entry{
		Action:     audit.ActionSignup,
		TargetType: audit.TargetUser,
		TargetID:   u.ID,
		Metadata:   map[string]any{"role": string(role)},
	})
	return p, nil
}

// Login verifies the credentials and audits the login. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (auth.Principal, error) {
	u, err := s.byEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return auth.Principal{}, ErrInvalidCredentials
		}
		return auth.Principal{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return auth.Principal{}, ErrInvalidCredentials
	}

	p := u.principal()
	_ = s.rec.RecordFor(ctx, p, audit.Entry{
		Action:     audit.ActionLogin,
		TargetType: audit.TargetUser,
		TargetID:   u.ID,
	})
	return p, nil
}

// Logout only audits; session tokens are stateless and expire on their
// own.
func (s *Service) Logout(ctx context.Context, actor auth.Principal) {
	_ = s.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionLogout,
		TargetType: audit.TargetUser,
		TargetID:   actor.ID,
	})
}

// Get returns one account without its password hash.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	doc, err := s.col.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return User{}, auth.ErrNotFound
		}
		return User{}, err
	}
	var u User
	if err := docstore.ToStruct(doc, &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	u.PasswordHash = ""
	return u, nil
}

// List returns accounts for the admin user screen, hashes stripped.
func (s *Service) List(ctx context.Context, actor auth.Principal) ([]User, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return nil, auth.ErrForbidden
	}
	docs, err := s.col.Query(ctx, docstore.Query{
		OrderBy: "createdAtMs",
		Limit:   listLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]User, 0, len(docs))
	for _, doc := range docs {
		var u User
		if err := docstore.ToStruct(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		u.PasswordHash = ""
		out = append(out, u)
	}
	return out, nil
}

// SetRole changes an account's role. Admin-only, and an admin cannot
// demote themselves, which would strand the deployment without one.
func (s *Service) SetRole(ctx context.Context, actor auth.Principal, id string, role auth.Role) (User, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return User{}, auth.ErrForbidden
	}
	if _, ok := auth.ParseRole(string(role)); !ok {
		return User{}, fmt.Errorf("%w: invalid role %q", auth.ErrInvalidInput, role)
	}
	if id == actor.ID && role != auth.RoleAdmin {
		return User{}, fmt.Errorf("%w: cannot remove own admin role", auth.ErrInvalidInput)
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	previous := u.Role
	if err := s.col.Merge(ctx, id, docstore.Document{"role": string(role)}); err != nil {
		return User{}, fmt.Errorf("update role: %w", err)
	}
	u.Role = role

	_ = s.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionSetRole,
		TargetType: audit.TargetUser,
		TargetID:   id,
		Metadata: map[string]any{
			"previousRole": string(previous),
			"newRole":      string(role),
		},
	})
	return u, nil
}

func (s *Service) byEmail(ctx context.Context, email string) (User, error) {
	docs, err := s.col.Query(ctx, docstore.Query{
		Eq:    map[string]any{"email": email},
		Limit: 1,
	})
	if err != nil {
		return User{}, err
	}
	if len(docs) == 0 {
		return User{}, docstore.ErrNotFound
	}
	var u User
	if err := docstore.ToStruct(docs[0], &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

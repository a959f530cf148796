// Package session issues and verifies the stateless signed tokens that
// carry an identity between requests. Tokens are self-contained: there
// is no server-side session store, so revocation happens only through
// expiry or the client discarding its cookie. A role change therefore
// takes effect on the next issuance, not retroactively.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"envds.org/internal/auth"
)

const (
	defaultIssuer = "envds"
	defaultTTL    = 7 * 24 * time.Hour
	minSecretLen  = 32
)

// Verification failure reasons. The HTTP layer treats all three as
// UNAUTHENTICATED but logs them distinctly.
var (
	ErrMalformed        = errors.New("session: malformed token")
	ErrInvalidSignature = errors.New("session: invalid signature")
	ErrExpired          = errors.New("session: token expired")
)

// Claims is the signed payload embedded in every session token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens with a symmetric secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTTL overrides the validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New validates the signing secret and constructs a Service. Secrets
// shorter than 32 bytes are rejected here so a misconfigured process
// fails at startup rather than on the first login.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("session: secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	s := &Service{
		secret: secret,
		issuer: defaultIssuer,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token embedding the principal's id, email and role.
func (s *Service) Issue(p auth.Principal) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, errors.New("session: principal id is required")
	}
	if _, ok := auth.ParseRole(string(p.Role)); !ok {
		return "", time.Time{}, fmt.Errorf("session: invalid role %q", p.Role)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Email: p.Email,
		Role:  string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and time bounds and returns the embedded
// principal. The role is trusted as-issued; no live user-store re-check
// happens here.
func (s *Service) Verify(token string) (auth.Principal, error) {
	if token == "" {
		return auth.Principal{}, ErrMalformed
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return auth.Principal{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return auth.Principal{}, ErrInvalidSignature
		default:
			return auth.Principal{}, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return auth.Principal{}, ErrMalformed
	}
	if claims.Issuer != s.issuer || claims.Subject == "" {
		return auth.Principal{}, ErrMalformed
	}
	role, ok := auth.ParseRole(claims.Role)
	if !ok {
		return auth.Principal{}, ErrMalformed
	}

	return auth.Principal{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  role,
	}, nil
}

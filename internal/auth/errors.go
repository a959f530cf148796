package auth

import "errors"

// Error taxonomy shared across services. The HTTP layer maps these to
// status codes; UNAUTHENTICATED and FORBIDDEN stay distinct outcomes.
var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
)

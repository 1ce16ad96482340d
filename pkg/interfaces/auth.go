package interfaces

import (
	"errors"

	"codesync/pkg/types"
)

// Token verification failures. All of them reject the connection outright
// at establishment time; there is no per-message re-authentication.
var (
	ErrTokenMissing = errors.New("missing bearer token")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenVerifier validates a bearer token issued out of band by the external
// identity service and yields the claims that populate the connection for
// its lifetime.
type TokenVerifier interface {
	Verify(token string) (*types.Claims, error)
}

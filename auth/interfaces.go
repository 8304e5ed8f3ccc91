// Package auth provides request authentication for the CloudFS HTTP API.
package auth

import (
	"context"
	"errors"
)

// Common authentication errors
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidToken         = errors.New("invalid token")
)

// Authenticator defines the interface for client authentication
type Authenticator interface {
	// Authenticate validates a credential and returns the identity it belongs to
	Authenticate(ctx context.Context, token string) (clientID string, err error)
}

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// APIKeyAuthenticator implements authentication using static API keys
type APIKeyAuthenticator struct {
	keys []apiKey
}

type apiKey struct {
	digest [sha256.Size]byte
	id     string
}

// NewAPIKeyAuthenticator creates a new API key authenticator. Empty keys are ignored.
func NewAPIKeyAuthenticator(keys []string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		digest := sha256.Sum256([]byte(key))
		a.keys = append(a.keys, apiKey{
			digest: digest,
			id:     "key-" + hex.EncodeToString(digest[:4]),
		})
	}
	return a
}

// Authenticate validates a raw key or "Bearer <key>" value and returns a stable,
// non-secret identifier for the matching key
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}

	// Every key is compared so timing does not reveal which one matched
	digest := sha256.Sum256([]byte(token))
	clientID := ""
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) == 1 {
			clientID = k.id
		}
	}

	if clientID == "" {
		return "", ErrAuthenticationFailed
	}
	return clientID, nil
}

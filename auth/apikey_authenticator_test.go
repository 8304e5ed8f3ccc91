package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator([]string{"first-secret-key", "", "second-secret-key"})
	ctx := context.Background()

	first, err := a.Authenticate(ctx, "first-secret-key")
	require.NoError(t, err)
	assert.Contains(t, first, "key-")
	assert.NotContains(t, first, "secret")

	bearer, err := a.Authenticate(ctx, "Bearer first-secret-key")
	require.NoError(t, err)
	assert.Equal(t, first, bearer)

	second, err := a.Authenticate(ctx, "  second-secret-key ")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = a.Authenticate(ctx, "wrong-key")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = a.Authenticate(ctx, "Bearer ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoKeysRejectsEverything(t *testing.T) {
	a := NewAPIKeyAuthenticator(nil)
	_, err := a.Authenticate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

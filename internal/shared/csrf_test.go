package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFTokenStableWithinSession(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	first, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	second, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, csrf.VerifyToken(ctx, sess, first))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, first+"x"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, nil, first), ErrCSRFTokenMissing)
}

func TestCSRFTokenRotatesOnSignIn(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	before, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)

	sm.Renew(sess)
	after, err := csrf.RotateToken(sess)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, before), ErrCSRFTokenMismatch)
	assert.NoError(t, csrf.VerifyToken(ctx, sess, after))

	_, err = csrf.RotateToken(nil)
	assert.Error(t, err)
}

func TestCSRFTokensAreNeverReused(t *testing.T) {
	csrf := NewCSRFManager("csrf-secret")
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		token := csrf.generateToken("same-session")
		assert.False(t, seen[token])
		seen[token] = true
	}
}

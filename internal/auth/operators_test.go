package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/robcowart/certseal/internal/config"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-42"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAuthenticator([]config.OperatorConfig{
		{Username: "alice", PasswordHash: string(hash), Role: RoleAdmin},
		{Username: "bob", PasswordHash: string(hash), Role: RoleOperator},
	}, config.JWTConfig{Secret: "jwt-secret-0123456789abcdef0123456789abcd", Issuer: "certseal", Expiration: time.Hour})
	require.NoError(t, err)
	return a
}

func TestAuthenticator_Login(t *testing.T) {
	a := newTestAuthenticator(t)

	t.Run("Valid credentials", func(t *testing.T) {
		session, err := a.Login("bob", "correct-horse-42")
		require.NoError(t, err)
		assert.Equal(t, "bob", session.Username)
		assert.Equal(t, RoleOperator, session.Role)
		assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

		claims, err := a.Validate(session.Token)
		require.NoError(t, err)
		assert.Equal(t, "bob", claims.Username)
		assert.Equal(t, RoleOperator, claims.Role)
	})

	t.Run("Wrong password", func(t *testing.T) {
		_, err := a.Login("alice", "wrong-horse-42")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("Unknown operator", func(t *testing.T) {
		_, err := a.Login("mallory", "correct-horse-42")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticator_Issue(t *testing.T) {
	a := newTestAuthenticator(t)

	session, err := a.Issue("ci", RoleAdmin)
	require.NoError(t, err)

	claims, err := a.Validate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestNewAuthenticator_RejectsBadHash(t *testing.T) {
	_, err := NewAuthenticator([]config.OperatorConfig{
		{Username: "alice", PasswordHash: "plaintext", Role: RoleAdmin},
	}, config.JWTConfig{Secret: "x"})
	assert.Error(t, err)
}

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	t.Run("Hash is salted", func(t *testing.T) {
		hash1, err := HashPassword("correct-horse-42")
		require.NoError(t, err)
		hash2, err := HashPassword("correct-horse-42")
		require.NoError(t, err)

		assert.NotEqual(t, "correct-horse-42", hash1)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("Hash uses configured cost", func(t *testing.T) {
		hash, err := HashPassword("correct-horse-42")
		require.NoError(t, err)

		cost, err := bcrypt.Cost([]byte(hash))
		require.NoError(t, err)
		assert.Equal(t, BcryptCost, cost)
	})
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-42")
	require.NoError(t, err)

	assert.NoError(t, VerifyPassword("correct-horse-42", hash))
	assert.ErrorIs(t, VerifyPassword("Correct-horse-42", hash), bcrypt.ErrMismatchedHashAndPassword)
	assert.Error(t, VerifyPassword("correct-horse-42", "invalid-hash"))
	assert.Error(t, VerifyPassword("correct-horse-42", ""))
}

func TestValidatePasswordStrength(t *testing.T) {
	testCases := []struct {
		name     string
		username string
		password string
		wantErr  string
	}{
		{"Valid password", "alice", "correct-horse-42", ""},
		{"Unicode letters count", "alice", "пароль-пароль-7", ""},
		{"Too short", "alice", "short-1", "at least 12 characters"},
		{"Too long", "alice", strings.Repeat("a1", 40), "at most 72 bytes"},
		{"Missing number", "alice", "correct-horse-battery", "at least one number"},
		{"Missing letter", "alice", "1234-5678-9012", "at least one letter"},
		{"Contains username", "alice", "xxAlice-2025xx", "must not contain the username"},
		{"Empty", "alice", "", "at least 12 characters"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tc.username, tc.password)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_ValidPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"8 characters", "password"},
		{"long password", "this-is-a-very-long-password-123!@#"},
		{"with special chars", "p@ssw0rd!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.True(t, len(hash) >= 60, "bcrypt hash should be at least 60 chars")
		})
	}
}

func TestHashPassword_ShortPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"7 characters", "1234567"},
		{"empty", ""},
		{"spaces only", "       "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			assert.ErrorIs(t, err, ErrPasswordTooShort)
			assert.Empty(t, hash)
		})
	}
}

func TestHashPassword_DifferentHashesForSamePassword(t *testing.T) {
	password := "testpassword123"

	hash1, err := HashPassword(password)
	require.NoError(t, err)

	hash2, err := HashPassword(password)
	require.NoError(t, err)

	// bcrypt generates different hashes due to random salt
	assert.NotEqual(t, hash1, hash2)
}

func TestCheckPassword_CorrectPassword(t *testing.T) {
	hash, err := HashPassword("correctpassword")
	require.NoError(t, err)

	assert.True(t, CheckPassword("correctpassword", hash))
}

func TestCheckPassword_WrongPassword(t *testing.T) {
	hash, err := HashPassword("correctpassword")
	require.NoError(t, err)

	assert.False(t, CheckPassword("wrongpassword", hash))
}

func TestCheckPassword_InvalidHash(t *testing.T) {
	assert.False(t, CheckPassword("password", "invalid-hash"))
	assert.False(t, CheckPassword("password", ""))
}

func TestCheckPassword_CaseSensitive(t *testing.T) {
	hash, err := HashPassword("Password123")
	require.NoError(t, err)

	assert.True(t, CheckPassword("Password123", hash))
	assert.False(t, CheckPassword("password123", hash))
}

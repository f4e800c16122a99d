package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOpaqueToken_Unique(t *testing.T) {
	a := generateOpaqueToken()
	b := generateOpaqueToken()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGenerateSalt_Unique(t *testing.T) {
	a := generateSalt()
	b := generateSalt()
	assert.Len(t, a, 32) // 16 bytes hex-encoded
	assert.NotEqual(t, a, b)
}

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	hash, salt, err := hashPassword("s3cret", 4)
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEmpty(t, salt)

	assert.True(t, verifyPassword("s3cret", salt, hash))
	assert.False(t, verifyPassword("wrong", salt, hash))
}

func TestHashPassword_DifferentSaltsDifferentHashes(t *testing.T) {
	hash1, salt1, err := hashPassword("s3cret", 4)
	assert.NoError(t, err)
	hash2, salt2, err := hashPassword("s3cret", 4)
	assert.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestOAuthError_Error(t *testing.T) {
	err := oauthErr(ErrInvalidClient, "unknown client")
	assert.Equal(t, ErrInvalidClient, err.Code)
	assert.Contains(t, err.Error(), "invalid_client")
	assert.Contains(t, err.Error(), "unknown client")
}

func TestRedirectError_Error(t *testing.T) {
	err := redirectErr("https://app.example.com/cb", ErrInvalidScope, "xyz")
	assert.Equal(t, "https://app.example.com/cb", err.RedirectURI)
	assert.Equal(t, "xyz", err.State)
	assert.Contains(t, err.Error(), ErrInvalidScope)
}

func TestIsSubsetScope(t *testing.T) {
	assert.True(t, isSubsetScope("read", "read write"))
	assert.True(t, isSubsetScope("", "read write"))
	assert.False(t, isSubsetScope("admin", "read write"))
}

func TestValidScopeFormat(t *testing.T) {
	assert.True(t, validScopeFormat("read write device_ctrl"))
	assert.True(t, validScopeFormat(""))
	assert.False(t, validScopeFormat("read;drop"))
}

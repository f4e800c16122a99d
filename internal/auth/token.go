package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// generateOpaqueToken mints a URL-safe random token — access/refresh
// tokens and authorization codes are opaque random strings here, not
// JWTs, matching the original implementation's token model (no local
// claim-encoding format to keep compatible across store rows).
func generateOpaqueToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// generateSessionID mints a login-session or authorization-code id of
// the same shape as an opaque token.
func generateSessionID() string { return generateOpaqueToken() }

// generateSalt mints the per-user password salt stored alongside the
// bcrypt hash.
func generateSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: failed to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

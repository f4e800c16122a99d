package auth

import "golang.org/x/crypto/bcrypt"

// hashPassword combines the password with a random per-user salt
// before running bcrypt, so rotating the salt alone invalidates a
// hash without needing to know the original password.
func hashPassword(password string, cost int) (hash, salt string, err error) {
	salt = generateSalt()
	h, err := bcrypt.GenerateFromPassword([]byte(password+salt), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), salt, nil
}

// verifyPassword runs in constant time relative to the hash via
// bcrypt's own comparison, satisfying spec §4.1's "constant-time"
// password check.
func verifyPassword(password, salt, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password+salt)) == nil
}

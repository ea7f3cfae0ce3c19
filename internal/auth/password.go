package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordLen = 72

var ErrLongPassword = fmt.Errorf("password must be at most %d bytes", maxPasswordLen)

// hashPassword returns the bcrypt hash stored for an admin profile.
func hashPassword(password string) (string, error) {
	switch {
	case len(password) < minPasswordLen:
		return "", ErrWeakPassword
	case len(password) > maxPasswordLen:
		return "", ErrLongPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// passwordMatches reports whether password matches an admin's stored hash.
// Member profiles have no hash and never match.
func passwordMatches(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

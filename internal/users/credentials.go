package users

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// ErrWeakPassword indicates that a password is shorter than MinPasswordLength.
var ErrWeakPassword = errors.New("users: password too short")

// HashCredential derives a salted bcrypt hash of password.
func HashCredential(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// VerifyCredential reports whether password matches the user's stored credential.
// Records that predate hashing are checked against their legacy plaintext value.
func VerifyCredential(user User, password string) bool {
	if password == "" {
		return false
	}
	if user.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	}
	if user.legacyCredential != "" {
		return plainEqual(user.legacyCredential, password)
	}
	return false
}

func plainEqual(expected, given string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

// UpgradeLegacyCredential replaces the plaintext credential of a record that
// predates hashing with its bcrypt hash. It reports whether the record must be
// rewritten. A record that already has a hash just drops the plaintext.
func UpgradeLegacyCredential(user User) (User, bool, error) {
	if user.legacyCredential == "" {
		return user, false, nil
	}
	if user.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.legacyCredential), bcrypt.DefaultCost)
		if err != nil {
			return user, false, fmt.Errorf("upgrade credential %s: %w", user.ID, err)
		}
		user.PasswordHash = string(hash)
	}
	return user.WithoutLegacyCredential(), true, nil
}

// Package auth implements access keys for protected endpoints. The
// cleartext key is handed out once at creation; only its bcrypt hash is
// ever stored.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks access keys so they are recognizable in logs and
// tooling without revealing anything about their value.
const KeyPrefix = "whs_"

// GenerateKey returns a new access key: the prefix followed by 32 hex
// characters (128 bits of entropy).
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashKey returns the bcrypt hash to persist for a key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access key: %w", err)
	}
	return string(hash), nil
}

// VerifyKey reports whether the supplied key matches the stored hash.
// bcrypt comparison is deliberately slow and constant-time.
func VerifyKey(key, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(key)) == nil
}

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// API keys have the form "pgp_<prefix>_<secret>". The prefix is stored in
// clear for lookup; only a bcrypt hash of the full key is persisted.
const apiKeyScheme = "pgp"

// NewAPIKey generates a fresh API key, returning the plaintext key, its
// lookup prefix, and the bcrypt hash to store.
func NewAPIKey() (plaintext, prefix, hash string, err error) {
	buf := make([]byte, 20)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}

	prefix = hex.EncodeToString(buf[:4])
	secret := hex.EncodeToString(buf[4:])
	plaintext = fmt.Sprintf("%s_%s_%s", apiKeyScheme, prefix, secret)

	hash, err = HashSecret(plaintext)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash key: %w", err)
	}
	return plaintext, prefix, hash, nil
}

// ParseAPIKeyPrefix extracts the lookup prefix from a presented key.
// Returns an error if the key does not have the expected shape.
func ParseAPIKeyPrefix(key string) (string, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("malformed API key")
	}
	return parts[1], nil
}

// VerifyAPIKey checks a presented key against the stored hash
func VerifyAPIKey(storedHash, presented string) error {
	return CompareSecret(storedHash, presented)
}

package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a plain text secret using bcrypt
func HashSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareSecret compares a bcrypt hashed secret with a plain text secret
func CompareSecret(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

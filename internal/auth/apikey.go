package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the cost used for relay API key hashes.
const bcryptCost = 10

// HashAPIKey generates a bcrypt hash of a relay API key for the config file.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("hash api key: empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyChecker compares presented keys against a configured bcrypt hash.
// bcrypt is slow on purpose, so the last accepted key is remembered.
type APIKeyChecker struct {
	hash []byte

	mu       sync.Mutex
	accepted []byte
}

// NewAPIKeyChecker returns a checker for hash. An empty hash rejects everything.
func NewAPIKeyChecker(hash string) *APIKeyChecker {
	return &APIKeyChecker{hash: []byte(hash)}
}

// Check reports whether key matches the configured hash.
func (c *APIKeyChecker) Check(key string) bool {
	if len(c.hash) == 0 || key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accepted != nil && subtle.ConstantTimeCompare(c.accepted, []byte(key)) == 1 {
		return true
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(key)); err != nil {
		return false
	}
	c.accepted = []byte(key)
	return true
}

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeyPrefix marks raw keys issued by this service.
const KeyPrefix = "akm_"

// HashKey computes the SHA-256 hex digest of a raw API key. Keys are
// looked up by this digest, so it must stay deterministic.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a fresh raw API key: the service prefix plus 32
// random bytes, URL-safe base64 without padding.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

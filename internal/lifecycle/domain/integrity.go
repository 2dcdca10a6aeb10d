package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
)

// HashLength is the length of a rendered integrity digest.
const HashLength = sha256.Size * 2

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ComputeHash returns the lowercase hex SHA-256 of the artifact bytes.
func ComputeHash(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether artifact hashes to stored.
func VerifyHash(artifact []byte, stored string) bool {
	if !IsValidHash(stored) {
		return false
	}
	computed := ComputeHash(artifact)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

// IsValidHash reports whether s is a well-formed digest.
func IsValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

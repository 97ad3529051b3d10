// Package crypto implements confirmation token generation and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	tokenLen = 32
	saltLen  = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashToken returns the Argon2id hash of token using the provided salt.
func HashToken(token, salt []byte) []byte {
	return argon2.IDKey(token, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyToken verifies token against expected Argon2id hash and salt.
func VerifyToken(token, salt, expected []byte) bool {
	got := HashToken(token, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewToken returns a URL-safe token for the confirmation link together with
// the salt and hash to store. Only the hash is persisted.
func NewToken() (token string, salt, hash []byte, err error) {
	raw, err := RandBytes(tokenLen)
	if err != nil {
		return "", nil, nil, err
	}
	salt, err = RandBytes(saltLen)
	if err != nil {
		return "", nil, nil, err
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, salt, HashToken([]byte(token), salt), nil
}

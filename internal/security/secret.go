package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SecretLength is the length of generated bearer secrets. 40 characters over
// a 62-symbol alphabet is well above the 30-character floor required for
// access and refresh tokens.
const SecretLength = 40

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSecret returns a cryptographically random opaque secret of n
// characters drawn from an alphanumeric alphabet. Used for access and
// refresh token values and client secrets.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = SecretLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = secretAlphabet[int(b[i])%len(secretAlphabet)]
	}
	return string(b), nil
}

// HashSecret returns a SHA-256 hash of the secret string, hex-encoded.
// Used for storing and looking up bearer secrets without storing raw values.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// SecretEqual performs constant-time comparison of the provided secret's hash
// with the stored hash. Returns true only if they match.
func SecretEqual(providedSecret, storedHash string) bool {
	providedHash := HashSecret(providedSecret)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

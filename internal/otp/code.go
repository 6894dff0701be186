package otp

import "crypto/rand"

// Code alphabets. The alphanumeric alphabet is lowercase-only so codes
// survive case-mangling mail clients.
const (
	AlphabetNumeric      = "0123456789"
	AlphabetAlphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateCode returns a random code of length characters drawn from
// alphabet. Uses crypto/rand for randomness.
func GenerateCode(length int, alphabet string) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, length)
	for i := 0; i < length; i++ {
		s[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(s), nil
}

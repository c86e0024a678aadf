package transfer

import (
	"crypto/rand"
)

const (
	shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	shareCodeLength   = 8
)

// GenerateShareCode produces an 8 character uppercase alphanumeric code
// from a cryptographically strong random source. The 36^8 code space makes
// collisions statistically rare but not impossible; global uniqueness is
// the stor's job, which retries on a unique index conflict.
func GenerateShareCode() (string, error) {
	buf := make([]byte, shareCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	code := make([]byte, shareCodeLength)
	for i, b := range buf {
		code[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}

	return string(code), nil
}

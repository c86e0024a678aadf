package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// Hashing is streaming sha256; digests are lowercase hex. The
// same digest form is used for whole files and individual chunks.

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader computes the digest incrementally so callers never need the
// full content in memory.
func HashReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyBytes returns ErrChecksumMismatch when data does not hash to
// expectedDigest. Digest comparison is case insensitive.
func VerifyBytes(data []byte, expectedDigest string) error {
	return compareDigests(HashBytes(data), expectedDigest)
}

func VerifyReader(r io.Reader, expectedDigest string) error {
	digest, err := HashReader(r)
	if err != nil {
		return err
	}

	return compareDigests(digest, expectedDigest)
}

func compareDigests(got, expected string) error {
	if !strings.EqualFold(got, expected) {
		return ErrChecksumMismatch
	}

	return nil
}

package transfer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var shareCodePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

func TestGenerateShareCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateShareCode()
		require.NoError(t, err)
		require.Truef(t, shareCodePattern.MatchString(code), "bad share code %q", code)
	}
}

func TestGenerateShareCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateShareCode()
		require.NoError(t, err)
		seen[code] = true
	}

	// 200 draws from a 36^8 space colliding down to a handful of values
	// would mean the random source is broken.
	require.Greater(t, len(seen), 190)
}

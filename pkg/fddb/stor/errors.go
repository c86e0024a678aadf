package stor

import "errors"

// Download ineligibility and allocation errors produced by the stor layer.
// Callers compare with errors.Is and turn each into a precise user-facing
// message; none of these are unexpected failures.
var (
	// ErrNotFound means no record exists for the share code or id.
	ErrNotFound = errors.New("file not found")

	// ErrInactive means the record exists but has been deactivated.
	ErrInactive = errors.New("file is not active")

	// ErrExpired means the record's expiry time has passed.
	ErrExpired = errors.New("file has expired")

	// ErrQuotaExceeded means the download quota has been used up.
	ErrQuotaExceeded = errors.New("download limit reached")

	// ErrCodeSpaceExhausted means share code generation kept colliding
	// past the retry bound. Practically unreachable with an 8 character
	// code space.
	ErrCodeSpaceExhausted = errors.New("unable to allocate a unique share code")
)

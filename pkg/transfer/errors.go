package transfer

import (
	"errors"

	"github.com/filedrop/filedrop/pkg/fddb/stor"
)

// Upload side errors.
var (
	// ErrChecksumMismatch means bytes did not hash to the declared digest.
	// The chunk (or file) is rejected and can be resent; never fatal to
	// the session.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrIncompleteUpload means assembly was attempted before every
	// expected chunk was received and verified.
	ErrIncompleteUpload = errors.New("upload is not complete")

	// ErrFileTooLarge means the declared total size exceeds the
	// configured maximum.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

	// ErrInvalidChunk means the sequence number is outside the session's
	// expected range, or the chunk size disagrees with the session.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrSessionClosed means the session already assembled or was
	// abandoned and no longer accepts chunks.
	ErrSessionClosed = errors.New("upload session is closed")
)

// Download and allocation errors originate in the stor layer; they are
// re-exported here so callers of the transfer API only need this package.
var (
	ErrNotFound           = stor.ErrNotFound
	ErrInactive           = stor.ErrInactive
	ErrExpired            = stor.ErrExpired
	ErrQuotaExceeded      = stor.ErrQuotaExceeded
	ErrCodeSpaceExhausted = stor.ErrCodeSpaceExhausted
)

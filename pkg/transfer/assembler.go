package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/filedrop/filedrop/pkg/lock"
	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
)

// ChunkAssembler receives upload chunks out of order, verifies each one
// against its declared hash, and concatenates them exactly once into a
// final artifact registered as a FileRecord. Chunk bytes live under
// <root>/__chunks/<session-uuid>/<seq>.chunk until assembly.
type ChunkAssembler struct {
	stors  *stor.Stors
	root   string
	locker *lock.IdLocker

	// cfgMu guards cfg. Admin settings updates rewrite the limits while
	// uploads are in flight, so readers take a snapshot through config().
	cfgMu sync.RWMutex
	cfg   ServiceConfig
}

func NewChunkAssembler(stors *stor.Stors, root string, cfg ServiceConfig) *ChunkAssembler {
	return &ChunkAssembler{
		stors:  stors,
		root:   root,
		locker: lock.NewIdLocker(),
		cfg:    cfg,
	}
}

// config returns one coherent snapshot of the current limits.
func (a *ChunkAssembler) config() ServiceConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

func (a *ChunkAssembler) updateConfig(apply func(*ServiceConfig)) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	apply(&a.cfg)
}

// ChunkStatus reports upload completeness after a chunk is accepted.
type ChunkStatus struct {
	SequenceNumber int  `json:"sequence_number"`
	Received       int  `json:"received"`
	Total          int  `json:"total"`
	Complete       bool `json:"complete"`
}

// StartSessionParams describes the upload a session is opened for.
// MaxDownloads and ExpiresAt are optional; they carry through to the
// FileRecord created at assembly, with the default expiry applied when
// ExpiresAt is nil.
type StartSessionParams struct {
	OwnerID      int
	Filename     string
	MimeType     string
	TotalSize    int64
	ChunkSize    int64
	MaxDownloads int
	ExpiresAt    *time.Time
}

// StartSession opens an upload session for a file of TotalSize bytes split
// into ChunkSize pieces. The expected chunk count is fixed at session start;
// sequence numbers run 0..TotalChunks-1.
func (a *ChunkAssembler) StartSession(params StartSessionParams) (*fdmodel.UploadSession, error) {
	cfg := a.config()

	switch {
	case params.TotalSize <= 0:
		return nil, errors.Wrapf(ErrInvalidChunk, "total size %d", params.TotalSize)
	case params.TotalSize > cfg.MaxFileSize:
		return nil, ErrFileTooLarge
	case params.ChunkSize <= 0 || params.ChunkSize > cfg.MaxChunkSize:
		return nil, errors.Wrapf(ErrInvalidChunk, "chunk size %d", params.ChunkSize)
	}

	totalChunks := int((params.TotalSize + params.ChunkSize - 1) / params.ChunkSize)

	session, err := a.stors.UploadSessionStor.CreateSession(&fdmodel.UploadSession{
		OwnerID:      params.OwnerID,
		Filename:     filepath.Base(params.Filename),
		MimeType:     params.MimeType,
		TotalSize:    params.TotalSize,
		ChunkSize:    params.ChunkSize,
		TotalChunks:  totalChunks,
		MaxDownloads: params.MaxDownloads,
		ExpiresAt:    params.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.chunkDir(session.UUID), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating chunk dir for session %s", session.UUID)
	}

	return session, nil
}

// ReceiveChunk verifies the chunk bytes against declaredHash and persists
// them. A hash mismatch leaves no trace: the bytes are discarded and the
// chunk stays missing. Resending an accepted sequence number replaces the
// bytes in place (last write wins; every write is independently verified).
func (a *ChunkAssembler) ReceiveChunk(sessionUUID string, sequenceNumber int, r io.Reader, declaredHash string) (*ChunkStatus, error) {
	session, err := a.stors.UploadSessionStor.GetSessionByUUID(sessionUUID)
	if err != nil {
		return nil, err
	}

	if session.IsTerminal() {
		return nil, ErrSessionClosed
	}

	if sequenceNumber < 0 || sequenceNumber >= session.TotalChunks {
		return nil, errors.Wrapf(ErrInvalidChunk, "sequence %d of %d", sequenceNumber, session.TotalChunks)
	}

	written, err := a.writeVerifiedChunk(session, sequenceNumber, r, declaredHash)
	if err != nil {
		return nil, err
	}

	if _, err := a.stors.FileChunkStor.UpsertChunk(session.ID, sequenceNumber, written, declaredHash); err != nil {
		return nil, err
	}

	if err := a.stors.UploadSessionStor.Touch(session.ID); err != nil {
		log.Errorf("Failed updating activity for session %s: %s", session.UUID, err)
	}

	received, err := a.stors.FileChunkStor.CountUploaded(session.ID)
	if err != nil {
		return nil, err
	}

	status := &ChunkStatus{
		SequenceNumber: sequenceNumber,
		Received:       int(received),
		Total:          session.TotalChunks,
		Complete:       int(received) == session.TotalChunks,
	}

	if status.Complete {
		if err := a.stors.UploadSessionStor.MarkComplete(session.ID); err != nil {
			return nil, err
		}
	}

	return status, nil
}

// writeVerifiedChunk streams the chunk to a temp file while hashing, then
// renames it over the chunk path only when the digest matches. The rename
// keeps concurrent retransmissions of the same sequence number safe.
func (a *ChunkAssembler) writeVerifiedChunk(session *fdmodel.UploadSession, sequenceNumber int, r io.Reader, declaredHash string) (int64, error) {
	chunkDir := a.chunkDir(session.UUID)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return 0, errors.Wrapf(err, "creating chunk dir for session %s", session.UUID)
	}

	tmpFile, err := os.CreateTemp(chunkDir, "incoming-*")
	if err != nil {
		return 0, errors.Wrapf(err, "creating temp chunk for session %s", session.UUID)
	}

	tmpPath := tmpFile.Name()
	hasher := sha256.New()

	written, err := io.Copy(io.MultiWriter(tmpFile, hasher), io.LimitReader(r, session.ChunkSize+1))
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}

	switch {
	case err != nil:
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "writing chunk %d for session %s", sequenceNumber, session.UUID)
	case written > session.ChunkSize:
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(ErrInvalidChunk, "chunk %d larger than chunk size %d", sequenceNumber, session.ChunkSize)
	}

	if err := compareDigests(hex.EncodeToString(hasher.Sum(nil)), declaredHash); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, a.chunkPath(session.UUID, sequenceNumber)); err != nil {
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "storing chunk %d for session %s", sequenceNumber, session.UUID)
	}

	return written, nil
}

// IsComplete is true when every expected sequence number has a verified
// chunk.
func (a *ChunkAssembler) IsComplete(sessionUUID string) (bool, error) {
	session, err := a.stors.UploadSessionStor.GetSessionByUUID(sessionUUID)
	if err != nil {
		return false, err
	}

	received, err := a.stors.FileChunkStor.CountUploaded(session.ID)
	if err != nil {
		return false, err
	}

	return int(received) == session.TotalChunks, nil
}

// Assemble concatenates the session's chunks in sequence order into the
// final artifact, computes the whole file hash while writing, and registers
// the FileRecord. Calling it again on an assembled session returns the
// existing record. Assembly of a given session is serialized through the
// IdLocker, with the session state transition as the cross-process guard.
func (a *ChunkAssembler) Assemble(sessionUUID string) (*fdmodel.FileRecord, error) {
	var record *fdmodel.FileRecord

	err := a.locker.WithLock(sessionUUID, func() error {
		var err error
		record, err = a.assemble(sessionUUID)
		return err
	})

	return record, err
}

func (a *ChunkAssembler) assemble(sessionUUID string) (*fdmodel.FileRecord, error) {
	session, err := a.stors.UploadSessionStor.GetSessionByUUID(sessionUUID)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case fdmodel.SessionStateAssembled:
		return a.stors.FileRecordStor.GetRecordByID(session.FileRecordID)
	case fdmodel.SessionStateAbandoned:
		return nil, ErrSessionClosed
	}

	chunks, err := a.stors.FileChunkStor.GetChunksForSession(session.ID)
	if err != nil {
		return nil, err
	}

	if len(chunks) != session.TotalChunks {
		return nil, ErrIncompleteUpload
	}

	relPath, err := makeStoragePath(session.Filename)
	if err != nil {
		return nil, err
	}

	absPath := filepath.Join(a.root, relPath)
	checksum, size, err := a.concatenateChunks(session, chunks, absPath)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(a.config().DefaultExpiry)
	if session.ExpiresAt != nil {
		expiresAt = *session.ExpiresAt
	}

	record, err := a.stors.FileRecordStor.CreateRecord(stor.CreateRecordParams{
		OwnerID:          session.OwnerID,
		OriginalFilename: session.Filename,
		Path:             relPath,
		Size:             size,
		Checksum:         checksum,
		MimeType:         session.MimeType,
		MaxDownloads:     session.MaxDownloads,
		ExpiresAt:        expiresAt,
	}, GenerateShareCode)
	if err != nil {
		_ = os.Remove(absPath)
		return nil, err
	}

	alreadyAssembled, err := a.stors.UploadSessionStor.MarkAssembled(session.ID, record.ID)
	if err != nil {
		_ = os.Remove(absPath)
		return nil, err
	}

	if alreadyAssembled {
		// Another process won the assembly race. Drop our copy and hand
		// back the winner's record.
		_ = os.Remove(absPath)
		if err := a.stors.FileRecordStor.DeleteRecord(record.ID); err != nil {
			log.Errorf("Failed removing duplicate record %d for session %s: %s", record.ID, session.UUID, err)
		}

		if session, err = a.stors.UploadSessionStor.GetSessionByUUID(sessionUUID); err != nil {
			return nil, err
		}

		return a.stors.FileRecordStor.GetRecordByID(session.FileRecordID)
	}

	a.removeChunkStorage(session)

	return record, nil
}

func (a *ChunkAssembler) concatenateChunks(session *fdmodel.UploadSession, chunks []fdmodel.FileChunk, absPath string) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", 0, errors.Wrapf(err, "creating storage dir for session %s", session.UUID)
	}

	finalFile, err := os.Create(absPath)
	if err != nil {
		return "", 0, errors.Wrapf(err, "creating final file for session %s", session.UUID)
	}

	hasher := sha256.New()
	out := io.MultiWriter(finalFile, hasher)

	var totalSize int64
	for _, chunk := range chunks {
		n, err := a.appendChunk(out, session.UUID, chunk.SequenceNumber)
		if err != nil {
			_ = finalFile.Close()
			_ = os.Remove(absPath)
			return "", 0, err
		}

		totalSize += n
	}

	if err := finalFile.Close(); err != nil {
		_ = os.Remove(absPath)
		return "", 0, errors.Wrapf(err, "closing final file for session %s", session.UUID)
	}

	return hex.EncodeToString(hasher.Sum(nil)), totalSize, nil
}

func (a *ChunkAssembler) appendChunk(out io.Writer, sessionUUID string, sequenceNumber int) (int64, error) {
	chunkFile, err := os.Open(a.chunkPath(sessionUUID, sequenceNumber))
	if err != nil {
		return 0, errors.Wrapf(err, "opening chunk %d for session %s", sequenceNumber, sessionUUID)
	}
	defer chunkFile.Close()

	n, err := io.Copy(out, chunkFile)
	if err != nil {
		return 0, errors.Wrapf(err, "appending chunk %d for session %s", sequenceNumber, sessionUUID)
	}

	return n, nil
}

// ReclaimAbandoned deletes the partial chunk storage of sessions with no
// activity since the inactivity window and marks them abandoned. No
// FileRecord is ever created for a reclaimed session. Returns the number of
// sessions reclaimed.
func (a *ChunkAssembler) ReclaimAbandoned(inactivityWindow time.Duration) (int, error) {
	sessions, err := a.stors.UploadSessionStor.GetInactiveSince(time.Now().Add(-inactivityWindow))
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range sessions {
		session := &sessions[i]

		if err := a.stors.UploadSessionStor.MarkAbandoned(session.ID); err != nil {
			log.Errorf("Failed marking session %s abandoned: %s", session.UUID, err)
			continue
		}

		a.removeChunkStorage(session)
		reclaimed++
	}

	return reclaimed, nil
}

func (a *ChunkAssembler) removeChunkStorage(session *fdmodel.UploadSession) {
	if err := os.RemoveAll(a.chunkDir(session.UUID)); err != nil {
		log.Errorf("Failed removing chunk dir for session %s: %s", session.UUID, err)
	}

	if err := a.stors.FileChunkStor.DeleteChunksForSession(session.ID); err != nil {
		log.Errorf("Failed removing chunk rows for session %s: %s", session.UUID, err)
	}
}

func (a *ChunkAssembler) chunkDir(sessionUUID string) string {
	return filepath.Join(a.root, "__chunks", sessionUUID)
}

func (a *ChunkAssembler) chunkPath(sessionUUID string, sequenceNumber int) string {
	return filepath.Join(a.chunkDir(sessionUUID), fmt.Sprintf("%d.chunk", sequenceNumber))
}

// makeStoragePath builds the date partitioned relative path for a new
// artifact: uploads/YYYY/MM/DD/<random>.<ext>. The name is random, never
// derived from the user supplied filename, so uploads cannot collide with
// or traverse over each other.
func makeStoragePath(filename string) (string, error) {
	randomBytes, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return "", err
	}

	name := hex.EncodeToString(randomBytes) + filepath.Ext(filename)

	return filepath.Join("uploads", time.Now().Format("2006/01/02"), name), nil
}

package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	pkgerrors "github.com/pkg/errors"
	"github.com/saracen/walker"
	"gorm.io/gorm"
)

// RetentionEngine deletes stored bytes and their records together. The
// ordering contract: physical bytes go first, and only when that succeeds
// (or the file is already gone) is the record removed. A failed unlink
// leaves the record in place so the next sweep retries it; the inverse (a
// record with no bytes) is never created by this engine.
//
// The engine is stateless and idempotent: deleting an already-deleted id is
// a no-op, not an error.
type RetentionEngine struct {
	stors *stor.Stors
	root  string

	// removeFile is os.Remove in production; tests substitute a failing
	// implementation to exercise the ordering contract.
	removeFile func(path string) error
}

func NewRetentionEngine(stors *stor.Stors, root string) *RetentionEngine {
	return &RetentionEngine{
		stors:      stors,
		root:       root,
		removeFile: os.Remove,
	}
}

// SweepResult is the tally of one expired-files sweep. Only files whose
// bytes and record were both removed are counted.
type SweepResult struct {
	DeletedCount int   `json:"deleted_count"`
	FreedBytes   int64 `json:"freed_bytes"`
}

// DeleteResult is the per-id outcome of a batch delete.
type DeleteResult struct {
	UUID string `json:"uuid"`
	Err  error  `json:"-"`
}

// SweepExpired deletes every record whose expiry has passed, active or not.
// A failure deleting one file's bytes is logged and that file is skipped;
// partial progress is the correct behavior and the tally reflects only
// successful deletions.
func (e *RetentionEngine) SweepExpired() (SweepResult, error) {
	var result SweepResult

	expired, err := e.stors.FileRecordStor.GetExpired(time.Now())
	if err != nil {
		return result, err
	}

	for i := range expired {
		record := &expired[i]

		if err := e.deleteRecordAndBytes(record); err != nil {
			log.Errorf("Sweep skipping file %s (%s): %s", record.UUID, record.Path, err)
			continue
		}

		result.DeletedCount++
		result.FreedBytes += record.Size
	}

	return result, nil
}

// DeleteOne removes a single file by uuid, bytes first. An unknown uuid is
// a no-op.
func (e *RetentionEngine) DeleteOne(recordUUID string) error {
	record, err := e.stors.FileRecordStor.GetRecordByUUID(recordUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return e.deleteRecordAndBytes(record)
}

// DeleteBatch deletes each id independently, returning one result per id.
// One bad path never aborts the rest of the batch.
func (e *RetentionEngine) DeleteBatch(recordUUIDs []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(recordUUIDs))

	for _, recordUUID := range recordUUIDs {
		err := e.DeleteOne(recordUUID)
		if err != nil {
			log.Errorf("Batch delete failed for %s: %s", recordUUID, err)
		}

		results = append(results, DeleteResult{UUID: recordUUID, Err: err})
	}

	return results
}

func (e *RetentionEngine) deleteRecordAndBytes(record *fdmodel.FileRecord) error {
	err := e.removeFile(record.ToUnderlyingFilePath(e.root))
	switch {
	case err == nil:
		// bytes removed
	case errors.Is(err, os.ErrNotExist):
		// Bytes already gone, likely a retried delete. Removing the
		// record is still correct.
	default:
		return pkgerrors.Wrapf(err, "deleting bytes for file %s", record.UUID)
	}

	if err := e.stors.FileRecordStor.DeleteRecord(record.ID); err != nil {
		return pkgerrors.Wrapf(err, "deleting record for file %s", record.UUID)
	}

	return nil
}

// ScanOrphans walks the uploads tree concurrently and reports stored files
// that no record references. Orphans can appear when a crash lands between
// writing an assembled file and registering its record; they are reported
// rather than deleted so an operator can decide.
func (e *RetentionEngine) ScanOrphans() ([]string, error) {
	uploadsRoot := filepath.Join(e.root, "uploads")
	if _, err := os.Stat(uploadsRoot); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		orphans []string
	)

	err := walker.Walk(uploadsRoot, func(pathname string, fi os.FileInfo) error {
		if fi.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(e.root, pathname)
		if err != nil {
			return err
		}

		if e.isOrphan(relPath) {
			mu.Lock()
			orphans = append(orphans, relPath)
			mu.Unlock()
		}

		return nil
	})

	return orphans, err
}

func (e *RetentionEngine) isOrphan(relPath string) bool {
	_, err := e.stors.FileRecordStor.GetRecordByPath(relPath)
	return errors.Is(err, gorm.ErrRecordNotFound)
}

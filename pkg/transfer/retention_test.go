package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSweepExpiredDeletesOnlyExpired(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)

	expired1 := tc.createRecordWithFile([]byte("expired one"), 0, past)
	expired2 := tc.createRecordWithFile([]byte("expired two!"), 0, past)
	active1 := tc.createRecordWithFile([]byte("still here"), 0, future)
	active2 := tc.createRecordWithFile([]byte("also here"), 0, future)
	active3 := tc.createRecordWithFile([]byte("me too"), 0, future)

	result, err := engine.SweepExpired()
	require.NoError(t, err)

	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, expired1.Size+expired2.Size, result.FreedBytes)

	for _, record := range []string{expired1.UUID, expired2.UUID} {
		_, err := tc.stors.FileRecordStor.GetRecordByUUID(record)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}

	_, err = os.Stat(expired1.ToUnderlyingFilePath(tc.root))
	assert.True(t, os.IsNotExist(err))

	for _, record := range []*struct {
		uuid string
		path string
	}{
		{active1.UUID, active1.ToUnderlyingFilePath(tc.root)},
		{active2.UUID, active2.ToUnderlyingFilePath(tc.root)},
		{active3.UUID, active3.ToUnderlyingFilePath(tc.root)},
	} {
		_, err := tc.stors.FileRecordStor.GetRecordByUUID(record.uuid)
		assert.NoError(t, err)
		_, err = os.Stat(record.path)
		assert.NoError(t, err)
	}
}

func TestUnlinkFailureKeepsRecord(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)
	engine.removeFile = func(path string) error {
		return errors.New("device busy")
	}

	record := tc.createRecordWithFile([]byte("stuck file"), 0, time.Now().Add(-time.Hour))

	result, err := engine.SweepExpired()
	require.NoError(t, err)
	assert.Zero(t, result.DeletedCount)
	assert.Zero(t, result.FreedBytes)

	// Record stays so the next sweep retries it.
	_, err = tc.stors.FileRecordStor.GetRecordByUUID(record.UUID)
	require.NoError(t, err)

	// Next sweep with a working unlink picks it up.
	engine.removeFile = os.Remove
	result, err = engine.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)
}

func TestDeleteOneIsIdempotent(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)

	record := tc.createRecordWithFile([]byte("delete me"), 0, time.Now().Add(time.Hour))

	require.NoError(t, engine.DeleteOne(record.UUID))
	require.NoError(t, engine.DeleteOne(record.UUID))
	require.NoError(t, engine.DeleteOne("no-such-uuid"))
}

func TestDeleteOneWithMissingBytes(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)

	record := tc.createRecordWithFile([]byte("gone already"), 0, time.Now().Add(time.Hour))
	require.NoError(t, os.Remove(record.ToUnderlyingFilePath(tc.root)))

	// Missing bytes are treated as already deleted; the record still goes.
	require.NoError(t, engine.DeleteOne(record.UUID))

	_, err := tc.stors.FileRecordStor.GetRecordByUUID(record.UUID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteBatchReportsPerId(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)
	engine.removeFile = func(path string) error {
		if filepath.Base(path) == "held.txt" {
			return errors.New("device busy")
		}
		return os.Remove(path)
	}

	good := tc.createRecordWithFile([]byte("ok"), 0, time.Now().Add(time.Hour))

	held := tc.createRecordWithFile([]byte("held"), 0, time.Now().Add(time.Hour))
	heldPath := filepath.Join(filepath.Dir(held.ToUnderlyingFilePath(tc.root)), "held.txt")
	require.NoError(t, os.Rename(held.ToUnderlyingFilePath(tc.root), heldPath))
	relHeld, err := filepath.Rel(tc.root, heldPath)
	require.NoError(t, err)
	require.NoError(t, tc.db.Model(held).Update("path", relHeld).Error)

	results := engine.DeleteBatch([]string{good.UUID, held.UUID, "no-such-uuid"})
	require.Len(t, results, 3)

	assert.Equal(t, good.UUID, results[0].UUID)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, held.UUID, results[1].UUID)
	assert.Error(t, results[1].Err)

	assert.NoError(t, results[2].Err)

	// The failed delete kept its record.
	_, err = tc.stors.FileRecordStor.GetRecordByUUID(held.UUID)
	assert.NoError(t, err)
}

func TestScanOrphans(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)

	tracked := tc.createRecordWithFile([]byte("tracked"), 0, time.Now().Add(time.Hour))

	orphanRel := filepath.Join("uploads", "2026", "01", "01", "orphan.bin")
	orphanAbs := filepath.Join(tc.root, orphanRel)
	require.NoError(t, os.MkdirAll(filepath.Dir(orphanAbs), 0755))
	require.NoError(t, os.WriteFile(orphanAbs, []byte("nobody references me"), 0644))

	orphans, err := engine.ScanOrphans()
	require.NoError(t, err)

	assert.Equal(t, []string{orphanRel}, orphans)
	assert.NotContains(t, orphans, tracked.Path)
}

func TestScanOrphansEmptyTree(t *testing.T) {
	tc := newTestCase(t)
	engine := NewRetentionEngine(tc.stors, tc.root)

	orphans, err := engine.ScanOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

package stor

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var storTestDBCounter int64

func newTestStors(t *testing.T) *Stors {
	dsn := fddb.SqliteInMemoryDSN(fmt.Sprintf("stor%d", atomic.AddInt64(&storTestDBCounter, 1)))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoErrorf(t, err, "gorm.Open failed: %s", err)

	sqlitedb, err := db.DB()
	require.NoError(t, err)
	sqlitedb.SetMaxOpenConns(1)

	err = fddb.RunMigrations(db)
	require.NoErrorf(t, err, "Migration failed with: %s", err)

	return NewGormStors(db)
}

func fixedCode(code string) ShareCodeFN {
	return func() (string, error) {
		return code, nil
	}
}

func createRecord(t *testing.T, stors *Stors, params CreateRecordParams, generateCode ShareCodeFN) *fdmodel.FileRecord {
	if params.OriginalFilename == "" {
		params.OriginalFilename = "file.txt"
	}
	if params.Path == "" {
		params.Path = fmt.Sprintf("uploads/2026/08/31/%d.txt", time.Now().UnixNano())
	}
	if params.Size == 0 {
		params.Size = 10
	}

	record, err := stors.FileRecordStor.CreateRecord(params, generateCode)
	require.NoError(t, err)
	return record
}

func TestCreateRecordAppliesDefaultExpiry(t *testing.T) {
	stors := newTestStors(t)

	record := createRecord(t, stors, CreateRecordParams{}, fixedCode("AAAA0001"))

	assert.WithinDuration(t, time.Now().Add(fdmodel.DefaultExpiryHours*time.Hour), record.ExpiresAt, time.Minute)
	assert.True(t, record.IsActive)
	assert.NotEmpty(t, record.UUID)
	assert.Zero(t, record.DownloadCount)
}

func TestCreateRecordKeepsExplicitExpiry(t *testing.T) {
	stors := newTestStors(t)

	expiry := time.Now().Add(7 * 24 * time.Hour)
	record := createRecord(t, stors, CreateRecordParams{ExpiresAt: expiry}, fixedCode("AAAA0002"))

	assert.WithinDuration(t, expiry, record.ExpiresAt, time.Second)
}

func TestCreateRecordRetriesShareCodeCollision(t *testing.T) {
	stors := newTestStors(t)

	createRecord(t, stors, CreateRecordParams{}, fixedCode("TAKEN001"))

	// First candidate collides, second succeeds.
	calls := 0
	generator := func() (string, error) {
		calls++
		if calls == 1 {
			return "TAKEN001", nil
		}
		return "FRESH001", nil
	}

	record, err := stors.FileRecordStor.CreateRecord(CreateRecordParams{
		OriginalFilename: "second.txt",
		Path:             "uploads/2026/08/31/second.txt",
		Size:             5,
	}, generator)
	require.NoError(t, err)

	assert.Equal(t, "FRESH001", record.ShareCode)
	assert.Equal(t, 2, calls)
}

func TestCreateRecordGivesUpAfterRetries(t *testing.T) {
	stors := newTestStors(t)

	createRecord(t, stors, CreateRecordParams{}, fixedCode("TAKEN002"))

	calls := 0
	exhausted := func() (string, error) {
		calls++
		return "TAKEN002", nil
	}

	_, err := stors.FileRecordStor.CreateRecord(CreateRecordParams{
		OriginalFilename: "doomed.txt",
		Path:             "uploads/2026/08/31/doomed.txt",
		Size:             5,
	}, exhausted)

	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, ShareCodeAllocationRetries, calls)
}

func TestRecordDownloadUnlimitedQuota(t *testing.T) {
	stors := newTestStors(t)

	record := createRecord(t, stors, CreateRecordParams{MaxDownloads: 0}, fixedCode("AAAA0003"))

	for i := 0; i < 10; i++ {
		require.NoError(t, stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true))
	}

	reloaded, err := stors.FileRecordStor.GetRecordByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.DownloadCount)
}

func TestRecordDownloadEnforcesQuota(t *testing.T) {
	stors := newTestStors(t)

	record := createRecord(t, stors, CreateRecordParams{MaxDownloads: 2}, fixedCode("AAAA0004"))

	require.NoError(t, stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true))
	require.NoError(t, stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true))

	err := stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	reloaded, err := stors.FileRecordStor.GetRecordByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.DownloadCount)

	// The refused attempt still produced a failed log row.
	logs, err := stors.DownloadLogStor.GetLogsForRecord(record.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].IsSuccess)
	assert.True(t, logs[1].IsSuccess)
	assert.False(t, logs[2].IsSuccess)
}

func TestRecordDownloadOfDeletedRecord(t *testing.T) {
	stors := newTestStors(t)

	record := createRecord(t, stors, CreateRecordParams{MaxDownloads: 1}, fixedCode("AAAA0009"))
	require.NoError(t, stors.FileRecordStor.DeleteRecord(record.ID))

	// A record deleted between the eligibility check and the claim is
	// reported as missing, not as an exhausted quota, and leaves no
	// orphaned log row.
	err := stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := stors.DownloadLogStor.CountForRecord(record.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCheckDownloadEligibilityOrder(t *testing.T) {
	stors := newTestStors(t)

	_, err := stors.FileRecordStor.CheckDownloadEligibility("MISSING1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Inactive wins over expired and quota.
	record := createRecord(t, stors, CreateRecordParams{MaxDownloads: 1}, fixedCode("AAAA0005"))
	_, err = stors.FileRecordStor.UpdateSettings(record.ID, 1, time.Now().Add(-time.Hour), false)
	require.NoError(t, err)

	got, err := stors.FileRecordStor.CheckDownloadEligibility(record.ShareCode)
	assert.ErrorIs(t, err, ErrInactive)
	require.NotNil(t, got)
	assert.Equal(t, record.ID, got.ID)

	// Expired wins over quota.
	_, err = stors.FileRecordStor.UpdateSettings(record.ID, 1, time.Now().Add(-time.Hour), true)
	require.NoError(t, err)

	_, err = stors.FileRecordStor.CheckDownloadEligibility(record.ShareCode)
	assert.ErrorIs(t, err, ErrExpired)

	// Quota last.
	require.NoError(t, stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true))
	_, err = stors.FileRecordStor.UpdateSettings(record.ID, 1, time.Now().Add(time.Hour), true)
	require.NoError(t, err)

	_, err = stors.FileRecordStor.CheckDownloadEligibility(record.ShareCode)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDeleteRecordRemovesLogs(t *testing.T) {
	stors := newTestStors(t)

	record := createRecord(t, stors, CreateRecordParams{}, fixedCode("AAAA0006"))
	require.NoError(t, stors.FileRecordStor.RecordDownload(record.ID, "10.0.0.1", "agent", true))

	require.NoError(t, stors.FileRecordStor.DeleteRecord(record.ID))

	_, err := stors.FileRecordStor.GetRecordByID(record.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	count, err := stors.DownloadLogStor.CountForRecord(record.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetExpired(t *testing.T) {
	stors := newTestStors(t)

	expired := createRecord(t, stors, CreateRecordParams{ExpiresAt: time.Now().Add(-time.Hour)}, fixedCode("AAAA0007"))
	createRecord(t, stors, CreateRecordParams{ExpiresAt: time.Now().Add(time.Hour)}, fixedCode("AAAA0008"))

	// An inactive expired record is still swept.
	inactiveExpired := createRecord(t, stors, CreateRecordParams{ExpiresAt: time.Now().Add(-2 * time.Hour)}, fixedCode("AAAA0009"))
	require.NoError(t, stors.FileRecordStor.Deactivate(inactiveExpired.ID))

	records, err := stors.FileRecordStor.GetExpired(time.Now())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Oldest expiry first.
	assert.Equal(t, inactiveExpired.ID, records[0].ID)
	assert.Equal(t, expired.ID, records[1].ID)
}

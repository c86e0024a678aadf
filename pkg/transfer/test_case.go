package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testCase wires up an in-memory database, a temp storage root and a user
// to run transfer tests against.
type testCase struct {
	*testing.T
	db    *gorm.DB
	stors *stor.Stors
	root  string
	user  *fdmodel.User
}

var testDBCounter int64

func newTestCase(t *testing.T) *testCase {
	// Each test gets its own named in-memory database; the shared cache
	// is per-name, so tests never see each other's rows.
	dsn := fddb.SqliteInMemoryDSN(fmt.Sprintf("transfer%d", atomic.AddInt64(&testDBCounter, 1)))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoErrorf(t, err, "gorm.Open failed: %s", err)

	sqlitedb, err := db.DB()
	require.NoError(t, err)
	sqlitedb.SetMaxOpenConns(1)

	err = fddb.RunMigrations(db)
	require.NoErrorf(t, err, "Migration failed with: %s", err)

	tc := &testCase{
		T:     t,
		db:    db,
		stors: stor.NewGormStors(db),
		root:  t.TempDir(),
	}

	tc.user, err = tc.stors.UserStor.CreateUser(&fdmodel.User{
		Name:     "user1",
		Email:    "user1@test.com",
		ApiToken: "user1-token",
	})
	require.NoError(t, err)

	return tc
}

func (tc *testCase) newService() *TransferService {
	return NewTransferService(tc.stors, tc.root, DefaultServiceConfig(), nil)
}

func (tc *testCase) newAssembler() *ChunkAssembler {
	return NewChunkAssembler(tc.stors, tc.root, DefaultServiceConfig())
}

// createRecordWithFile creates a FileRecord backed by real bytes on disk,
// bypassing the upload flow, for download and retention tests.
func (tc *testCase) createRecordWithFile(content []byte, maxDownloads int, expiresAt time.Time) *fdmodel.FileRecord {
	randomName, err := uuid.GenerateUUID()
	require.NoError(tc.T, err)

	relPath := filepath.Join("uploads", time.Now().Format("2006/01/02"), randomName+".txt")
	absPath := filepath.Join(tc.root, relPath)

	require.NoError(tc.T, os.MkdirAll(filepath.Dir(absPath), 0755))
	require.NoError(tc.T, os.WriteFile(absPath, content, 0644))

	record, err := tc.stors.FileRecordStor.CreateRecord(stor.CreateRecordParams{
		OwnerID:          tc.user.ID,
		OriginalFilename: "test file.txt",
		Path:             relPath,
		Size:             int64(len(content)),
		Checksum:         HashBytes(content),
		MimeType:         "text/plain",
		MaxDownloads:     maxDownloads,
		ExpiresAt:        expiresAt,
	}, GenerateShareCode)
	require.NoError(tc.T, err)

	return record
}

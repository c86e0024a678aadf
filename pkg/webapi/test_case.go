package webapi

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/filedrop/filedrop/pkg/fddb"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/filedrop/filedrop/pkg/webapi/apimiddleware"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testCase wires an echo instance with the full route layout against an
// in-memory database, for driving the API through httptest requests.
type testCase struct {
	*testing.T
	e       *echo.Echo
	db      *gorm.DB
	stors   *stor.Stors
	service *transfer.TransferService
	root    string
	user    *fdmodel.User
	admin   *fdmodel.User
}

var testDBCounter int64

func newTestCase(t *testing.T) *testCase {
	dsn := fddb.SqliteInMemoryDSN(fmt.Sprintf("webapi%d", atomic.AddInt64(&testDBCounter, 1)))
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

	tc.admin, err = tc.stors.UserStor.CreateUser(&fdmodel.User{
		Name:     "admin1",
		Email:    "admin1@test.com",
		ApiToken: "admin1-token",
		IsAdmin:  true,
	})
	require.NoError(t, err)

	tc.service = transfer.NewTransferService(tc.stors, tc.root, transfer.DefaultServiceConfig(), nil)
	tc.e = tc.setupEcho()

	return tc
}

func (tc *testCase) mustRecord(recordUUID string) *fdmodel.FileRecord {
	record, err := tc.stors.FileRecordStor.GetRecordByUUID(recordUUID)
	require.NoError(tc.T, err)
	return record
}

func (tc *testCase) setupEcho() *echo.Echo {
	e := echo.New()

	apikeyCache := apimiddleware.NewAPIKeyCache(tc.stors.UserStor)

	downloadController := NewDownloadController(tc.service)
	e.GET("/download/:code", downloadController.Download)
	e.GET("/api/file-info/:code", downloadController.FileInfo)

	g := e.Group("/api")
	g.Use(apimiddleware.APIKeyAuth(apimiddleware.APIKeyConfig{
		Keyname:         "apikey",
		GetUserByAPIKey: apikeyCache.GetUserByAPIKey,
	}))

	uploadController := NewUploadController(tc.service)
	g.POST("/uploads", uploadController.StartUpload)
	g.POST("/uploads/:session/chunks/:seq", uploadController.UploadChunk)
	g.GET("/uploads/:session", uploadController.GetUploadStatus)
	g.POST("/uploads/:session/finish", uploadController.FinishUpload)

	filesController := NewFilesController(tc.service)
	g.GET("/files", filesController.ListFiles)
	g.DELETE("/files/:uuid", filesController.DeleteFile)
	g.POST("/files/batch-delete", filesController.BatchDelete)
	g.PUT("/files/:uuid/settings", filesController.UpdateSettings)

	adminController := NewAdminController(tc.service)
	admin := g.Group("/admin", RequireAdmin)
	admin.GET("/stats", adminController.GetStats)
	admin.POST("/cleanup", adminController.Cleanup)
	admin.GET("/settings", adminController.GetSettings)
	admin.PUT("/settings", adminController.UpdateSettings)
	admin.GET("/orphans", adminController.ListOrphans)

	return e
}

package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/transfer"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFilesReturnsOnlyOwn(t *testing.T) {
	tc := newTestCase(t)

	tc.uploadFile("user1-token", "mine.txt", []byte("mine"), 8)
	tc.uploadFile("admin1-token", "theirs.txt", []byte("theirs"), 8)

	rec := tc.request(http.MethodGet, "/api/files", "user1-token", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []fdmodel.FileRecord
	decodeJSON(t, rec, &records)

	require.Len(t, records, 1)
	assert.Equal(t, "mine.txt", records[0].OriginalFilename)
}

func TestDeleteFileOverHTTP(t *testing.T) {
	tc := newTestCase(t)

	record := tc.uploadFile("user1-token", "delete-me.txt", []byte("bye"), 8)
	uuid := record["uuid"].(string)

	// Another user cannot delete it.
	rec := tc.request(http.MethodDelete, "/api/files/"+uuid, "admin1-token", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tc.request(http.MethodDelete, "/api/files/"+uuid, "user1-token", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = tc.request(http.MethodGet, "/api/files", "user1-token", nil, nil)
	var records []fdmodel.FileRecord
	decodeJSON(t, rec, &records)
	assert.Empty(t, records)
}

func TestBatchDeleteOverHTTP(t *testing.T) {
	tc := newTestCase(t)

	r1 := tc.uploadFile("user1-token", "a.txt", []byte("aaa"), 8)
	r2 := tc.uploadFile("user1-token", "b.txt", []byte("bbb"), 8)

	body, _ := json.Marshal(map[string]interface{}{
		"uuids": []string{r1["uuid"].(string), r2["uuid"].(string), "no-such-uuid"},
	})

	rec := tc.request(http.MethodPost, "/api/files/batch-delete", "user1-token", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []batchDeleteResult
	decodeJSON(t, rec, &results)
	require.Len(t, results, 3)

	assert.True(t, results[0].Deleted)
	assert.True(t, results[1].Deleted)
	assert.False(t, results[2].Deleted)
	assert.Equal(t, "file not found", results[2].Error)
}

func TestBatchDeleteErrorMessagesHideStorageDetails(t *testing.T) {
	// A failed unlink wraps an *os.PathError carrying the absolute storage
	// path; the response message must never include it.
	unlinkErr := pkgerrors.Wrapf(&os.PathError{
		Op:   "remove",
		Path: "/srv/filedrop/uploads/2026/08/31/abc123.txt",
		Err:  errors.New("device busy"),
	}, "deleting bytes for file %s", "abc123")

	assert.Equal(t, "delete failed, will be retried", deleteErrorMessage(unlinkErr))
	assert.NotContains(t, deleteErrorMessage(unlinkErr), "/srv")

	assert.Equal(t, "file not found", deleteErrorMessage(transfer.ErrNotFound))
}

func TestUpdateSettingsOverHTTP(t *testing.T) {
	tc := newTestCase(t)

	record := tc.uploadFile("user1-token", "tune.txt", []byte("tunable"), 8)
	uuid := record["uuid"].(string)

	newExpiry := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	body, _ := json.Marshal(map[string]interface{}{
		"max_downloads": 7,
		"expires_at":    newExpiry.Format(time.RFC3339),
	})

	rec := tc.request(http.MethodPut, "/api/files/"+uuid+"/settings", "user1-token", body, nil)
	require.Equalf(t, http.StatusOK, rec.Code, "update failed: %s", rec.Body.String())

	var updated fdmodel.FileRecord
	decodeJSON(t, rec, &updated)

	assert.Equal(t, 7, updated.MaxDownloads)
	assert.WithinDuration(t, newExpiry, updated.ExpiresAt, time.Second)
	assert.True(t, updated.IsActive) // omitted field kept its value

	// Only is_active this time; quota and expiry stay.
	body, _ = json.Marshal(map[string]interface{}{"is_active": false})
	rec = tc.request(http.MethodPut, "/api/files/"+uuid+"/settings", "user1-token", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	decodeJSON(t, rec, &updated)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 7, updated.MaxDownloads)
}

package webapi

import (
	"net/http"
	"testing"

	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadByShareCode(t *testing.T) {
	tc := newTestCase(t)

	content := []byte("downloadable content")
	record := tc.uploadFile("user1-token", "my report.pdf", content, 8)
	shareCode := record["share_code"].(string)

	// Anonymous: no api key on the download route.
	rec := tc.request(http.MethodGet, "/download/"+shareCode, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, `attachment; filename="my-report.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestDownloadUnknownCodeIs404(t *testing.T) {
	tc := newTestCase(t)

	rec := tc.request(http.MethodGet, "/download/NOPENOPE", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadQuotaExhaustedIs403(t *testing.T) {
	tc := newTestCase(t)

	content := []byte("one shot")
	record := tc.uploadFile("user1-token", "once.txt", content, 8)
	uuid := record["uuid"].(string)
	shareCode := record["share_code"].(string)

	_, err := tc.service.UpdateFileSettings(tc.user.ID, uuid, 1, tc.mustRecord(uuid).ExpiresAt, true)
	require.NoError(t, err)

	rec := tc.request(http.MethodGet, "/download/"+shareCode, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tc.request(http.MethodGet, "/download/"+shareCode, "", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFileInfoEndpoint(t *testing.T) {
	tc := newTestCase(t)

	content := []byte("info about me")
	record := tc.uploadFile("user1-token", "info.txt", content, 8)
	shareCode := record["share_code"].(string)

	rec := tc.request(http.MethodGet, "/api/file-info/"+shareCode, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info transfer.FileInfo
	decodeJSON(t, rec, &info)

	assert.Equal(t, "info.txt", info.OriginalFilename)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.True(t, info.CanDownload)
	assert.Empty(t, info.Reason)

	// Info requests never consume quota.
	reloaded := tc.mustRecord(record["uuid"].(string))
	assert.Zero(t, reloaded.DownloadCount)
}

func TestFileInfoForInactiveFileIncludesReason(t *testing.T) {
	tc := newTestCase(t)

	content := []byte("paused file")
	record := tc.uploadFile("user1-token", "paused.txt", content, 8)
	uuid := record["uuid"].(string)
	shareCode := record["share_code"].(string)

	_, err := tc.service.UpdateFileSettings(tc.user.ID, uuid, 0, tc.mustRecord(uuid).ExpiresAt, false)
	require.NoError(t, err)

	rec := tc.request(http.MethodGet, "/api/file-info/"+shareCode, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info transfer.FileInfo
	decodeJSON(t, rec, &info)
	assert.False(t, info.CanDownload)
	assert.NotEmpty(t, info.Reason)
}

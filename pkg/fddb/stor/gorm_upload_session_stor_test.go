package stor

import (
	"testing"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSession(t *testing.T, stors *Stors) *fdmodel.UploadSession {
	session, err := stors.UploadSessionStor.CreateSession(&fdmodel.UploadSession{
		OwnerID:     1,
		Filename:    "upload.bin",
		TotalSize:   100,
		ChunkSize:   10,
		TotalChunks: 10,
	})
	require.NoError(t, err)
	require.Equal(t, fdmodel.SessionStateReceiving, session.State)
	return session
}

func TestMarkAssembledIsFirstWriterWins(t *testing.T) {
	stors := newTestStors(t)
	session := createSession(t, stors)

	already, err := stors.UploadSessionStor.MarkAssembled(session.ID, 11)
	require.NoError(t, err)
	assert.False(t, already)

	// The loser sees alreadyAssembled and the winner's record id stays.
	already, err = stors.UploadSessionStor.MarkAssembled(session.ID, 22)
	require.NoError(t, err)
	assert.True(t, already)

	reloaded, err := stors.UploadSessionStor.GetSessionByUUID(session.UUID)
	require.NoError(t, err)
	assert.Equal(t, fdmodel.SessionStateAssembled, reloaded.State)
	assert.Equal(t, 11, reloaded.FileRecordID)
}

func TestMarkAbandonedNeverDowngradesAssembled(t *testing.T) {
	stors := newTestStors(t)
	session := createSession(t, stors)

	_, err := stors.UploadSessionStor.MarkAssembled(session.ID, 11)
	require.NoError(t, err)

	require.NoError(t, stors.UploadSessionStor.MarkAbandoned(session.ID))

	reloaded, err := stors.UploadSessionStor.GetSessionByUUID(session.UUID)
	require.NoError(t, err)
	assert.Equal(t, fdmodel.SessionStateAssembled, reloaded.State)
}

func TestGetInactiveSinceSkipsTerminalSessions(t *testing.T) {
	stors := newTestStors(t)

	stale := createSession(t, stors)
	assembled := createSession(t, stors)
	abandoned := createSession(t, stors)
	fresh := createSession(t, stors)

	_, err := stors.UploadSessionStor.MarkAssembled(assembled.ID, 11)
	require.NoError(t, err)
	require.NoError(t, stors.UploadSessionStor.MarkAbandoned(abandoned.ID))

	cutoff := time.Now().Add(time.Minute)
	require.NoError(t, stors.UploadSessionStor.Touch(fresh.ID))

	sessions, err := stors.UploadSessionStor.GetInactiveSince(cutoff)
	require.NoError(t, err)

	uuids := make(map[string]bool, len(sessions))
	for _, session := range sessions {
		uuids[session.UUID] = true
	}

	assert.True(t, uuids[stale.UUID])
	assert.True(t, uuids[fresh.UUID]) // touched, but still before the cutoff
	assert.False(t, uuids[assembled.UUID])
	assert.False(t, uuids[abandoned.UUID])

	// A cutoff in the past matches nothing recent.
	sessions, err = stors.UploadSessionStor.GetInactiveSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDeleteSessionCascadesChunks(t *testing.T) {
	stors := newTestStors(t)
	session := createSession(t, stors)

	_, err := stors.FileChunkStor.UpsertChunk(session.ID, 0, 10, "abc")
	require.NoError(t, err)
	_, err = stors.FileChunkStor.UpsertChunk(session.ID, 1, 10, "def")
	require.NoError(t, err)

	require.NoError(t, stors.UploadSessionStor.DeleteSession(session.ID))

	chunks, err := stors.FileChunkStor.GetChunksForSession(session.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUpsertChunkReplacesInPlace(t *testing.T) {
	stors := newTestStors(t)
	session := createSession(t, stors)

	first, err := stors.FileChunkStor.UpsertChunk(session.ID, 3, 10, "aaa")
	require.NoError(t, err)

	second, err := stors.FileChunkStor.UpsertChunk(session.ID, 3, 12, "bbb")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "bbb", second.Checksum)
	assert.Equal(t, int64(12), second.Size)

	count, err := stors.FileChunkStor.CountUploaded(session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

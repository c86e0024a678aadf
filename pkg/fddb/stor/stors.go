package stor

import (
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"gorm.io/gorm"
)

// CreateRecordParams is the metadata the assembler hands over when it
// registers a finished upload. ExpiresAt may be zero, in which case the
// stor applies the default expiry. ShareCode is always allocated by the
// stor, never by the caller.
type CreateRecordParams struct {
	OwnerID          int
	OriginalFilename string
	Path             string
	Size             int64
	Checksum         string
	MimeType         string
	MaxDownloads     int
	ExpiresAt        time.Time
}

// ShareCodeFN produces a candidate share code. The stor retries with fresh
// candidates when the unique index rejects one.
type ShareCodeFN func() (string, error)

type FileRecordStor interface {
	CreateRecord(params CreateRecordParams, generateCode ShareCodeFN) (*fdmodel.FileRecord, error)
	GetRecordByID(id int) (*fdmodel.FileRecord, error)
	GetRecordByUUID(recordUUID string) (*fdmodel.FileRecord, error)
	GetRecordByShareCode(shareCode string) (*fdmodel.FileRecord, error)
	GetRecordByPath(path string) (*fdmodel.FileRecord, error)
	CheckDownloadEligibility(shareCode string) (*fdmodel.FileRecord, error)
	RecordDownload(fileID int, ipAddress, userAgent string, success bool) error
	Deactivate(fileID int) error
	UpdateSettings(fileID int, maxDownloads int, expiresAt time.Time, isActive bool) (*fdmodel.FileRecord, error)
	DeleteRecord(fileID int) error
	GetExpired(now time.Time) ([]fdmodel.FileRecord, error)
	GetRecordsForOwner(ownerID int) ([]fdmodel.FileRecord, error)
	CountRecords() (int64, error)
	TotalBytes() (int64, error)
	TotalDownloads() (int64, error)
	CountCreatedSince(since time.Time) (int64, error)
}

type UploadSessionStor interface {
	CreateSession(session *fdmodel.UploadSession) (*fdmodel.UploadSession, error)
	GetSessionByUUID(sessionUUID string) (*fdmodel.UploadSession, error)
	Touch(sessionID int) error
	MarkComplete(sessionID int) error
	MarkAssembled(sessionID, fileRecordID int) (alreadyAssembled bool, err error)
	MarkAbandoned(sessionID int) error
	GetInactiveSince(cutoff time.Time) ([]fdmodel.UploadSession, error)
	DeleteSession(sessionID int) error
}

type FileChunkStor interface {
	UpsertChunk(sessionID, sequenceNumber int, size int64, checksum string) (*fdmodel.FileChunk, error)
	GetChunksForSession(sessionID int) ([]fdmodel.FileChunk, error)
	CountUploaded(sessionID int) (int64, error)
	DeleteChunksForSession(sessionID int) error
}

type DownloadLogStor interface {
	AddLog(log *fdmodel.DownloadLog) (*fdmodel.DownloadLog, error)
	GetLogsForRecord(fileRecordID int) ([]fdmodel.DownloadLog, error)
	CountForRecord(fileRecordID int) (int64, error)
}

type SettingStor interface {
	GetSetting(key string) (string, error)
	GetSettingWithDefault(key, defaultValue string) string
	SetSetting(key, value string) error
	GetAllSettings() (map[string]string, error)
}

type UserStor interface {
	CreateUser(user *fdmodel.User) (*fdmodel.User, error)
	GetUserByID(userID int) (*fdmodel.User, error)
	GetUserByAPIToken(apitoken string) (*fdmodel.User, error)
	GetUserByEmail(email string) (*fdmodel.User, error)
}

type Stors struct {
	FileRecordStor    FileRecordStor
	UploadSessionStor UploadSessionStor
	FileChunkStor     FileChunkStor
	DownloadLogStor   DownloadLogStor
	SettingStor       SettingStor
	UserStor          UserStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		FileRecordStor:    NewGormFileRecordStor(db),
		UploadSessionStor: NewGormUploadSessionStor(db),
		FileChunkStor:     NewGormFileChunkStor(db),
		DownloadLogStor:   NewGormDownloadLogStor(db),
		SettingStor:       NewGormSettingStor(db),
		UserStor:          NewGormUserStor(db),
	}
}

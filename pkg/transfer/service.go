package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/gosimple/slug"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// ServiceConfig carries the runtime limits for the transfer engine. The
// admin settings endpoints persist changes to these through the setting
// stor so they survive restarts.
type ServiceConfig struct {
	// MaxFileSize is the largest total upload accepted, in bytes.
	MaxFileSize int64

	// MaxChunkSize bounds one chunk, and with it the largest single
	// in-memory/in-flight buffer.
	MaxChunkSize int64

	// DefaultExpiry is applied to records created without an expiry.
	DefaultExpiry time.Duration

	// SessionInactivity is how long an upload session can sit idle
	// before it is reclaimed.
	SessionInactivity time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxFileSize:       2 << 30,   // 2 GiB
		MaxChunkSize:      100 << 20, // 100 MB
		DefaultExpiry:     fdmodel.DefaultExpiryHours * time.Hour,
		SessionInactivity: 24 * time.Hour,
	}
}

// Setting keys used for persisted runtime configuration.
const (
	SettingMaxFileSize       = "max_file_size"
	SettingMaxChunkSize      = "max_chunk_size"
	SettingDefaultExpiry     = "default_expiry"
	SettingSessionInactivity = "session_inactivity"
)

// Notifier receives file lifecycle events for pushing to connected
// clients. Implementations must not block; the hub buffers.
type Notifier interface {
	UploadProgress(ownerID int, sessionUUID string, received, total int)
	UploadComplete(ownerID int, record *fdmodel.FileRecord)
	FileDeleted(ownerID int, recordUUID string)
}

// TransferService orchestrates uploads (through the ChunkAssembler) and
// share-code downloads (through the file record stor), and fronts the
// retention engine for deletes. It is safe for concurrent use by the
// request serving layer.
type TransferService struct {
	stors     *stor.Stors
	assembler *ChunkAssembler
	retention *RetentionEngine
	root      string
	notifier  Notifier
}

func NewTransferService(stors *stor.Stors, root string, cfg ServiceConfig, notifier Notifier) *TransferService {
	return &TransferService{
		stors:     stors,
		assembler: NewChunkAssembler(stors, root, cfg),
		retention: NewRetentionEngine(stors, root),
		root:      root,
		notifier:  notifier,
	}
}

// Assembler exposes the chunk assembler for the sweep daemon's reclaim
// pass.
func (s *TransferService) Assembler() *ChunkAssembler {
	return s.assembler
}

// Retention exposes the retention engine for admin triggered sweeps.
func (s *TransferService) Retention() *RetentionEngine {
	return s.retention
}

// StartUploadParams is what a caller supplies to open an upload.
// MaxDownloads and ExpiresAt are optional.
type StartUploadParams struct {
	OwnerID      int
	Filename     string
	TotalSize    int64
	ChunkSize    int64
	MaxDownloads int
	ExpiresAt    *time.Time
}

// StartUpload opens a chunked upload session for the caller.
func (s *TransferService) StartUpload(params StartUploadParams) (*fdmodel.UploadSession, error) {
	return s.assembler.StartSession(StartSessionParams{
		OwnerID:      params.OwnerID,
		Filename:     params.Filename,
		MimeType:     MimeTypeForFile(params.Filename),
		TotalSize:    params.TotalSize,
		ChunkSize:    params.ChunkSize,
		MaxDownloads: params.MaxDownloads,
		ExpiresAt:    params.ExpiresAt,
	})
}

// getOwnedSession resolves a session uuid for the caller. A session that
// exists but belongs to someone else reports ErrNotFound, never a hint
// that the uuid was right. ownerID 0 skips the check for internal callers.
func (s *TransferService) getOwnedSession(ownerID int, sessionUUID string) (*fdmodel.UploadSession, error) {
	session, err := s.stors.UploadSessionStor.GetSessionByUUID(sessionUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if ownerID != 0 && session.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	return session, nil
}

// UploadChunk verifies and stores one chunk of the caller's session,
// reporting completeness.
func (s *TransferService) UploadChunk(ownerID int, sessionUUID string, sequenceNumber int, r io.Reader, declaredHash string) (*ChunkStatus, error) {
	session, err := s.getOwnedSession(ownerID, sessionUUID)
	if err != nil {
		return nil, err
	}

	status, err := s.assembler.ReceiveChunk(sessionUUID, sequenceNumber, r, declaredHash)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.UploadProgress(session.OwnerID, sessionUUID, status.Received, status.Total)
	}

	return status, nil
}

// UploadStatus reports which sequence numbers are still missing so a
// client can resume an interrupted upload.
type UploadStatus struct {
	SessionUUID string `json:"session_uuid"`
	State       string `json:"state"`
	Received    int    `json:"received"`
	Total       int    `json:"total"`
	Missing     []int  `json:"missing"`
}

func (s *TransferService) UploadStatus(ownerID int, sessionUUID string) (*UploadStatus, error) {
	session, err := s.getOwnedSession(ownerID, sessionUUID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.stors.FileChunkStor.GetChunksForSession(session.ID)
	if err != nil {
		return nil, err
	}

	have := make(map[int]bool, len(chunks))
	for _, chunk := range chunks {
		if chunk.Uploaded {
			have[chunk.SequenceNumber] = true
		}
	}

	status := &UploadStatus{
		SessionUUID: session.UUID,
		State:       session.State,
		Received:    len(have),
		Total:       session.TotalChunks,
	}

	for seq := 0; seq < session.TotalChunks; seq++ {
		if !have[seq] {
			status.Missing = append(status.Missing, seq)
		}
	}

	return status, nil
}

// FinishUpload assembles the caller's session into its FileRecord.
// Idempotent: a second finish returns the record from the first.
func (s *TransferService) FinishUpload(ownerID int, sessionUUID string) (*fdmodel.FileRecord, error) {
	if _, err := s.getOwnedSession(ownerID, sessionUUID); err != nil {
		return nil, err
	}

	record, err := s.assembler.Assemble(sessionUUID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.UploadComplete(record.OwnerID, record)
	}

	return record, nil
}

// DownloadResult hands the caller a stream over the stored bytes plus the
// record and a filesystem-safe name for the Content-Disposition header.
type DownloadResult struct {
	Record            *fdmodel.FileRecord
	Content           io.ReadCloser
	SuggestedFilename string
}

// Download resolves a share code into the stored bytes. The eligibility
// check produces the precise refusal reason; the quota slot itself is
// claimed atomically by RecordDownload, so concurrent downloads of a
// nearly exhausted quota can never overshoot it. Every attempt, refused or
// not, lands in the download log. No database lock is held while the
// caller streams the returned content.
func (s *TransferService) Download(shareCode, ipAddress, userAgent string) (*DownloadResult, error) {
	record, err := s.stors.FileRecordStor.CheckDownloadEligibility(shareCode)
	if err != nil {
		if record != nil {
			s.logAttempt(record.ID, ipAddress, userAgent)
		}
		return nil, err
	}

	content, err := os.Open(record.ToUnderlyingFilePath(s.root))
	if err != nil {
		s.logAttempt(record.ID, ipAddress, userAgent)
		log.Errorf("Download of %s failed opening %s: %s", record.UUID, record.Path, err)
		return nil, pkgerrors.Wrapf(err, "opening stored file for %s", record.UUID)
	}

	if err := s.stors.FileRecordStor.RecordDownload(record.ID, ipAddress, userAgent, true); err != nil {
		_ = content.Close()
		return nil, err
	}

	return &DownloadResult{
		Record:            record,
		Content:           content,
		SuggestedFilename: SafeFilename(record.OriginalFilename),
	}, nil
}

func (s *TransferService) logAttempt(fileID int, ipAddress, userAgent string) {
	if err := s.stors.FileRecordStor.RecordDownload(fileID, ipAddress, userAgent, false); err != nil {
		log.Errorf("Failed logging download attempt for file %d: %s", fileID, err)
	}
}

// FileInfo describes a shared file for the pre-download info page. It is
// returned even when the file is not currently downloadable, together with
// the refusal reason.
type FileInfo struct {
	UUID             string `json:"uuid"`
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
	FormattedSize    string `json:"formatted_size"`
	MimeType         string `json:"mime_type"`
	ShareCode        string `json:"share_code"`
	DownloadCount    int    `json:"download_count"`
	MaxDownloads     int    `json:"max_downloads"`
	ExpiresAt        string `json:"expires_at"`
	DownloadURL      string `json:"download_url"`
	CanDownload      bool   `json:"can_download"`
	Reason           string `json:"reason,omitempty"`
}

func (s *TransferService) FileInfo(shareCode string) (*FileInfo, error) {
	record, err := s.stors.FileRecordStor.CheckDownloadEligibility(shareCode)
	if err != nil && record == nil {
		return nil, err
	}

	info := &FileInfo{
		UUID:             record.UUID,
		OriginalFilename: record.OriginalFilename,
		Size:             record.Size,
		FormattedSize:    record.FormattedSize(),
		MimeType:         record.MimeType,
		ShareCode:        record.ShareCode,
		DownloadCount:    record.DownloadCount,
		MaxDownloads:     record.MaxDownloads,
		ExpiresAt:        record.ExpiresAt.Format(time.RFC3339),
		DownloadURL:      record.DownloadURL(),
		CanDownload:      err == nil,
	}

	if err != nil {
		info.Reason = err.Error()
	}

	return info, nil
}

// GetFile returns one of the caller's records by uuid. ownerID 0 skips
// the ownership check for admin callers.
func (s *TransferService) GetFile(ownerID int, recordUUID string) (*fdmodel.FileRecord, error) {
	record, err := s.stors.FileRecordStor.GetRecordByUUID(recordUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if ownerID != 0 && record.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	return record, nil
}

// ListFiles returns the caller's records, newest first.
func (s *TransferService) ListFiles(ownerID int) ([]fdmodel.FileRecord, error) {
	return s.stors.FileRecordStor.GetRecordsForOwner(ownerID)
}

// DeleteFile deletes one of the caller's files, bytes then record. Owners
// can only delete their own files; ownerID 0 skips the ownership check for
// admin callers.
func (s *TransferService) DeleteFile(ownerID int, recordUUID string) error {
	record, err := s.stors.FileRecordStor.GetRecordByUUID(recordUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if ownerID != 0 && record.OwnerID != ownerID {
		return ErrNotFound
	}

	if err := s.retention.DeleteOne(recordUUID); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.FileDeleted(record.OwnerID, recordUUID)
	}

	return nil
}

// DeleteFiles batch deletes, returning one result per uuid.
func (s *TransferService) DeleteFiles(ownerID int, recordUUIDs []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(recordUUIDs))
	for _, recordUUID := range recordUUIDs {
		err := s.DeleteFile(ownerID, recordUUID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			log.Errorf("Batch delete failed for %s: %s", recordUUID, err)
		}

		results = append(results, DeleteResult{UUID: recordUUID, Err: err})
	}

	return results
}

// UpdateFileSettings applies owner mutations to quota, expiry and the
// active flag.
func (s *TransferService) UpdateFileSettings(ownerID int, recordUUID string, maxDownloads int, expiresAt time.Time, isActive bool) (*fdmodel.FileRecord, error) {
	record, err := s.stors.FileRecordStor.GetRecordByUUID(recordUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if ownerID != 0 && record.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	if expiresAt.IsZero() {
		expiresAt = record.ExpiresAt
	}

	return s.stors.FileRecordStor.UpdateSettings(record.ID, maxDownloads, expiresAt, isActive)
}

// Stats are the aggregates the admin dashboard renders.
type Stats struct {
	TotalFiles     int64 `json:"total_files"`
	TotalBytes     int64 `json:"total_bytes"`
	TotalDownloads int64 `json:"total_downloads"`
	UploadsToday   int64 `json:"uploads_today"`
}

func (s *TransferService) Stats() (*Stats, error) {
	stats := &Stats{}
	var err error

	if stats.TotalFiles, err = s.stors.FileRecordStor.CountRecords(); err != nil {
		return nil, err
	}

	if stats.TotalBytes, err = s.stors.FileRecordStor.TotalBytes(); err != nil {
		return nil, err
	}

	if stats.TotalDownloads, err = s.stors.FileRecordStor.TotalDownloads(); err != nil {
		return nil, err
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if stats.UploadsToday, err = s.stors.FileRecordStor.CountCreatedSince(startOfDay); err != nil {
		return nil, err
	}

	return stats, nil
}

// SystemSettings returns the persisted runtime configuration, falling back
// to the in-process defaults for keys never written.
func (s *TransferService) SystemSettings() (map[string]string, error) {
	settings, err := s.stors.SettingStor.GetAllSettings()
	if err != nil {
		return nil, err
	}

	cfg := s.assembler.config()
	defaults := map[string]string{
		SettingMaxFileSize:       strconv.FormatInt(cfg.MaxFileSize, 10),
		SettingMaxChunkSize:      strconv.FormatInt(cfg.MaxChunkSize, 10),
		SettingDefaultExpiry:     cfg.DefaultExpiry.String(),
		SettingSessionInactivity: cfg.SessionInactivity.String(),
	}

	for key, value := range defaults {
		if _, ok := settings[key]; !ok {
			settings[key] = value
		}
	}

	return settings, nil
}

// UpdateSystemSettings persists runtime configuration changes and applies
// them to the running service. The whole map is validated before any key
// is applied or persisted, so a bad value cannot leave a partial update
// behind.
func (s *TransferService) UpdateSystemSettings(settings map[string]string) error {
	updates := make([]func(*ServiceConfig), 0, len(settings))

	for key, value := range settings {
		switch key {
		case SettingMaxFileSize:
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil || size <= 0 {
				return fmt.Errorf("invalid value for %s: %q", key, value)
			}
			updates = append(updates, func(cfg *ServiceConfig) { cfg.MaxFileSize = size })
		case SettingMaxChunkSize:
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil || size <= 0 {
				return fmt.Errorf("invalid value for %s: %q", key, value)
			}
			updates = append(updates, func(cfg *ServiceConfig) { cfg.MaxChunkSize = size })
		case SettingDefaultExpiry:
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid value for %s: %q", key, value)
			}
			updates = append(updates, func(cfg *ServiceConfig) { cfg.DefaultExpiry = d })
		case SettingSessionInactivity:
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid value for %s: %q", key, value)
			}
			updates = append(updates, func(cfg *ServiceConfig) { cfg.SessionInactivity = d })
		default:
			return fmt.Errorf("unknown setting: %q", key)
		}
	}

	s.assembler.updateConfig(func(cfg *ServiceConfig) {
		for _, update := range updates {
			update(cfg)
		}
	})

	for key, value := range settings {
		if err := s.stors.SettingStor.SetSetting(key, value); err != nil {
			return err
		}
	}

	return nil
}

// SessionInactivity is the currently configured reclaim window.
func (s *TransferService) SessionInactivity() time.Duration {
	return s.assembler.config().SessionInactivity
}

// SafeFilename turns a user supplied filename into one safe to hand back
// in a Content-Disposition header, preserving the extension.
func SafeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]

	safeBase := slug.Make(base)
	if safeBase == "" {
		safeBase = "file"
	}

	return safeBase + ext
}

// MimeTypeForFile returns the MIME type for a file based on its extension.
func MimeTypeForFile(filename string) string {
	switch filepath.Ext(filename) {
	case ".txt":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".json":
		return "application/json"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

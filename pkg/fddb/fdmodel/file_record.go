package fdmodel

import (
	"fmt"
	"path/filepath"
	"time"
)

// FileRecord is one fully assembled uploaded file. A record only exists once
// every chunk of its upload was verified and concatenated; partial uploads
// live in UploadSession/FileChunk. The record's quota and expiry fields are
// only ever written by the stor layer.
type FileRecord struct {
	ID               int       `json:"id"`
	UUID             string    `json:"uuid" gorm:"uniqueIndex"`
	OwnerID          int       `json:"owner_id" gorm:"index:idx_file_records_owner_created"`
	OriginalFilename string    `json:"original_filename"`
	Path             string    `json:"path"`
	Size             int64     `json:"size"`
	Checksum         string    `json:"checksum" gorm:"index"`
	MimeType         string    `json:"mime_type"`
	ShareCode        string    `json:"share_code" gorm:"uniqueIndex"`
	DownloadCount    int       `json:"download_count"`
	MaxDownloads     int       `json:"max_downloads"`
	ExpiresAt        time.Time `json:"expires_at" gorm:"index:idx_file_records_expires_active"`
	IsActive         bool      `json:"is_active" gorm:"index:idx_file_records_expires_active"`
	CreatedAt        time.Time `json:"created_at" gorm:"index:idx_file_records_owner_created"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (FileRecord) TableName() string {
	return "file_records"
}

// DefaultExpiryHours is applied when a record is created without an
// explicit expiry.
const DefaultExpiryHours = 72

func (f FileRecord) IsExpired() bool {
	return time.Now().After(f.ExpiresAt)
}

// QuotaExhausted is true when the record has a download quota and it has
// been used up. MaxDownloads of 0 means unlimited downloads.
func (f FileRecord) QuotaExhausted() bool {
	return f.MaxDownloads > 0 && f.DownloadCount >= f.MaxDownloads
}

// ToUnderlyingFilePath returns the absolute path of the stored bytes. Path
// is kept relative to the storage root so the tree can be relocated.
func (f FileRecord) ToUnderlyingFilePath(root string) string {
	return filepath.Join(root, f.Path)
}

func (f FileRecord) DownloadURL() string {
	return fmt.Sprintf("/download/%s/", f.ShareCode)
}

// FormattedSize renders the size the way the listing pages display it.
func (f FileRecord) FormattedSize() string {
	switch size := f.Size; {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(size)/(1024*1024*1024))
	}
}

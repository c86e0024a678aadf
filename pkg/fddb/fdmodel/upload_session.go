package fdmodel

import "time"

// Upload session states. A session starts in Receiving, moves to Complete
// once every expected chunk is verified, and ends in Assembled or Abandoned.
// Assembled and Abandoned are terminal.
const (
	SessionStateReceiving = "receiving"
	SessionStateComplete  = "complete"
	SessionStateAssembled = "assembled"
	SessionStateAbandoned = "abandoned"
)

// UploadSession identifies an in-progress chunked upload. Chunks reference
// the session, not a FileRecord; the record is created only when the
// session is assembled, at which point FileRecordID is set.
type UploadSession struct {
	ID             int        `json:"id"`
	UUID           string     `json:"uuid" gorm:"uniqueIndex"`
	OwnerID        int        `json:"owner_id" gorm:"index"`
	Filename       string     `json:"filename"`
	MimeType       string     `json:"mime_type"`
	TotalSize      int64      `json:"total_size"`
	ChunkSize      int64      `json:"chunk_size"`
	TotalChunks    int        `json:"total_chunks"`
	MaxDownloads   int        `json:"max_downloads"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	State          string     `json:"state" gorm:"index"`
	FileRecordID   int        `json:"file_record_id"`
	LastActivityAt time.Time  `json:"last_activity_at" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (UploadSession) TableName() string {
	return "upload_sessions"
}

func (s UploadSession) IsTerminal() bool {
	return s.State == SessionStateAssembled || s.State == SessionStateAbandoned
}

package fdmodel

import "time"

// FileChunk tracks one received piece of an upload session. The
// (UploadSessionID, SequenceNumber) pair is unique, so resending a chunk
// updates the existing row rather than creating a duplicate.
type FileChunk struct {
	ID              int       `json:"id"`
	UploadSessionID int       `json:"upload_session_id" gorm:"uniqueIndex:idx_file_chunks_session_seq"`
	SequenceNumber  int       `json:"sequence_number" gorm:"uniqueIndex:idx_file_chunks_session_seq"`
	Size            int64     `json:"size"`
	Checksum        string    `json:"checksum"`
	Uploaded        bool      `json:"uploaded"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (FileChunk) TableName() string {
	return "file_chunks"
}

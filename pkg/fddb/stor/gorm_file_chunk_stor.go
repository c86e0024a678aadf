package stor

import (
	"errors"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"gorm.io/gorm"
)

type GormFileChunkStor struct {
	db *gorm.DB
}

func NewGormFileChunkStor(db *gorm.DB) *GormFileChunkStor {
	return &GormFileChunkStor{db: db}
}

// UpsertChunk records a verified chunk for a session. Resending the same
// sequence number updates the existing row in place, so a client retrying
// after a timeout never creates a duplicate.
func (s *GormFileChunkStor) UpsertChunk(sessionID, sequenceNumber int, size int64, checksum string) (*fdmodel.FileChunk, error) {
	chunk := &fdmodel.FileChunk{
		UploadSessionID: sessionID,
		SequenceNumber:  sequenceNumber,
		Size:            size,
		Checksum:        checksum,
		Uploaded:        true,
	}

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		var existing fdmodel.FileChunk
		err := tx.Where("upload_session_id = ?", sessionID).
			Where("sequence_number = ?", sequenceNumber).
			First(&existing).Error

		switch {
		case err == nil:
			chunk.ID = existing.ID
			chunk.CreatedAt = existing.CreatedAt
			return tx.Model(&existing).
				Updates(map[string]interface{}{
					"size":     size,
					"checksum": checksum,
					"uploaded": true,
				}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(chunk).Error
		default:
			return err
		}
	})

	if err != nil {
		return nil, err
	}

	return chunk, nil
}

func (s *GormFileChunkStor) GetChunksForSession(sessionID int) ([]fdmodel.FileChunk, error) {
	var chunks []fdmodel.FileChunk
	result := s.db.Where("upload_session_id = ?", sessionID).
		Order("sequence_number").
		Find(&chunks)
	return chunks, result.Error
}

func (s *GormFileChunkStor) CountUploaded(sessionID int) (int64, error) {
	var count int64
	err := s.db.Model(&fdmodel.FileChunk{}).
		Where("upload_session_id = ?", sessionID).
		Where("uploaded = ?", true).
		Count(&count).Error
	return count, err
}

func (s *GormFileChunkStor) DeleteChunksForSession(sessionID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("upload_session_id = ?", sessionID).Delete(&fdmodel.FileChunk{}).Error
	})
}

package stor

import (
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/hashicorp/go-uuid"
	"gorm.io/gorm"
)

type GormUploadSessionStor struct {
	db *gorm.DB
}

func NewGormUploadSessionStor(db *gorm.DB) *GormUploadSessionStor {
	return &GormUploadSessionStor{db: db}
}

func (s *GormUploadSessionStor) CreateSession(session *fdmodel.UploadSession) (*fdmodel.UploadSession, error) {
	var err error

	if session.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	session.State = fdmodel.SessionStateReceiving
	session.LastActivityAt = time.Now()

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})

	if err != nil {
		return nil, err
	}

	return session, nil
}

func (s *GormUploadSessionStor) GetSessionByUUID(sessionUUID string) (*fdmodel.UploadSession, error) {
	var session fdmodel.UploadSession
	if err := s.db.Where("uuid = ?", sessionUUID).First(&session).Error; err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *GormUploadSessionStor) Touch(sessionID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&fdmodel.UploadSession{}).
			Where("id = ?", sessionID).
			Update("last_activity_at", time.Now()).Error
	})
}

func (s *GormUploadSessionStor) MarkComplete(sessionID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&fdmodel.UploadSession{}).
			Where("id = ?", sessionID).
			Where("state = ?", fdmodel.SessionStateReceiving).
			Update("state", fdmodel.SessionStateComplete).Error
	})
}

// MarkAssembled transitions the session into its terminal assembled state
// and links it to the created record. The state guard makes the transition
// first-writer-wins: a second assembler sees alreadyAssembled = true and
// must return the winner's record instead of creating another one.
func (s *GormUploadSessionStor) MarkAssembled(sessionID, fileRecordID int) (bool, error) {
	alreadyAssembled := false

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		res := tx.Model(&fdmodel.UploadSession{}).
			Where("id = ?", sessionID).
			Where("state <> ?", fdmodel.SessionStateAssembled).
			Updates(map[string]interface{}{
				"state":          fdmodel.SessionStateAssembled,
				"file_record_id": fileRecordID,
			})
		if res.Error != nil {
			return res.Error
		}

		alreadyAssembled = res.RowsAffected == 0

		return nil
	})

	return alreadyAssembled, err
}

func (s *GormUploadSessionStor) MarkAbandoned(sessionID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&fdmodel.UploadSession{}).
			Where("id = ?", sessionID).
			Where("state <> ?", fdmodel.SessionStateAssembled).
			Update("state", fdmodel.SessionStateAbandoned).Error
	})
}

// GetInactiveSince returns non-terminal sessions with no chunk activity
// since cutoff. These are the sessions the reclaimer cleans up.
func (s *GormUploadSessionStor) GetInactiveSince(cutoff time.Time) ([]fdmodel.UploadSession, error) {
	var sessions []fdmodel.UploadSession
	result := s.db.
		Where("state in ?", []string{fdmodel.SessionStateReceiving, fdmodel.SessionStateComplete}).
		Where("last_activity_at < ?", cutoff).
		Find(&sessions)
	return sessions, result.Error
}

func (s *GormUploadSessionStor) DeleteSession(sessionID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Where("upload_session_id = ?", sessionID).Delete(&fdmodel.FileChunk{}).Error; err != nil {
			return err
		}

		return tx.Delete(&fdmodel.UploadSession{}, sessionID).Error
	})
}

package stor

import (
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"gorm.io/gorm"
)

type GormDownloadLogStor struct {
	db *gorm.DB
}

func NewGormDownloadLogStor(db *gorm.DB) *GormDownloadLogStor {
	return &GormDownloadLogStor{db: db}
}

func (s *GormDownloadLogStor) AddLog(downloadLog *fdmodel.DownloadLog) (*fdmodel.DownloadLog, error) {
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(downloadLog).Error
	})

	if err != nil {
		return nil, err
	}

	return downloadLog, nil
}

func (s *GormDownloadLogStor) GetLogsForRecord(fileRecordID int) ([]fdmodel.DownloadLog, error) {
	var logs []fdmodel.DownloadLog
	result := s.db.Where("file_record_id = ?", fileRecordID).
		Order("created_at desc").
		Find(&logs)
	return logs, result.Error
}

func (s *GormDownloadLogStor) CountForRecord(fileRecordID int) (int64, error) {
	var count int64
	err := s.db.Model(&fdmodel.DownloadLog{}).
		Where("file_record_id = ?", fileRecordID).
		Count(&count).Error
	return count, err
}

package stor

import (
	"errors"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/hashicorp/go-uuid"
	"gorm.io/gorm"
)

// ShareCodeAllocationRetries bounds how many fresh share codes CreateRecord
// will try before giving up with ErrCodeSpaceExhausted.
const ShareCodeAllocationRetries = 5

type GormFileRecordStor struct {
	db *gorm.DB
}

func NewGormFileRecordStor(db *gorm.DB) *GormFileRecordStor {
	return &GormFileRecordStor{db: db}
}

// CreateRecord persists a new FileRecord with a freshly allocated share
// code. The share code unique index is the arbiter: when two concurrent
// creates pick the same code exactly one insert succeeds and the loser
// retries with a new code. Either the full record is stored or nothing is.
func (s *GormFileRecordStor) CreateRecord(params CreateRecordParams, generateCode ShareCodeFN) (*fdmodel.FileRecord, error) {
	recordUUID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	expiresAt := params.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(fdmodel.DefaultExpiryHours * time.Hour)
	}

	record := &fdmodel.FileRecord{
		UUID:             recordUUID,
		OwnerID:          params.OwnerID,
		OriginalFilename: params.OriginalFilename,
		Path:             params.Path,
		Size:             params.Size,
		Checksum:         params.Checksum,
		MimeType:         params.MimeType,
		DownloadCount:    0,
		MaxDownloads:     params.MaxDownloads,
		ExpiresAt:        expiresAt,
		IsActive:         true,
	}

	for i := 0; i < ShareCodeAllocationRetries; i++ {
		if record.ShareCode, err = generateCode(); err != nil {
			return nil, err
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(record).Error
		})

		switch {
		case err == nil:
			return record, nil
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// Share code collision, try again with a fresh code.
			record.ID = 0
			continue
		default:
			return nil, err
		}
	}

	log.Errorf("CreateRecord for %s: %d share code allocations collided", params.OriginalFilename, ShareCodeAllocationRetries)

	return nil, ErrCodeSpaceExhausted
}

func (s *GormFileRecordStor) GetRecordByID(id int) (*fdmodel.FileRecord, error) {
	var record fdmodel.FileRecord
	if err := s.db.First(&record, id).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *GormFileRecordStor) GetRecordByUUID(recordUUID string) (*fdmodel.FileRecord, error) {
	var record fdmodel.FileRecord
	if err := s.db.Where("uuid = ?", recordUUID).First(&record).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *GormFileRecordStor) GetRecordByShareCode(shareCode string) (*fdmodel.FileRecord, error) {
	var record fdmodel.FileRecord
	if err := s.db.Where("share_code = ?", shareCode).First(&record).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

// GetRecordByPath looks a record up by its relative storage path. Only the
// orphan scan uses this, so path carries no index.
func (s *GormFileRecordStor) GetRecordByPath(path string) (*fdmodel.FileRecord, error) {
	var record fdmodel.FileRecord
	if err := s.db.Where("path = ?", path).First(&record).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

// CheckDownloadEligibility loads the record for shareCode and evaluates, in
// order: active, not expired, quota not exhausted. The record is returned
// alongside the reason so callers can log the attempt against it. The check
// is advisory; the quota is enforced again by RecordDownload's conditional
// increment, so a racing download can never push the count past the quota.
func (s *GormFileRecordStor) CheckDownloadEligibility(shareCode string) (*fdmodel.FileRecord, error) {
	record, err := s.GetRecordByShareCode(shareCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch {
	case !record.IsActive:
		return record, ErrInactive
	case record.IsExpired():
		return record, ErrExpired
	case record.QuotaExhausted():
		return record, ErrQuotaExceeded
	default:
		return record, nil
	}
}

// RecordDownload appends a DownloadLog row and, for a successful download,
// claims a quota slot. The claim is a single conditional UPDATE so N
// concurrent downloads of a record with K remaining slots produce exactly K
// increments; the losers get ErrQuotaExceeded and a failed log row instead.
func (s *GormFileRecordStor) RecordDownload(fileID int, ipAddress, userAgent string, success bool) error {
	quotaExceeded := false
	recordGone := false

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		quotaExceeded = false
		recordGone = false
		logSuccess := success

		if success {
			res := tx.Model(&fdmodel.FileRecord{}).
				Where("id = ?", fileID).
				Where("max_downloads = 0 OR download_count < max_downloads").
				UpdateColumn("download_count", gorm.Expr("download_count + 1"))
			if res.Error != nil {
				return res.Error
			}

			if res.RowsAffected == 0 {
				// Zero rows means either the quota race was lost or the
				// record was deleted after the eligibility check. Re-read
				// to tell them apart; a deleted record gets no log row.
				var count int64
				if err := tx.Model(&fdmodel.FileRecord{}).Where("id = ?", fileID).Count(&count).Error; err != nil {
					return err
				}

				if count == 0 {
					recordGone = true
					return nil
				}

				quotaExceeded = true
				logSuccess = false
			}
		}

		downloadLog := &fdmodel.DownloadLog{
			FileRecordID: fileID,
			IPAddress:    ipAddress,
			UserAgent:    userAgent,
			IsSuccess:    logSuccess,
		}

		return tx.Create(downloadLog).Error
	})

	switch {
	case err != nil:
		return err
	case recordGone:
		return ErrNotFound
	case quotaExceeded:
		return ErrQuotaExceeded
	}

	return nil
}

func (s *GormFileRecordStor) Deactivate(fileID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&fdmodel.FileRecord{}).
			Where("id = ?", fileID).
			Update("is_active", false).Error
	})
}

// UpdateSettings applies owner/admin mutations to the quota, expiry and
// active flag. The download counter is never touched here.
func (s *GormFileRecordStor) UpdateSettings(fileID int, maxDownloads int, expiresAt time.Time, isActive bool) (*fdmodel.FileRecord, error) {
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&fdmodel.FileRecord{}).
			Where("id = ?", fileID).
			Updates(map[string]interface{}{
				"max_downloads": maxDownloads,
				"expires_at":    expiresAt,
				"is_active":     isActive,
			}).Error
	})

	if err != nil {
		return nil, err
	}

	return s.GetRecordByID(fileID)
}

// DeleteRecord removes the record and its download logs in one transaction.
// The caller is responsible for having removed the physical bytes first;
// see the retention engine for the ordering contract.
func (s *GormFileRecordStor) DeleteRecord(fileID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Where("file_record_id = ?", fileID).Delete(&fdmodel.DownloadLog{}).Error; err != nil {
			return err
		}

		return tx.Delete(&fdmodel.FileRecord{}, fileID).Error
	})
}

// GetExpired returns every record whose expiry has passed, regardless of
// the active flag, oldest first.
func (s *GormFileRecordStor) GetExpired(now time.Time) ([]fdmodel.FileRecord, error) {
	var records []fdmodel.FileRecord
	result := s.db.Where("expires_at <= ?", now).Order("expires_at").Find(&records)
	return records, result.Error
}

func (s *GormFileRecordStor) GetRecordsForOwner(ownerID int) ([]fdmodel.FileRecord, error) {
	var records []fdmodel.FileRecord
	result := s.db.Where("owner_id = ?", ownerID).Order("created_at desc").Find(&records)
	return records, result.Error
}

func (s *GormFileRecordStor) CountRecords() (int64, error) {
	var count int64
	err := s.db.Model(&fdmodel.FileRecord{}).Count(&count).Error
	return count, err
}

func (s *GormFileRecordStor) TotalBytes() (int64, error) {
	var total int64
	err := s.db.Model(&fdmodel.FileRecord{}).
		Select("coalesce(sum(size), 0)").
		Scan(&total).Error
	return total, err
}

func (s *GormFileRecordStor) TotalDownloads() (int64, error) {
	var total int64
	err := s.db.Model(&fdmodel.FileRecord{}).
		Select("coalesce(sum(download_count), 0)").
		Scan(&total).Error
	return total, err
}

func (s *GormFileRecordStor) CountCreatedSince(since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&fdmodel.FileRecord{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

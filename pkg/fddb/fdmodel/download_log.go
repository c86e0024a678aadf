package fdmodel

import "time"

// DownloadLog is an append-only audit row for one download attempt,
// successful or not. Rows are never updated and are only removed when
// their FileRecord is deleted.
type DownloadLog struct {
	ID           int       `json:"id"`
	FileRecordID int       `json:"file_record_id" gorm:"index:idx_download_logs_record_time"`
	IPAddress    string    `json:"ip_address" gorm:"index"`
	UserAgent    string    `json:"user_agent"`
	IsSuccess    bool      `json:"is_success"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_download_logs_record_time"`
}

func (DownloadLog) TableName() string {
	return "download_logs"
}

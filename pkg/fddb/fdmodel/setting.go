package fdmodel

import "time"

// Setting is a persisted runtime configuration entry. Admin settings
// updates write here so they survive a restart instead of only mutating
// in-process state.
type Setting struct {
	ID        int       `json:"id"`
	Key       string    `json:"key" gorm:"uniqueIndex;column:setting_key"`
	Value     string    `json:"value" gorm:"column:setting_value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

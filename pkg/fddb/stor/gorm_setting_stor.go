package stor

import (
	"errors"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"gorm.io/gorm"
)

type GormSettingStor struct {
	db *gorm.DB
}

func NewGormSettingStor(db *gorm.DB) *GormSettingStor {
	return &GormSettingStor{db: db}
}

func (s *GormSettingStor) GetSetting(key string) (string, error) {
	var setting fdmodel.Setting
	if err := s.db.Where("setting_key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}

	return setting.Value, nil
}

func (s *GormSettingStor) GetSettingWithDefault(key, defaultValue string) string {
	value, err := s.GetSetting(key)
	if err != nil {
		return defaultValue
	}

	return value
}

func (s *GormSettingStor) SetSetting(key, value string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		var existing fdmodel.Setting
		err := tx.Where("setting_key = ?", key).First(&existing).Error

		switch {
		case err == nil:
			return tx.Model(&existing).Update("setting_value", value).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&fdmodel.Setting{Key: key, Value: value}).Error
		default:
			return err
		}
	})
}

func (s *GormSettingStor) GetAllSettings() (map[string]string, error) {
	var settings []fdmodel.Setting
	if err := s.db.Find(&settings).Error; err != nil {
		return nil, err
	}

	all := make(map[string]string, len(settings))
	for _, setting := range settings {
		all[setting.Key] = setting.Value
	}

	return all, nil
}

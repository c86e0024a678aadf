package stor

import (
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/hashicorp/go-uuid"
	"gorm.io/gorm"
)

type GormUserStor struct {
	db *gorm.DB
}

func NewGormUserStor(db *gorm.DB) *GormUserStor {
	return &GormUserStor{db: db}
}

// CreateUser creates a new user.
func (s *GormUserStor) CreateUser(user *fdmodel.User) (*fdmodel.User, error) {
	var err error

	if user.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(user).Error
	})

	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *GormUserStor) GetUserByID(userID int) (*fdmodel.User, error) {
	var user fdmodel.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *GormUserStor) GetUserByAPIToken(apitoken string) (*fdmodel.User, error) {
	var user fdmodel.User
	if err := s.db.Where("api_token = ?", apitoken).First(&user).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *GormUserStor) GetUserByEmail(email string) (*fdmodel.User, error) {
	var user fdmodel.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

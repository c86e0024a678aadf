package fdmodel

import "time"

// User is the identity handed to the core by the authentication
// collaborator. The core never authenticates; it only needs an owner id
// for records and the api token lookup used by the request middleware.
type User struct {
	ID        int    `json:"id"`
	UUID      string `json:"uuid" gorm:"uniqueIndex"`
	Name      string `json:"name"`
	Email     string `json:"email" gorm:"uniqueIndex"`
	ApiToken  string `json:"-" gorm:"index"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

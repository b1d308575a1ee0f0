package users

import "time"

type User struct {
	ID         string    `gorm:"primaryKey"`
	CreatedAt  time.Time
	Name       string    `gorm:"not null"`
	Email      string    `gorm:"uniqueIndex;not null"`
	SecretHash string    `gorm:"column:password;not null"`
}

func (User) TableName() string {
	return "user_profiles"
}

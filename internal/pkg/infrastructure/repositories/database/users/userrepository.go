package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

//go:generate moq -rm -out userrepository_mock.go . UserRepository

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
	Create(ctx context.Context, name, email, secretHash string) (User, error)
}

var ErrUserNotFound = fmt.Errorf("user not found")
var ErrDuplicateEmail = fmt.Errorf("duplicate email")

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) (UserRepository, error) {
	err := db.AutoMigrate(&User{})
	if err != nil {
		return nil, err
	}

	return &userRepository{
		db: db,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrUserNotFound
	}

	user := User{}

	result := r.db.WithContext(ctx).Where("email = ?", email).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, result.Error
	}

	return user, nil
}

func (r *userRepository) FindByID(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrUserNotFound
	}

	user := User{}

	result := r.db.WithContext(ctx).Where("id = ?", userID).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, result.Error
	}

	return user, nil
}

func (r *userRepository) Create(ctx context.Context, name, email, secretHash string) (User, error) {
	email = normalizeEmail(email)

	_, err := r.FindByEmail(ctx, email)
	if err == nil {
		return User{}, ErrDuplicateEmail
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user := User{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		SecretHash: secretHash,
	}

	err = r.db.WithContext(ctx).Create(&user).Error
	if err != nil {
		// the unique index catches a concurrent registration of the same email
		if _, lookupErr := r.FindByEmail(ctx, email); lookupErr == nil {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}

	return user, nil
}

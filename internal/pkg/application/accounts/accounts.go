package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/tokens"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
)

var ErrInvalidInput = fmt.Errorf("name, email and password are required")
var ErrDuplicateEmail = fmt.Errorf("duplicate email")
var ErrInvalidCredentials = fmt.Errorf("invalid credentials")
var ErrUnauthorized = fmt.Errorf("unauthorized")

//go:generate moq -rm -out accounts_mock.go . Accounts

type Accounts interface {
	Register(ctx context.Context, name, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, token string) (users.User, error)
}

type accounts struct {
	users  users.UserRepository
	tokens tokens.Service
}

func New(userRepo users.UserRepository, tokenService tokens.Service) Accounts {
	return &accounts{
		users:  userRepo,
		tokens: tokenService,
	}
}

func (a *accounts) Register(ctx context.Context, name, email, password string) (string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name == "" || email == "" || password == "" {
		return "", ErrInvalidInput
	}

	hash, err := users.HashSecret(password)
	if err != nil {
		return "", fmt.Errorf("could not hash secret: %w", err)
	}

	user, err := a.users.Create(ctx, name, email, hash)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}

	log := logging.GetFromContext(ctx)
	log.Info().Str("userId", user.ID).Msg("registered new user")

	return a.tokens.Issue(user.ID, user.Name, user.Email)
}

func (a *accounts) Login(ctx context.Context, email, password string) (string, error) {
	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !users.VerifySecret(password, user.SecretHash) {
		return "", ErrInvalidCredentials
	}

	return a.tokens.Issue(user.ID, user.Name, user.Email)
}

// Authenticate resolves a bearer token to a registered user.
func (a *accounts) Authenticate(ctx context.Context, token string) (users.User, error) {
	if token == "" {
		return users.User{}, ErrUnauthorized
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		return users.User{}, fmt.Errorf("%w: %s", ErrUnauthorized, err.Error())
	}

	user, err := a.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return users.User{}, ErrUnauthorized
		}
		return users.User{}, err
	}

	return user, nil
}

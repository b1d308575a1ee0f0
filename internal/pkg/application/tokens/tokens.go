package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

const DefaultTTL = time.Hour

var ErrInvalidToken = fmt.Errorf("invalid or expired token")
var ErrMissingSecret = errors.New("token signing secret must not be empty")

type Claims struct {
	UserID string
	Name   string
	Email  string
}

//go:generate moq -rm -out tokens_mock.go . Service

type Service interface {
	Issue(userID, name, email string) (string, error)
	Verify(token string) (Claims, error)
}

type service struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
}

// New returns a Service signing HS256 tokens with secret. A zero ttl means DefaultTTL.
func New(secret string, ttl time.Duration) (Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &service{
		auth: jwtauth.New("HS256", []byte(secret), nil),
		ttl:  ttl,
	}, nil
}

func (s *service) Issue(userID, name, email string) (string, error) {
	claims := map[string]any{
		"userId": userID,
		"name":   name,
		"email":  email,
	}

	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, s.ttl)

	_, tokenString, err := s.auth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *service) Verify(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	token, err := jwtauth.VerifyToken(s.auth, tokenString)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	private := token.PrivateClaims()

	claims := Claims{
		UserID: stringClaim(private, "userId"),
		Name:   stringClaim(private, "name"),
		Email:  stringClaim(private, "email"),
	}

	if claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/matryer/is"
)

func TestIssueAndVerify(t *testing.T) {
	is := is.New(t)

	svc, err := New("a-test-secret", time.Hour)
	is.NoErr(err)

	token, err := svc.Issue("user-1", "Jo", "jo@example.com")
	is.NoErr(err)

	claims, err := svc.Verify(token)
	is.NoErr(err)
	is.Equal(claims, Claims{UserID: "user-1", Name: "Jo", Email: "jo@example.com"})
}

func TestThatEmptySecretIsRejected(t *testing.T) {
	is := is.New(t)

	_, err := New("", time.Hour)
	is.Equal(err, ErrMissingSecret)
}

func TestThatExpiredTokenIsInvalid(t *testing.T) {
	is := is.New(t)

	svc, _ := New("a-test-secret", -time.Minute)
	token, err := svc.Issue("user-1", "Jo", "jo@example.com")
	is.NoErr(err)

	_, err = svc.Verify(token)
	is.True(errors.Is(err, ErrInvalidToken))
}

func TestThatTokenSignedWithOtherSecretIsInvalid(t *testing.T) {
	is := is.New(t)

	issuer, _ := New("secret-one", time.Hour)
	verifier, _ := New("secret-two", time.Hour)

	token, _ := issuer.Issue("user-1", "Jo", "jo@example.com")

	_, err := verifier.Verify(token)
	is.True(errors.Is(err, ErrInvalidToken))

	_, err = verifier.Verify("not.a.token")
	is.True(errors.Is(err, ErrInvalidToken))

	_, err = verifier.Verify("")
	is.True(errors.Is(err, ErrInvalidToken))
}

func TestThatTokenWithoutUserIDIsInvalid(t *testing.T) {
	is := is.New(t)

	secret := "a-test-secret"
	svc, _ := New(secret, time.Hour)

	claims := map[string]any{"name": "anonymous"}
	jwtauth.SetExpiryIn(claims, time.Hour)
	_, token, err := jwtauth.New("HS256", []byte(secret), nil).Encode(claims)
	is.NoErr(err)

	_, err = svc.Verify(token)
	is.Equal(err, ErrInvalidToken)
}

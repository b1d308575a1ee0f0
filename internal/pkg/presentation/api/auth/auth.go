package auth

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/accounts"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
)

const TokenHeader = "x-access-token"

//go:embed authz.rego
var DefaultPolicy string

type userContextKey struct{ name string }

var userCtxKey = &userContextKey{"user"}

var tracer = otel.Tracer("iot-device-telemetry/authz")

// TokenAuthenticator resolves a bearer token to a registered user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (users.User, error)
}

type Enticator interface {
	RequireUser() func(http.Handler) http.Handler
}

type impl struct {
	authn TokenAuthenticator
	query rego.PreparedEvalQuery
}

func (a *impl) RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error

			logger := logging.GetFromContext(r.Context())

			ctx, span := tracer.Start(r.Context(), "check-auth")
			defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

			token := TokenFromHeader(r)
			if token == "" {
				err = errors.New("access token missing")
				logger.Info().Msg(err.Error())
				writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
				return
			}

			user, err := a.authn.Authenticate(ctx, token)
			if err != nil {
				if errors.Is(err, accounts.ErrUnauthorized) {
					logger.Info().Err(err).Msg("token rejected")
					writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
					return
				}
				logger.Error().Err(err).Msg("failed to authenticate token")
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			input := map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"user": map[string]any{
					"id":    user.ID,
					"email": user.Email,
				},
			}

			results, err := a.query.Eval(ctx, rego.EvalInput(input))
			if err != nil {
				logger.Error().Err(err).Msg("opa eval failed")
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			if len(results) == 0 {
				err = errors.New("opa query could not be satisfied")
				logger.Error().Err(err).Msg("auth failed")
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			allowed, ok := results[0].Bindings["x"].(bool)
			if !ok || !allowed {
				err = errors.New("authorization failed")
				logger.Warn().Str("userId", user.ID).Msg(err.Error())
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			r = r.WithContext(WithUser(r.Context(), types.User{
				ID:    user.ID,
				Name:  user.Name,
				Email: user.Email,
			}))

			next.ServeHTTP(w, r)
		})
	}
}

func NewAuthenticator(ctx context.Context, authn TokenAuthenticator, policies io.Reader) (Enticator, error) {
	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
	}

	query, err := rego.New(
		rego.Query("x = data.sensorhub.authz.allow"),
		rego.Module("sensorhub.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return &impl{authn: authn, query: query}, nil
}

func TokenFromHeader(r *http.Request) string {
	return r.Header.Get(TokenHeader)
}

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// GetUserFromContext returns the user authenticated by RequireUser, if any.
func GetUserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userCtxKey).(types.User)
	return user, ok
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": message})
}

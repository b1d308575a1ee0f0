package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/accounts"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/api/auth"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-device-telemetry/api")

const maxBodySize = 1 << 20

func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, accts accounts.Accounts, svc devicemanagement.DeviceManagement) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log := logging.GetFromContext(ctx)

	authenticator, err := auth.NewAuthenticator(ctx, accts, policies)
	if err != nil {
		return nil, fmt.Errorf("failed to create api authenticator: %w", err)
	}

	requireUser := authenticator.RequireUser()

	router.Post("/register", registerHandler(log, accts))
	router.Post("/login", loginHandler(log, accts))
	router.Post("/newDevice", newDeviceHandler(log, svc))

	router.Route("/devices", func(r chi.Router) {
		r.With(requireUser).Get("/", listDevicesHandler(log, svc))
		r.Get("/{device}", getDeviceByNameHandler(log, svc))
		r.With(requireUser).Delete("/{device}", deleteDeviceHandler(log, svc))
	})

	return router, nil
}

type statusResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Token   string        `json:"token,omitempty"`
	User    string        `json:"user,omitempty"`
	APIKey  string        `json:"apiKey,omitempty"`
	Device  *types.Device `json:"device,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, statusResponse{Status: "error", Error: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func registerHandler(log zerolog.Logger, accts accounts.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "register-user")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		request := struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}{}

		err = decodeBody(w, r, &request)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		token, err := accts.Register(ctx, request.Name, request.Email, request.Password)
		if err != nil {
			switch {
			case errors.Is(err, accounts.ErrInvalidInput):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, accounts.ErrDuplicateEmail):
				writeError(w, http.StatusBadRequest, "Duplicate email")
			default:
				requestLogger.Error().Err(err).Msg("unable to register user")
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Token: token})
	}
}

func loginHandler(log zerolog.Logger, accts accounts.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "login")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		request := struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}{}

		err = decodeBody(w, r, &request)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		token, err := accts.Login(ctx, request.Email, request.Password)
		if err != nil {
			if errors.Is(err, accounts.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}
			requestLogger.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", User: token})
	}
}

func newDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "submit-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		var submission types.TelemetrySubmission
		err = decodeBody(w, r, &submission)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		result, err := svc.Submit(ctx, submission, auth.TokenFromHeader(r))
		if err != nil {
			if errors.Is(err, devicemanagement.ErrUnauthorized) {
				requestLogger.Info().Err(err).Msg("submission rejected")
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			requestLogger.Error().Err(err).Msg("unable to store submission")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if result.Outcome == types.OutcomeCreated {
			writeJSON(w, http.StatusOK, statusResponse{
				Status:  "success",
				Message: "New device and data created successfully",
				APIKey:  result.APIKey,
			})
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Data updated successfully"})
	}
}

func listDevicesHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-devices")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		user, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errors.New("no authenticated user in context")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		devices, err := svc.GetDevicesForOwner(ctx, user.ID)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch devices")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, devices)
	}
}

func getDeviceByNameHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceName := chi.URLParam(r, "device")

		device, err := svc.GetDeviceByName(ctx, deviceName)
		if err != nil {
			if errors.Is(err, devicemanagement.ErrDeviceNotFound) {
				requestLogger.Debug().Str("deviceName", deviceName).Msg("device not found")
				writeError(w, http.StatusNotFound, "Device not found")
				return
			}
			requestLogger.Error().Err(err).Msg("unable to fetch device")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Device: &device})
	}
}

func deleteDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		user, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errors.New("no authenticated user in context")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		deviceID := chi.URLParam(r, "device")

		err = svc.DeleteDevice(ctx, deviceID, user.ID)
		if err != nil {
			if errors.Is(err, devicemanagement.ErrDeviceNotFound) {
				writeError(w, http.StatusNotFound, "Device not found")
				return
			}
			requestLogger.Error().Err(err).Msg("unable to delete device")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		requestLogger.Info().Str("deviceID", deviceID).Msg("device deleted")

		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Device Deleted Successfully"})
	}
}

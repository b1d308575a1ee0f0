package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/tokens"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/influxdb"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/router"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/api"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/api/auth"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/mqtt"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const serviceName string = "iot-device-telemetry"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	jwtSecret
	tokenTTL
	sqliteDSN
	policiesFile
	configurationFile
	devicesFile
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",
		tokenTTL:      tokens.DefaultTTL.String(),
	}
}

func main() {
	envErr := godotenv.Load()

	serviceVersion := buildinfo.SourceVersion()
	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn().Err(envErr).Msg("failed to load .env file")
	}

	flags := parseExternalConfig(logger, defaultFlags())

	cfg, err := loadConfiguration(flags[configurationFile])
	exitIf(err, logger, "could not load configuration file")

	policies, err := openPolicies(flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")

	db, err := connectDatabase(ctx, flags)
	exitIf(err, logger, "could not create or connect to database")

	messenger := setupMessaging(logger)

	sinks := []devicemanagement.TelemetrySink{}

	mirror, err := influxdb.Connect(ctx, influxdb.LoadConfigFromEnv(ctx))
	if err == nil {
		defer mirror.Close()
		sinks = append(sinks, mirror)
	} else if !errors.Is(err, influxdb.ErrDisabled) {
		logger.Error().Err(err).Msg("influxdb mirror unavailable, continuing without it")
	}

	var publisher devicemanagement.EventPublisher
	if messenger != nil {
		defer messenger.Close()
		publisher = messenger
	}

	app, r, err := initialize(ctx, flags, db, cfg, policies, publisher, sinks...)
	exitIf(err, logger, "failed to initialize application")

	if flags[devicesFile] != "" {
		err = seedDevices(ctx, app, flags[devicesFile])
		exitIf(err, logger, "failed to seed devices")
	}

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(devicemanagement.TelemetrySubmittedTopic, devicemanagement.NewTelemetrySubmittedHandler(app.DeviceManagement()))
	}

	if wd := app.Watchdog(); wd != nil {
		wd.Start(ctx)
		defer wd.Stop()
	}

	bridge, err := mqtt.Start(ctx, mqtt.LoadConfigFromEnv(ctx), mqtt.NewSubmissionHandler(ctx, app.DeviceManagement()))
	if err == nil {
		defer bridge.Close()
	} else if !errors.Is(err, mqtt.ErrDisabled) {
		logger.Error().Err(err).Msg("mqtt bridge unavailable, continuing without it")
	}

	err = runServer(ctx, logger, flags[listenAddress]+":"+flags[servicePort], r)
	exitIf(err, logger, "http server terminated")

	logger.Info().Msg("shut down completed")
}

// initialize wires the application on top of an already connected database
// and returns the router serving the public api.
func initialize(ctx context.Context, flags flagMap, db *gorm.DB, cfg *application.Config, policies io.Reader, publisher devicemanagement.EventPublisher, sinks ...devicemanagement.TelemetrySink) (application.App, *chi.Mux, error) {
	ttl, err := time.ParseDuration(flags[tokenTTL])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid token ttl %q: %w", flags[tokenTTL], err)
	}

	tokenService, err := tokens.New(flags[jwtSecret], ttl)
	if err != nil {
		return nil, nil, err
	}

	app, err := application.New(db, cfg, tokenService, publisher, sinks...)
	if err != nil {
		return nil, nil, err
	}

	r, err := api.RegisterHandlers(ctx, router.New(serviceName), policies, app.Accounts(), app.DeviceManagement())
	if err != nil {
		return nil, nil, err
	}

	return app, r, nil
}

func connectDatabase(ctx context.Context, flags flagMap) (*gorm.DB, error) {
	cfg := database.LoadConfigFromEnv(ctx)

	if cfg.Host == "" {
		return database.NewSQLiteConnector(ctx, flags[sqliteDSN])()
	}

	return database.NewPostgreSQLConnector(ctx, cfg)()
}

func setupMessaging(logger zerolog.Logger) messaging.MsgContext {
	if env.GetVariableOrDefault(logger, "RABBITMQ_HOST", "") == "" {
		logger.Info().Msg("RABBITMQ_HOST not set, domain events will not be published")
		return nil
	}

	config := messaging.LoadConfiguration(serviceName, logger)
	messenger, err := messaging.Initialize(config)
	exitIf(err, logger, "failed to init messenger")

	return messenger
}

func loadConfiguration(path string) (*application.Config, error) {
	if path == "" {
		return &application.Config{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return application.LoadConfiguration(f)
}

func openPolicies(path string) (io.Reader, error) {
	if path == "" {
		return strings.NewReader(auth.DefaultPolicy), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return strings.NewReader(string(b)), nil
}

func seedDevices(ctx context.Context, app application.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return app.SeedDevices(ctx, f)
}

func runServer(ctx context.Context, logger zerolog.Logger, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting to listen for connections")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func parseExternalConfig(logger zerolog.Logger, flags flagMap) flagMap {
	// Allow environment variables to override certain defaults
	envOrDef := func(key, def string) string {
		return env.GetVariableOrDefault(logger, key, def)
	}

	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[jwtSecret] = envOrDef("JWT_SECRET", flags[jwtSecret])
	flags[tokenTTL] = envOrDef("TOKEN_TTL", flags[tokenTTL])
	flags[sqliteDSN] = envOrDef("SQLITE_DSN", flags[sqliteDSN])
	flags[policiesFile] = envOrDef("POLICIES_FILE", flags[policiesFile])
	flags[configurationFile] = envOrDef("CONFIG_FILE", flags[configurationFile])
	flags[devicesFile] = envOrDef("DEVICES_FILE", flags[devicesFile])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("devices", "list of known devices to seed", apply(devicesFile))
	flag.Func("config", "service configuration file", apply(configurationFile))
	flag.Func("port", "the port to listen on", apply(servicePort))
	flag.Parse()

	return flags
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Fatal().Err(err).Msg(msg)
	}
}

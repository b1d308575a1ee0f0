package application

import (
	"context"
	"io"

	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/accounts"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/events"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/tokens"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/watchdog"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
	"gorm.io/gorm"
)

//go:generate moq -rm -out application_mock.go . App

type App interface {
	Accounts() accounts.Accounts
	DeviceManagement() devicemanagement.DeviceManagement

	SeedDevices(ctx context.Context, data io.Reader) error
	Watchdog() watchdog.Watchdog
}

type app struct {
	accounts   accounts.Accounts
	devices    devicemanagement.DeviceManagement
	deviceRepo devices.DeviceRepository
	userRepo   users.UserRepository
	watchdog   watchdog.Watchdog
}

// New migrates the stores on db and wires the services. Telemetry sinks get a
// cloudevents notifier in front when cfg lists telemetry subscribers.
func New(db *gorm.DB, cfg *Config, tokenService tokens.Service, messenger devicemanagement.EventPublisher, sinks ...devicemanagement.TelemetrySink) (App, error) {
	userRepo, err := users.NewUserRepository(db)
	if err != nil {
		return nil, err
	}

	deviceRepo, err := devices.NewDeviceRepository(db, cfg.MaxSamplesPerDevice())
	if err != nil {
		return nil, err
	}

	notifier, err := events.New(cfg.NotificationConfig())
	if err != nil {
		return nil, err
	}

	a := &app{
		deviceRepo: deviceRepo,
		userRepo:   userRepo,
		accounts:   accounts.New(userRepo, tokenService),
	}

	a.devices = devicemanagement.New(deviceRepo, a.accounts, messenger, append([]devicemanagement.TelemetrySink{notifier}, sinks...)...)

	if cfg != nil && cfg.Watchdog.Enabled && messenger != nil {
		a.watchdog = watchdog.New(deviceRepo, messenger, cfg.Watchdog.Interval, cfg.Watchdog.Threshold)
	}

	return a, nil
}

func (a *app) Accounts() accounts.Accounts {
	return a.accounts
}

func (a *app) DeviceManagement() devicemanagement.DeviceManagement {
	return a.devices
}

func (a *app) SeedDevices(ctx context.Context, data io.Reader) error {
	return devicemanagement.SeedDevices(ctx, a.deviceRepo, a.userRepo, data)
}

// Watchdog returns nil unless enabled in the configuration.
func (a *app) Watchdog() watchdog.Watchdog {
	return a.watchdog
}

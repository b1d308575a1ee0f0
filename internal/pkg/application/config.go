package application

import (
	"io"
	"time"

	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/events"
	yaml "gopkg.in/yaml.v2"
)

const DefaultMaxSamplesPerDevice = 10000

type TelemetryConfig struct {
	MaxSamplesPerDevice *int `yaml:"maxSamplesPerDevice"`
}

type WatchdogConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

type Config struct {
	Telemetry     TelemetryConfig       `yaml:"telemetry"`
	Watchdog      WatchdogConfig        `yaml:"watchdog"`
	Notifications []events.Notification `yaml:"notifications"`
}

// MaxSamplesPerDevice returns the retention cap, where zero means unbounded.
func (c *Config) MaxSamplesPerDevice() int {
	if c == nil || c.Telemetry.MaxSamplesPerDevice == nil {
		return DefaultMaxSamplesPerDevice
	}
	return *c.Telemetry.MaxSamplesPerDevice
}

func (c *Config) NotificationConfig() *events.Config {
	if c == nil {
		return nil
	}
	return &events.Config{Notifications: c.Notifications}
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err == nil {
		return &cfg, nil
	} else {
		return nil, err
	}
}

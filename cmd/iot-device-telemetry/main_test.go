package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/api/auth"
	"github.com/fieldsense/iot-device-telemetry/pkg/client"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestHealth(t *testing.T) {
	is, _, server := setupTest(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	is.NoErr(err)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestThatInitializeRequiresJWTSecret(t *testing.T) {
	is := is.New(t)
	ctx := logging.NewContextWithLogger(context.Background(), zerolog.Logger{})

	flags := defaultFlags()
	db, err := connectDatabase(ctx, flags)
	is.NoErr(err)

	_, _, err = initialize(ctx, flags, db, &application.Config{}, strings.NewReader(auth.DefaultPolicy), nil)
	is.True(err != nil)
}

func TestDeviceLifecycleThroughClient(t *testing.T) {
	is, _, server := setupTest(t)
	defer server.Close()

	ctx := context.Background()
	c := client.New(server.URL)

	token, err := c.Register(ctx, "Jo", "jo@example.com", "secret")
	is.NoErr(err)

	token, err = c.Login(ctx, "jo@example.com", "secret")
	is.NoErr(err)

	temperature := 21.5
	result, err := c.SubmitTelemetry(ctx, types.TelemetrySubmission{DeviceName: "greenhouse", Temperature: &temperature}, token)
	is.NoErr(err)
	is.Equal(result.Outcome, types.OutcomeCreated)
	is.Equal(len(result.APIKey), 32)

	result, err = c.SubmitTelemetry(ctx, types.TelemetrySubmission{APIKey: result.APIKey, Temperature: &temperature}, "")
	is.NoErr(err)
	is.Equal(result.Outcome, types.OutcomeAppended)

	device, err := c.GetDevice(ctx, "greenhouse")
	is.NoErr(err)
	is.Equal(len(device.DynamicData), 2)

	devices, err := c.ListDevices(ctx, token)
	is.NoErr(err)
	is.Equal(len(devices), 1)

	is.NoErr(c.DeleteDevice(ctx, device.ID, token))

	_, err = c.GetDevice(ctx, "greenhouse")
	is.True(errors.Is(err, client.ErrNotFound))
}

func TestSeedDevicesFromFile(t *testing.T) {
	is, app, server := setupTest(t)
	defer server.Close()

	ctx := context.Background()
	c := client.New(server.URL)

	_, err := c.Register(ctx, "Jo", "jo@example.com", "secret")
	is.NoErr(err)

	path := filepath.Join(t.TempDir(), "devices.csv")
	is.NoErr(os.WriteFile(path, []byte(devicesCSV), 0o600))

	is.NoErr(seedDevices(ctx, app, path))

	device, err := c.GetDevice(ctx, "field-7")
	is.NoErr(err)
	is.Equal(device.CropType, "wheat")
}

func setupTest(t *testing.T) (*is.I, application.App, *httptest.Server) {
	is := is.New(t)
	ctx := logging.NewContextWithLogger(context.Background(), zerolog.Logger{})

	flags := defaultFlags()
	flags[jwtSecret] = "test-secret"

	db, err := connectDatabase(ctx, flags)
	is.NoErr(err)

	policies, err := openPolicies("")
	is.NoErr(err)

	app, r, err := initialize(ctx, flags, db, &application.Config{}, policies, nil)
	is.NoErr(err)

	return is, app, httptest.NewServer(r)
}

const devicesCSV string = `deviceName;deviceCode;deviceNumber;location;cropType;apiKey;ownerEmail
field-7;F7;7;north field;wheat;0123456789abcdef0123456789abcdef;jo@example.com`

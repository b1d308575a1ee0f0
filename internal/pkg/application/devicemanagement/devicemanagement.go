package devicemanagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-device-telemetry/devicemanagement")

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrUnauthorized = fmt.Errorf("unauthorized")

//go:generate moq -rm -out devicemanagement_mock.go . DeviceManagement

type DeviceManagement interface {
	Submit(ctx context.Context, submission types.TelemetrySubmission, accessToken string) (types.SubmissionResult, error)

	GetDevicesForOwner(ctx context.Context, userID string) ([]types.Device, error)
	GetDeviceByName(ctx context.Context, deviceName string) (types.Device, error)
	DeleteDevice(ctx context.Context, deviceID, userID string) error
}

// Authenticator resolves a bearer token to the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (users.User, error)
}

// EventPublisher is the part of messaging.MsgContext used for domain events.
type EventPublisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

// TelemetrySink observes every sample after it has been stored.
type TelemetrySink interface {
	Observe(ctx context.Context, device types.Device, sample types.Sample) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOnTopic(context.Context, messaging.TopicMessage) error {
	return nil
}

type service struct {
	devices   devices.DeviceRepository
	authn     Authenticator
	messenger EventPublisher
	sinks     []TelemetrySink
	now       func() time.Time
}

// New wires a DeviceManagement service. A nil messenger disables domain events.
func New(deviceRepo devices.DeviceRepository, authn Authenticator, messenger EventPublisher, sinks ...TelemetrySink) DeviceManagement {
	if messenger == nil {
		messenger = noopPublisher{}
	}

	return &service{
		devices:   deviceRepo,
		authn:     authn,
		messenger: messenger,
		sinks:     sinks,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) GetDevicesForOwner(ctx context.Context, userID string) ([]types.Device, error) {
	var err error

	ctx, span := tracer.Start(ctx, "get-devices-for-owner")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	owned, err := s.devices.FindByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	return toDevices(owned), nil
}

func (s *service) GetDeviceByName(ctx context.Context, deviceName string) (types.Device, error) {
	var err error

	ctx, span := tracer.Start(ctx, "get-device-by-name")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	device, err := s.devices.FindByName(ctx, deviceName)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			err = nil
			return types.Device{}, ErrDeviceNotFound
		}
		return types.Device{}, err
	}

	return toDevice(device), nil
}

func (s *service) DeleteDevice(ctx context.Context, deviceID, userID string) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	deleted, err := s.devices.DeleteByIDForOwner(ctx, deviceID, userID)
	if err != nil {
		return err
	}

	if !deleted {
		return ErrDeviceNotFound
	}

	s.publish(ctx, &types.DeviceDeleted{
		DeviceID:  deviceID,
		UserID:    userID,
		Timestamp: s.now(),
	})

	return nil
}

func (s *service) publish(ctx context.Context, message messaging.TopicMessage) {
	err := s.messenger.PublishOnTopic(ctx, message)
	if err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Msgf("failed to publish %s", message.TopicName())
	}
}

func (s *service) notify(ctx context.Context, device types.Device, sample types.Sample) {
	log := logging.GetFromContext(ctx)

	for _, sink := range s.sinks {
		if err := sink.Observe(ctx, device, sample); err != nil {
			log.Error().Err(err).Str("deviceID", device.ID).Msg("telemetry sink failed")
		}
	}

	s.publish(ctx, &types.TelemetryReceived{
		DeviceID:   device.ID,
		DeviceName: device.DeviceName,
		Sample:     sample,
		Timestamp:  s.now(),
	})
}

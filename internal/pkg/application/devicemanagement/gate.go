package devicemanagement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/accounts"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/google/uuid"
)

const apiKeyBytes = 16

var ErrMissingDeviceName = fmt.Errorf("deviceName is required to create a device")

type gateDecision int

const (
	appendToDevice gateDecision = iota
	provisionDevice
)

func (d gateDecision) String() string {
	if d == appendToDevice {
		return "append"
	}
	return "provision"
}

// decide is the single place where a submission is routed. A known apiKey is
// sufficient authority to append; anything else must provision a new device.
func (s *service) decide(ctx context.Context, apiKey string) (gateDecision, devices.Device, error) {
	device, err := s.devices.FindByAPIKey(ctx, apiKey)
	if err == nil {
		return appendToDevice, device, nil
	}

	if errors.Is(err, devices.ErrDeviceNotFound) {
		return provisionDevice, devices.Device{}, nil
	}

	return provisionDevice, devices.Device{}, fmt.Errorf("apiKey lookup failed: %w", err)
}

func (s *service) Submit(ctx context.Context, submission types.TelemetrySubmission, accessToken string) (types.SubmissionResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "submit-telemetry")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	decision, device, err := s.decide(ctx, submission.APIKey)
	if err != nil {
		return types.SubmissionResult{}, err
	}

	log := logging.GetFromContext(ctx).With().Str("decision", decision.String()).Logger()
	ctx = logging.NewContextWithLogger(ctx, log)

	now := s.now()

	var result types.SubmissionResult

	switch decision {
	case appendToDevice:
		result, err = s.appendTo(ctx, device, sampleFromSubmission(submission, now, device.LastConnected), now)
	case provisionDevice:
		result, err = s.provision(ctx, submission, sampleFromSubmission(submission, now, time.Time{}), now, accessToken)
	}

	return result, err
}

func (s *service) appendTo(ctx context.Context, device devices.Device, sample types.Sample, now time.Time) (types.SubmissionResult, error) {
	err := s.devices.AppendSample(ctx, device.ID, toSampleModel(sample), now)
	if err != nil {
		return types.SubmissionResult{}, err
	}

	device.LastConnected = now

	s.notify(ctx, toDevice(device), sample)

	return types.SubmissionResult{
		Outcome:  types.OutcomeAppended,
		DeviceID: device.ID,
	}, nil
}

func (s *service) provision(ctx context.Context, submission types.TelemetrySubmission, sample types.Sample, now time.Time, accessToken string) (types.SubmissionResult, error) {
	if accessToken == "" {
		return types.SubmissionResult{}, ErrUnauthorized
	}

	user, err := s.authn.Authenticate(ctx, accessToken)
	if err != nil {
		if errors.Is(err, accounts.ErrUnauthorized) {
			return types.SubmissionResult{}, fmt.Errorf("%w: %s", ErrUnauthorized, err.Error())
		}
		return types.SubmissionResult{}, fmt.Errorf("failed to authenticate access token: %w", err)
	}

	if submission.DeviceName == "" {
		return types.SubmissionResult{}, ErrMissingDeviceName
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return types.SubmissionResult{}, err
	}

	model := devices.Device{
		ID:            uuid.NewString(),
		DeviceName:    submission.DeviceName,
		DeviceCode:    submission.DeviceCode,
		DeviceNumber:  submission.DeviceNumber,
		Location:      submission.Location,
		CropType:      submission.CropType,
		APIKey:        apiKey,
		LastConnected: now,
		UserID:        user.ID,
		Samples:       []devices.Sample{toSampleModel(sample)},
	}

	created, err := s.devices.Create(ctx, model)
	if err != nil {
		return types.SubmissionResult{}, err
	}

	log := logging.GetFromContext(ctx)
	log.Info().Str("deviceID", created.ID).Str("userId", user.ID).Msg("provisioned new device")

	device := toDevice(created)

	s.publish(ctx, &types.DeviceCreated{
		DeviceID:   device.ID,
		DeviceName: device.DeviceName,
		UserID:     device.UserID,
		Timestamp:  now,
	})

	s.notify(ctx, device, sample)

	return types.SubmissionResult{
		Outcome:  types.OutcomeCreated,
		DeviceID: device.ID,
		APIKey:   apiKey,
	}, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate apiKey: %w", err)
	}
	return hex.EncodeToString(b), nil
}

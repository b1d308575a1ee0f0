package devicemanagement

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// TelemetrySubmittedTopic carries submissions from gateways that forward readings over AMQP.
const TelemetrySubmittedTopic = "telemetry.submitted"

// NewTelemetrySubmittedHandler feeds AMQP submissions into the gate. Messages carry no
// user credentials so they can only append to devices identified by apiKey.
func NewTelemetrySubmittedHandler(dm DeviceManagement) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		submission := types.TelemetrySubmission{}

		err := json.Unmarshal(msg.Body, &submission)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		if submission.APIKey == "" {
			logger.Warn().Msg("ignoring submission without apiKey")
			return
		}

		ctx = logging.NewContextWithLogger(ctx, logger)

		result, err := dm.Submit(ctx, submission, "")
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				logger.Warn().Msg("ignoring submission with unknown apiKey")
				return
			}
			logger.Error().Err(err).Msg("failed to store submission")
			return
		}

		logger.Debug().Str("deviceID", result.DeviceID).Msgf("%s handled", msg.RoutingKey)
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/rs/zerolog"
)

const (
	DefaultTopic = "sensorhub/telemetry"

	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000
	maxReconnectInterval     = 2 * time.Minute
)

var ErrDisabled = errors.New("mqtt: no broker configured")
var ErrConnectionFailed = errors.New("mqtt: connection failed")
var ErrMissingAPIKey = errors.New("submission has no apiKey")

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	QoS       byte
}

func LoadConfigFromEnv(ctx context.Context) Config {
	log := logging.GetFromContext(ctx)

	return Config{
		BrokerURL: env.GetVariableOrDefault(log, "MQTT_BROKER_URL", ""),
		ClientID:  env.GetVariableOrDefault(log, "MQTT_CLIENT_ID", "iot-device-telemetry"),
		Username:  env.GetVariableOrDefault(log, "MQTT_USER", ""),
		Password:  env.GetVariableOrDefault(log, "MQTT_PASSWORD", ""),
		Topic:     env.GetVariableOrDefault(log, "MQTT_TOPIC", DefaultTopic),
		QoS:       1,
	}
}

// MessageHandler processes the payload of a single message.
type MessageHandler func(topic string, payload []byte) error

// NewSubmissionHandler feeds MQTT payloads into the gate. MQTT carries no user
// credentials, so messages can only append to devices identified by apiKey.
func NewSubmissionHandler(ctx context.Context, dm devicemanagement.DeviceManagement) MessageHandler {
	return func(topic string, payload []byte) error {
		submission := types.TelemetrySubmission{}

		err := json.Unmarshal(payload, &submission)
		if err != nil {
			return fmt.Errorf("failed to unmarshal message from %s: %w", topic, err)
		}

		if submission.APIKey == "" {
			return ErrMissingAPIKey
		}

		_, err = dm.Submit(ctx, submission, "")
		return err
	}
}

type Bridge struct {
	client pahomqtt.Client
}

func Start(ctx context.Context, cfg Config, handler MessageHandler) (*Bridge, error) {
	if cfg.BrokerURL == "" {
		return nil, ErrDisabled
	}

	log := logging.GetFromContext(ctx).With().Str("broker", cfg.BrokerURL).Logger()

	opts := buildClientOptions(cfg)

	// subscribing from the connect handler restores the subscription after a reconnect
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		token := c.Subscribe(cfg.Topic, cfg.QoS, wrapHandler(log, handler))
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", cfg.Topic).Msg("failed to subscribe")
			return
		}
		log.Info().Str("topic", cfg.Topic).Msg("subscribed to telemetry topic")
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection to broker lost")
	})

	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, err.Error())
	}

	return &Bridge{client: client}, nil
}

func (b *Bridge) Close() {
	if b == nil || b.client == nil {
		return
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}

func wrapHandler(log zerolog.Logger, handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		err := handler(msg.Topic(), msg.Payload())
		if err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("failed to handle message")
		}
	}
}

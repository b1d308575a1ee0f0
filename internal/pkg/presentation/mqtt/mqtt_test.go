package mqtt

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestThatSubmissionsAreAppendedWithoutCredentials(t *testing.T) {
	is := is.New(t)

	dm := &fakeDeviceManagement{}
	handler := NewSubmissionHandler(context.Background(), dm)

	err := handler(DefaultTopic, []byte(`{"apiKey":"0123456789abcdef","temperature":3.5}`))
	is.NoErr(err)

	is.Equal(len(dm.submissions), 1)
	is.Equal(dm.submissions[0].APIKey, "0123456789abcdef")
	is.Equal(*dm.submissions[0].Temperature, 3.5)
	is.Equal(dm.tokens[0], "")
}

func TestThatInvalidPayloadsAreRejected(t *testing.T) {
	is := is.New(t)

	dm := &fakeDeviceManagement{}
	handler := NewSubmissionHandler(context.Background(), dm)

	is.True(handler(DefaultTopic, []byte(`{not json`)) != nil)
	is.Equal(handler(DefaultTopic, []byte(`{"deviceName":"new"}`)), ErrMissingAPIKey)
	is.Equal(len(dm.submissions), 0)
}

func TestThatUnknownAPIKeyErrorIsReturned(t *testing.T) {
	is := is.New(t)

	dm := &fakeDeviceManagement{err: devicemanagement.ErrUnauthorized}
	handler := NewSubmissionHandler(context.Background(), dm)

	err := handler(DefaultTopic, []byte(`{"apiKey":"unknown"}`))
	is.True(errors.Is(err, devicemanagement.ErrUnauthorized))
}

func TestThatWrappedHandlerLogsErrors(t *testing.T) {
	is := is.New(t)

	buf := &bytes.Buffer{}
	wrapped := wrapHandler(zerolog.New(buf), func(topic string, payload []byte) error {
		return errors.New("boom")
	})

	wrapped(nil, &fakeMessage{topic: DefaultTopic, payload: []byte("{}")})

	is.True(bytes.Contains(buf.Bytes(), []byte("boom")))
}

func TestClientOptions(t *testing.T) {
	is := is.New(t)

	opts := buildClientOptions(Config{
		BrokerURL: "tcp://broker:1883",
		ClientID:  "sensorhub",
		Username:  "user",
		Password:  "secret",
	})

	is.Equal(len(opts.Servers), 1)
	is.Equal(opts.Servers[0].Host, "broker:1883")
	is.Equal(opts.ClientID, "sensorhub")
	is.Equal(opts.Username, "user")
	is.True(opts.AutoReconnect)
}

func TestThatEmptyBrokerDisablesBridge(t *testing.T) {
	is := is.New(t)

	_, err := Start(context.Background(), Config{}, nil)
	is.Equal(err, ErrDisabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	is := is.New(t)

	t.Setenv("MQTT_TOPIC", "")
	t.Setenv("MQTT_CLIENT_ID", "")

	cfg := LoadConfigFromEnv(context.Background())
	is.Equal(cfg.Topic, DefaultTopic)
	is.Equal(cfg.ClientID, "iot-device-telemetry")
}

type fakeDeviceManagement struct {
	devicemanagement.DeviceManagement
	submissions []types.TelemetrySubmission
	tokens      []string
	err         error
}

func (f *fakeDeviceManagement) Submit(ctx context.Context, submission types.TelemetrySubmission, accessToken string) (types.SubmissionResult, error) {
	if f.err != nil {
		return types.SubmissionResult{}, f.err
	}
	f.submissions = append(f.submissions, submission)
	f.tokens = append(f.tokens, accessToken)
	return types.SubmissionResult{Outcome: types.OutcomeAppended}, nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

package influxdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const (
	Measurement = "telemetry"

	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 1000
)

var ErrDisabled = errors.New("influxdb: no url configured")
var ErrConnectionFailed = errors.New("influxdb: connection failed")

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func LoadConfigFromEnv(ctx context.Context) Config {
	log := logging.GetFromContext(ctx)

	return Config{
		URL:    env.GetVariableOrDefault(log, "INFLUX_URL", ""),
		Token:  env.GetVariableOrDefault(log, "INFLUX_TOKEN", ""),
		Org:    env.GetVariableOrDefault(log, "INFLUX_ORG", ""),
		Bucket: env.GetVariableOrDefault(log, "INFLUX_BUCKET", ""),
	}
}

// Mirror copies every stored sample into an InfluxDB bucket. Writes are batched
// and non-blocking so a slow or absent server never delays ingestion.
type Mirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func Connect(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(defaultFlushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, err.Error())
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	m := &Mirror{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}

	go logWriteErrors(logging.GetFromContext(ctx), m.writeAPI.Errors())

	return m, nil
}

func logWriteErrors(log zerolog.Logger, errs <-chan error) {
	for err := range errs {
		log.Error().Err(err).Msg("influxdb write failed")
	}
}

func (m *Mirror) Observe(ctx context.Context, device types.Device, sample types.Sample) error {
	fields := map[string]any{}

	if sample.Temperature != nil {
		fields["temperature"] = *sample.Temperature
	}
	if sample.Humidity != nil {
		fields["humidity"] = *sample.Humidity
	}
	if sample.SoilMoisture != nil {
		fields["soilMoisture"] = *sample.SoilMoisture
	}
	if sample.PowerState != nil {
		fields["powerState"] = *sample.PowerState
	}

	// a point without fields is rejected by the server
	if len(fields) == 0 {
		return nil
	}

	point := write.NewPoint(
		Measurement,
		map[string]string{
			"device_id":   device.ID,
			"device_name": device.DeviceName,
		},
		fields,
		sample.Timestamp,
	)

	m.writeAPI.WritePoint(point)

	return nil
}

// Close flushes pending points and releases the client.
func (m *Mirror) Close() {
	m.writeAPI.Flush()
	m.client.Close()
}

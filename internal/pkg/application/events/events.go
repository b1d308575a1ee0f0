package events

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"golang.org/x/sys/unix"
)

const TelemetryEventType = "sensorhub.telemetry"

// DefaultSendTimeout bounds each delivery so that a stalled subscriber cannot hold up ingestion.
const DefaultSendTimeout = 5 * time.Second

type EventSender interface {
	Observe(ctx context.Context, device types.Device, sample types.Sample) error
}

type subscriber struct {
	endpoint string
	patterns []*regexp.Regexp
}

func (s subscriber) wants(deviceName string) bool {
	if len(s.patterns) == 0 {
		return true
	}

	for _, p := range s.patterns {
		if p.MatchString(deviceName) {
			return true
		}
	}

	return false
}

type eventSender struct {
	subscribers []subscriber
	client      cloudevents.Client
	timeout     time.Duration
}

func New(cfg *Config) (EventSender, error) {
	e := &eventSender{timeout: DefaultSendTimeout}

	if cfg != nil {
		for _, n := range cfg.Notifications {
			if n.Type != TelemetryEventType {
				continue
			}

			for _, s := range n.Subscribers {
				sub, err := newSubscriber(s)
				if err != nil {
					return nil, fmt.Errorf("notification %s: %w", n.ID, err)
				}
				e.subscribers = append(e.subscribers, sub)
			}
		}
	}

	if len(e.subscribers) > 0 {
		c, err := cloudevents.NewClientHTTP()
		if err != nil {
			return nil, err
		}
		e.client = c
	}

	return e, nil
}

func newSubscriber(cfg SubscriberConfig) (subscriber, error) {
	s := subscriber{endpoint: cfg.Endpoint}

	for _, info := range cfg.Information {
		for _, entity := range info.Entities {
			if entity.IDPattern == "" {
				continue
			}
			p, err := regexp.Compile(entity.IDPattern)
			if err != nil {
				return subscriber{}, fmt.Errorf("invalid idPattern %s: %w", entity.IDPattern, err)
			}
			s.patterns = append(s.patterns, p)
		}
	}

	return s, nil
}

func (e *eventSender) Observe(ctx context.Context, device types.Device, sample types.Sample) error {
	if len(e.subscribers) == 0 {
		return nil
	}

	event := cloudevents.NewEvent()
	event.SetID(fmt.Sprintf("%s:%d", device.ID, sample.Timestamp.UnixNano()))
	event.SetTime(sample.Timestamp)
	event.SetSource("github.com/fieldsense/iot-device-telemetry")
	event.SetType(TelemetryEventType)

	eventData := struct {
		DeviceID   string       `json:"deviceID"`
		DeviceName string       `json:"deviceName"`
		Location   string       `json:"location,omitempty"`
		CropType   string       `json:"cropType,omitempty"`
		Sample     types.Sample `json:"sample"`
	}{
		DeviceID:   device.ID,
		DeviceName: device.DeviceName,
		Location:   device.Location,
		CropType:   device.CropType,
		Sample:     sample,
	}

	err := event.SetData(cloudevents.ApplicationJSON, eventData)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	for _, s := range e.subscribers {
		if !s.wants(device.DeviceName) {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
		result := e.client.Send(cloudevents.ContextWithTarget(sendCtx, s.endpoint), event)
		cancel()

		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.endpoint)
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}

package watchdog

import (
	"context"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/watchdog/events"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
)

const DefaultInterval = 5 * time.Minute

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Watchdog interface {
	Start(ctx context.Context)
	Stop()
}

type watchdogImpl struct {
	watcher  *lastConnectedWatcher
	interval time.Duration
	done     chan struct{}
}

// New returns a watchdog that reports devices that have been silent for longer than threshold.
func New(deviceRepo devices.DeviceRepository, publisher Publisher, interval, threshold time.Duration) Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if threshold <= 0 {
		threshold = interval
	}

	return &watchdogImpl{
		watcher: &lastConnectedWatcher{
			devices:   deviceRepo,
			publisher: publisher,
			threshold: threshold,
			reported:  map[string]time.Time{},
			now:       func() time.Time { return time.Now().UTC() },
		},
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (w *watchdogImpl) Start(ctx context.Context) {
	go w.run(ctx, w.interval)
}

func (w *watchdogImpl) Stop() {
	close(w.done)
}

func (w *watchdogImpl) run(ctx context.Context, interval time.Duration) {
	log := logging.GetFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			log.Debug().Msg("watchdog stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.watcher.check(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to check for silent devices")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("reported silent devices")
			}
		}
	}
}

type lastConnectedWatcher struct {
	devices   devices.DeviceRepository
	publisher Publisher
	threshold time.Duration
	reported  map[string]time.Time
	now       func() time.Time
}

// check publishes one DeviceNotConnected per device and silent period. A device that
// connects again is reported anew the next time it goes silent.
func (w *lastConnectedWatcher) check(ctx context.Context) (int, error) {
	now := w.now()

	stale, err := w.devices.FindNotConnectedSince(ctx, now.Add(-w.threshold))
	if err != nil {
		return 0, err
	}

	stillStale := make(map[string]time.Time, len(stale))
	count := 0

	for _, d := range stale {
		stillStale[d.ID] = d.LastConnected

		if last, ok := w.reported[d.ID]; ok && last.Equal(d.LastConnected) {
			continue
		}

		err = w.publisher.PublishOnTopic(ctx, &events.DeviceNotConnected{
			DeviceID:      d.ID,
			DeviceName:    d.DeviceName,
			UserID:        d.UserID,
			LastConnected: d.LastConnected.UTC(),
			Timestamp:     now,
		})
		if err != nil {
			return count, err
		}

		count++
	}

	w.reported = stillStale

	return count, nil
}

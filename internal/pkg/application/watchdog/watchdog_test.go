package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/watchdog/events"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

var mu sync.Mutex

func TestThatSilentDevicesAreReportedOnce(t *testing.T) {
	is, ctx, repo := testSetup(t)

	now := time.Now().UTC()
	quiet := createDevice(t, repo, "quiet", now.Add(-2*time.Hour))
	createDevice(t, repo, "chatty", now)

	pub := []string{}
	m := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			mu.Lock()
			defer mu.Unlock()
			pub = append(pub, message.(*events.DeviceNotConnected).DeviceID)
			return nil
		},
	}

	w := &lastConnectedWatcher{
		devices:   repo,
		publisher: m,
		threshold: time.Hour,
		reported:  map[string]time.Time{},
		now:       func() time.Time { return now },
	}

	n, err := w.check(ctx)
	is.NoErr(err)
	is.Equal(n, 1)
	is.Equal(pub, []string{quiet.ID})

	n, err = w.check(ctx)
	is.NoErr(err)
	is.Equal(n, 0)

	// the device reports in and then goes silent again
	is.NoErr(repo.AppendSample(ctx, quiet.ID, devices.Sample{Timestamp: now.Add(-90 * time.Minute)}, now.Add(-90*time.Minute)))

	n, err = w.check(ctx)
	is.NoErr(err)
	is.Equal(n, 1)
	is.Equal(len(pub), 2)
}

func TestStartAndStop(t *testing.T) {
	is, ctx, repo := testSetup(t)

	w := New(repo, &messaging.MsgContextMock{}, time.Minute, time.Hour)
	w.Start(ctx)
	w.Stop()

	is.True(w != nil)
}

func testSetup(t *testing.T) (*is.I, context.Context, devices.DeviceRepository) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.NewSQLiteConnector(ctx, "")()
	is.NoErr(err)

	repo, err := devices.NewDeviceRepository(db, 0)
	is.NoErr(err)

	return is, ctx, repo
}

func createDevice(t *testing.T, repo devices.DeviceRepository, name string, lastConnected time.Time) devices.Device {
	d, err := repo.Create(context.Background(), devices.Device{
		ID:            uuid.NewString(),
		DeviceName:    name,
		APIKey:        uuid.NewString(),
		UserID:        "user-1",
		LastConnected: lastConnected,
	})
	if err != nil {
		t.Fatalf("failed to create device: %s", err.Error())
	}
	return d
}

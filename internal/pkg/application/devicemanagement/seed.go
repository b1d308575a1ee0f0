package devicemanagement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
	"github.com/google/uuid"
)

const minSeedAPIKeyLength = 16

// SeedDevices provisions devices listed in a semicolon separated file with the header
// deviceName;deviceCode;deviceNumber;location;cropType;apiKey;ownerEmail
// Rows for devices that already exist, or whose owner is unknown, are skipped.
func SeedDevices(ctx context.Context, deviceRepo devices.DeviceRepository, userRepo users.UserRepository, data io.Reader) error {
	log := logging.GetFromContext(ctx)

	r := csv.NewReader(data)
	r.Comma = ';'

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	records, err := getRecordsFromRows(rows)
	if err != nil {
		return err
	}

	log.Info().Int("rows", len(rows)).Int("records", len(records)).Msg("loaded devices from file")

	for _, record := range records {
		owner, err := userRepo.FindByEmail(ctx, record.ownerEmail)
		if err != nil {
			if errors.Is(err, users.ErrUserNotFound) {
				log.Warn().Str("deviceName", record.deviceName).Msg("owner not registered, skipping device")
				continue
			}
			return err
		}

		_, err = deviceRepo.Create(ctx, record.mapToDevice(owner.ID))
		if err != nil {
			if errors.Is(err, devices.ErrDuplicateName) {
				log.Debug().Str("deviceName", record.deviceName).Msg("device already seeded")
				continue
			}
			return err
		}
	}

	return nil
}

type deviceRecord struct {
	deviceName   string
	deviceCode   string
	deviceNumber *int
	location     string
	cropType     string
	apiKey       string
	ownerEmail   string
}

func (dr deviceRecord) mapToDevice(ownerID string) devices.Device {
	return devices.Device{
		ID:            uuid.NewString(),
		DeviceName:    dr.deviceName,
		DeviceCode:    dr.deviceCode,
		DeviceNumber:  dr.deviceNumber,
		Location:      dr.location,
		CropType:      dr.cropType,
		APIKey:        dr.apiKey,
		LastConnected: time.Now().UTC(),
		UserID:        ownerID,
	}
}

func newDeviceRecord(r []string) (deviceRecord, error) {
	if len(r) < 7 {
		return deviceRecord{}, fmt.Errorf("expected 7 columns but found %d", len(r))
	}

	var number *int
	if s := strings.TrimSpace(r[2]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return deviceRecord{}, fmt.Errorf("deviceNumber %q is not an integer", s)
		}
		number = &n
	}

	dr := deviceRecord{
		deviceName:   strings.TrimSpace(r[0]),
		deviceCode:   strings.TrimSpace(r[1]),
		deviceNumber: number,
		location:     r[3],
		cropType:     r[4],
		apiKey:       strings.TrimSpace(r[5]),
		ownerEmail:   strings.TrimSpace(r[6]),
	}

	err := validateDeviceRecord(dr)
	if err != nil {
		return deviceRecord{}, err
	}

	return dr, nil
}

func validateDeviceRecord(r deviceRecord) error {
	if r.deviceName == "" {
		return fmt.Errorf("row contains no deviceName")
	}

	if len(r.apiKey) < minSeedAPIKeyLength {
		return fmt.Errorf("row with %s contains an apiKey shorter than %d characters", r.deviceName, minSeedAPIKeyLength)
	}

	if r.ownerEmail == "" {
		return fmt.Errorf("row with %s contains no ownerEmail", r.deviceName)
	}

	return nil
}

func getRecordsFromRows(rows [][]string) ([]deviceRecord, error) {
	records := []deviceRecord{}

	for i, row := range rows {
		if i == 0 {
			continue
		}

		r, err := newDeviceRecord(row)
		if err != nil {
			return nil, fmt.Errorf("invalid record on line %d: %w", i+1, err)
		}

		records = append(records, r)
	}

	return records, nil
}

package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

//go:generate moq -rm -out devicerepository_mock.go . DeviceRepository

type DeviceRepository interface {
	FindByAPIKey(ctx context.Context, apiKey string) (Device, error)
	FindByOwner(ctx context.Context, userID string) ([]Device, error)
	FindByName(ctx context.Context, deviceName string) (Device, error)
	FindNotConnectedSince(ctx context.Context, since time.Time) ([]Device, error)

	Create(ctx context.Context, device Device) (Device, error)
	AppendSample(ctx context.Context, deviceID string, sample Sample, connectedAt time.Time) error
	DeleteByIDForOwner(ctx context.Context, deviceID, userID string) (bool, error)
}

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrDuplicateName = fmt.Errorf("a device with that name already exists")

type deviceRepository struct {
	db                  *gorm.DB
	maxSamplesPerDevice int
}

// NewDeviceRepository migrates the device tables and returns a repository that keeps
// at most maxSamplesPerDevice samples per device. Zero or less keeps everything.
func NewDeviceRepository(db *gorm.DB, maxSamplesPerDevice int) (DeviceRepository, error) {
	err := db.AutoMigrate(&Device{}, &Sample{})
	if err != nil {
		return nil, err
	}

	return &deviceRepository{
		db:                  db,
		maxSamplesPerDevice: maxSamplesPerDevice,
	}, nil
}

func orderedSamples(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func (d *deviceRepository) FindByAPIKey(ctx context.Context, apiKey string) (Device, error) {
	if apiKey == "" {
		return Device{}, ErrDeviceNotFound
	}

	return d.first(ctx, "api_key = ?", apiKey, false)
}

func (d *deviceRepository) FindByName(ctx context.Context, deviceName string) (Device, error) {
	if deviceName == "" {
		return Device{}, ErrDeviceNotFound
	}

	return d.first(ctx, "device_name = ?", deviceName, true)
}

func (d *deviceRepository) first(ctx context.Context, query string, value string, withSamples bool) (Device, error) {
	var device = Device{}

	tx := d.db.WithContext(ctx)
	if withSamples {
		tx = tx.Preload("Samples", orderedSamples)
	}

	result := tx.Where(query, value).First(&device)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, result.Error
	}

	return device, nil
}

func (d *deviceRepository) FindByOwner(ctx context.Context, userID string) ([]Device, error) {
	devices := []Device{}

	if userID == "" {
		return devices, nil
	}

	result := d.db.WithContext(ctx).
		Preload("Samples", orderedSamples).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&devices)

	return devices, result.Error
}

// FindNotConnectedSince returns devices whose last connection is before since. Samples are not loaded.
func (d *deviceRepository) FindNotConnectedSince(ctx context.Context, since time.Time) ([]Device, error) {
	stale := []Device{}

	result := d.db.WithContext(ctx).
		Where("last_connected < ?", since).
		Order("last_connected").
		Find(&stale)

	return stale, result.Error
}

func (d *deviceRepository) Create(ctx context.Context, device Device) (Device, error) {
	exists, err := d.nameExists(ctx, device.DeviceName)
	if err != nil {
		return Device{}, err
	}
	if exists {
		return Device{}, ErrDuplicateName
	}

	err = d.db.WithContext(ctx).Create(&device).Error
	if err != nil {
		// the unique index catches a concurrent create with the same name
		if exists, _ := d.nameExists(ctx, device.DeviceName); exists {
			return Device{}, ErrDuplicateName
		}
		return Device{}, err
	}

	return device, nil
}

func (d *deviceRepository) nameExists(ctx context.Context, deviceName string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&Device{}).Where("device_name = ?", deviceName).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for device name: %w", err)
	}
	return count > 0, nil
}

// AppendSample stores the sample and marks the device as connected at connectedAt.
func (d *deviceRepository) AppendSample(ctx context.Context, deviceID string, sample Sample, connectedAt time.Time) error {
	sample.ID = 0
	sample.DeviceID = deviceID

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Device{}).Where("id = ?", deviceID).Update("last_connected", connectedAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDeviceNotFound
		}

		err := tx.Create(&sample).Error
		if err != nil {
			return err
		}

		if d.maxSamplesPerDevice > 0 {
			err = tx.Exec(
				"DELETE FROM device_telemetry WHERE device_id = ? AND id NOT IN (SELECT id FROM device_telemetry WHERE device_id = ? ORDER BY id DESC LIMIT ?)",
				deviceID, deviceID, d.maxSamplesPerDevice,
			).Error
		}

		return err
	})
}

func (d *deviceRepository) DeleteByIDForOwner(ctx context.Context, deviceID, userID string) (bool, error) {
	deleted := false

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Device{}).Where("id = ? AND user_id = ?", deviceID, userID).Count(&count).Error
		if err != nil || count == 0 {
			return err
		}

		err = tx.Where("device_id = ?", deviceID).Delete(&Sample{}).Error
		if err != nil {
			return err
		}

		result := tx.Where("id = ? AND user_id = ?", deviceID, userID).Delete(&Device{})
		deleted = result.RowsAffected > 0
		return result.Error
	})

	return deleted, err
}

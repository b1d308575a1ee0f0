package devicemanagement

import (
	"time"

	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/samber/lo"
)

func toDevices(models []devices.Device) []types.Device {
	return lo.Map(models, func(d devices.Device, _ int) types.Device {
		return toDevice(d)
	})
}

func toDevice(d devices.Device) types.Device {
	return types.Device{
		ID:            d.ID,
		DeviceName:    d.DeviceName,
		DeviceCode:    d.DeviceCode,
		DeviceNumber:  d.DeviceNumber,
		Location:      d.Location,
		CropType:      d.CropType,
		LastConnected: d.LastConnected.UTC(),
		DynamicData:   toSamples(d.Samples),
		UserID:        d.UserID,
	}
}

func toSamples(models []devices.Sample) []types.Sample {
	return lo.Map(models, func(s devices.Sample, _ int) types.Sample {
		return types.Sample{
			Timestamp:    s.Timestamp.UTC(),
			Temperature:  s.Temperature,
			Humidity:     s.Humidity,
			SoilMoisture: s.SoilMoisture,
			PowerState:   s.PowerState,
		}
	})
}

func toSampleModel(s types.Sample) devices.Sample {
	return devices.Sample{
		Timestamp:    s.Timestamp,
		Temperature:  s.Temperature,
		Humidity:     s.Humidity,
		SoilMoisture: s.SoilMoisture,
		PowerState:   s.PowerState,
	}
}

// sampleFromSubmission stamps the sample with the supplied timestamp only when it lies
// between notBefore and now. Anything else is stamped with the ingestion time.
func sampleFromSubmission(sub types.TelemetrySubmission, now, notBefore time.Time) types.Sample {
	ts := now
	if sub.Timestamp != nil && !sub.Timestamp.IsZero() {
		supplied := sub.Timestamp.UTC()
		if !supplied.After(now) && !supplied.Before(notBefore) {
			ts = supplied
		}
	}

	return types.Sample{
		Timestamp:    ts,
		Temperature:  sub.Temperature,
		Humidity:     sub.Humidity,
		SoilMoisture: sub.SoilMoisture,
		PowerState:   sub.PowerState,
	}
}

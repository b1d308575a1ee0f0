package devices

import "time"

type Device struct {
	ID            string `gorm:"primaryKey"`
	CreatedAt     time.Time
	DeviceName    string `gorm:"uniqueIndex;not null"`
	DeviceCode    string
	DeviceNumber  *int
	Location      string
	CropType      string
	APIKey        string `gorm:"column:api_key;uniqueIndex;not null"`
	LastConnected time.Time
	UserID        string   `gorm:"index;not null"`
	Samples       []Sample `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE"`
}

func (Device) TableName() string {
	return "user_device_data"
}

type Sample struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	DeviceID     string `gorm:"index;not null"`
	Timestamp    time.Time
	Temperature  *float64
	Humidity     *float64
	SoilMoisture *float64
	PowerState   *bool
}

func (Sample) TableName() string {
	return "device_telemetry"
}

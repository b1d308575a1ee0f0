package types

import (
	"time"
)

type Device struct {
	ID            string    `json:"id"`
	DeviceName    string    `json:"deviceName"`
	DeviceCode    string    `json:"deviceCode,omitempty"`
	DeviceNumber  *int      `json:"deviceNumber,omitempty"`
	Location      string    `json:"location,omitempty"`
	CropType      string    `json:"cropType,omitempty"`
	LastConnected time.Time `json:"lastConnected"`
	DynamicData   []Sample  `json:"dynamicData"`
	UserID        string    `json:"userId"`
}

type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	Temperature  *float64  `json:"temperature,omitempty"`
	Humidity     *float64  `json:"humidity,omitempty"`
	SoilMoisture *float64  `json:"soilMoisture,omitempty"`
	PowerState   *bool     `json:"powerState,omitempty"`
}

// TelemetrySubmission is the payload accepted by the ingestion endpoint. Devices
// that already have an apiKey send it with their readings. Without a known
// apiKey the descriptive fields are used to provision a new device.
type TelemetrySubmission struct {
	APIKey string `json:"apiKey,omitempty"`

	DeviceName   string `json:"deviceName,omitempty"`
	DeviceCode   string `json:"deviceCode,omitempty"`
	DeviceNumber *int   `json:"deviceNumber,omitempty"`
	Location     string `json:"location,omitempty"`
	CropType     string `json:"cropType,omitempty"`

	Temperature  *float64   `json:"temperature,omitempty"`
	Humidity     *float64   `json:"humidity,omitempty"`
	SoilMoisture *float64   `json:"soilMoisture,omitempty"`
	PowerState   *bool      `json:"powerState,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

type Outcome string

const (
	OutcomeAppended Outcome = "appended"
	OutcomeCreated  Outcome = "created"
)

type SubmissionResult struct {
	Outcome  Outcome
	DeviceID string
	APIKey   string
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

package types

import "time"

type DeviceCreated struct {
	DeviceID   string    `json:"deviceID"`
	DeviceName string    `json:"deviceName"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (d *DeviceCreated) ContentType() string {
	return "application/json"
}
func (d *DeviceCreated) TopicName() string {
	return "device.created"
}

type DeviceDeleted struct {
	DeviceID  string    `json:"deviceID"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *DeviceDeleted) ContentType() string {
	return "application/json"
}
func (d *DeviceDeleted) TopicName() string {
	return "device.deleted"
}

type TelemetryReceived struct {
	DeviceID   string    `json:"deviceID"`
	DeviceName string    `json:"deviceName"`
	Sample     Sample    `json:"sample"`
	Timestamp  time.Time `json:"timestamp"`
}

func (t *TelemetryReceived) ContentType() string {
	return "application/json"
}
func (t *TelemetryReceived) TopicName() string {
	return "device.telemetryReceived"
}

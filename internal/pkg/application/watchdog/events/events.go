package events

import "time"

type DeviceNotConnected struct {
	DeviceID      string    `json:"deviceID"`
	DeviceName    string    `json:"deviceName"`
	UserID        string    `json:"userId"`
	LastConnected time.Time `json:"lastConnected"`
	Timestamp     time.Time `json:"timestamp"`
}

func (d *DeviceNotConnected) ContentType() string {
	return "application/json"
}
func (d *DeviceNotConnected) TopicName() string {
	return "watchdog.deviceNotConnected"
}

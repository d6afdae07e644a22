package models

import (
	"time"
)

// SensorType identifies the kind of kitchen sensor a reading came from
type SensorType string

const (
	SensorLPG           SensorType = "lpg"
	SensorCO            SensorType = "co"
	SensorTemperature   SensorType = "temperature"
	SensorChildDetected SensorType = "child_detected"
	SensorFlame         SensorType = "flame"
)

// Valid reports whether t is one of the known sensor types
func (t SensorType) Valid() bool {
	switch t {
	case SensorLPG, SensorCO, SensorTemperature, SensorChildDetected, SensorFlame:
		return true
	}
	return false
}

// IsPresence reports whether the sensor is boolean-like (>= 1 means detected)
func (t SensorType) IsPresence() bool {
	return t == SensorChildDetected || t == SensorFlame
}

// DefaultUnit returns the unit the ESP32 firmware reports for a sensor
func (t SensorType) DefaultUnit() string {
	switch t {
	case SensorLPG, SensorCO:
		return "ppm"
	case SensorTemperature:
		return "°C"
	default:
		return "bool"
	}
}

// SensorReading is one immutable observation stored per user and sensor type
type SensorReading struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"index:idx_reading_user_sensor,priority:1;not null" json:"user_id"`
	SensorType SensorType `gorm:"index:idx_reading_user_sensor,priority:2;not null" json:"sensor_type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	Source     string     `json:"source,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Status is the three-level classification of a reading against its threshold
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// Thresholds holds the per-user danger levels for the analog sensors
type Thresholds struct {
	LPG  float64 `json:"lpg"`
	CO   float64 `json:"co"`
	Temp float64 `json:"temp"`
}

// DefaultThresholds are used when a user has never saved settings
var DefaultThresholds = Thresholds{LPG: 50, CO: 35, Temp: 60}

// For returns the threshold that applies to an analog sensor
func (t Thresholds) For(sensor SensorType) (float64, bool) {
	switch sensor {
	case SensorLPG:
		return t.LPG, true
	case SensorCO:
		return t.CO, true
	case SensorTemperature:
		return t.Temp, true
	}
	return 0, false
}

// AbnormalReading is a latest reading at or above 80% of its danger threshold
type AbnormalReading struct {
	SensorType SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
}

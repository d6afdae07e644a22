package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks raised safety events
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Alert is one raised safety event in a user's log
type Alert struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	EventID     uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"event_id"`
	UserID      string     `gorm:"index:idx_alert_user_created,priority:1;not null" json:"user_id"`
	AlertType   string     `gorm:"not null" json:"alert_type"`
	Severity    Severity   `gorm:"not null" json:"severity"`
	SensorType  SensorType `json:"sensor_type"`
	SensorValue float64    `json:"sensor_value"`
	Message     string     `json:"message,omitempty"`
	IsResolved  bool       `json:"is_resolved"`
	CreatedAt   time.Time  `gorm:"index:idx_alert_user_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GetAlertEmoji returns an emoji for notification formatting
func (a *Alert) GetAlertEmoji() string {
	switch a.SensorType {
	case SensorLPG:
		return "💨"
	case SensorCO:
		return "☁️"
	case SensorTemperature:
		return "🌡️"
	case SensorFlame:
		return "🔥"
	case SensorChildDetected:
		return "🧒"
	default:
		return "⚠️"
	}
}

// GetSeverityColor returns a colored marker for the severity
func (a *Alert) GetSeverityColor() string {
	switch a.Severity {
	case SeverityCritical, SeverityHigh:
		return "🔴"
	case SeverityMedium:
		return "🟡"
	case SeverityLow:
		return "🔵"
	default:
		return "🟢"
	}
}

package models

import "time"

// UserSettings stores thresholds, notification preferences and the
// emergency contact of a single user
type UserSettings struct {
	ID                          uint      `gorm:"primaryKey" json:"id,omitempty"`
	UserID                      string    `gorm:"uniqueIndex;not null" json:"user_id"`
	LPGThreshold                float64   `json:"lpg_threshold"`
	COThreshold                 float64   `json:"co_threshold"`
	TempThreshold               float64   `json:"temp_threshold"`
	IsEmailNotificationsEnabled bool      `json:"is_email_notifications_enabled"`
	IsPushNotificationsEnabled  bool      `json:"is_push_notifications_enabled"`
	IsSMSNotificationsEnabled   bool      `json:"is_sms_notifications_enabled"`
	EmergencyContactName        string    `json:"emergency_contact_name"`
	EmergencyContactPhone       string    `json:"emergency_contact_phone"`
	EmergencyContactEmail       string    `json:"emergency_contact_email"`
	CreatedAt                   time.Time `json:"created_at,omitempty"`
	UpdatedAt                   time.Time `json:"updated_at,omitempty"`
}

// DefaultSettings returns the settings served to users that never saved any
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:                      userID,
		LPGThreshold:                DefaultThresholds.LPG,
		COThreshold:                 DefaultThresholds.CO,
		TempThreshold:               DefaultThresholds.Temp,
		IsEmailNotificationsEnabled: true,
		IsPushNotificationsEnabled:  true,
	}
}

// Thresholds extracts the danger thresholds
func (s UserSettings) Thresholds() Thresholds {
	return Thresholds{LPG: s.LPGThreshold, CO: s.COThreshold, Temp: s.TempThreshold}
}

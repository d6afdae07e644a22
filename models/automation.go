package models

import "time"

// TriggerCondition is the comparison a rule applies to its sensor value
type TriggerCondition string

const (
	ConditionGreaterThan TriggerCondition = "greater_than"
	ConditionLessThan    TriggerCondition = "less_than"
)

// ActionState is the device state a rule drives its device to
type ActionState string

const (
	ActionOn  ActionState = "on"
	ActionOff ActionState = "off"
)

// AutomationRule maps a sensor condition to a device action
type AutomationRule struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           string           `gorm:"index;not null" json:"user_id"`
	Name             string           `json:"name,omitempty"`
	TriggerSensor    SensorType       `gorm:"not null" json:"trigger_sensor"`
	TriggerCondition TriggerCondition `gorm:"not null" json:"trigger_condition"`
	TriggerThreshold float64          `json:"trigger_threshold"`
	ActionDevice     string           `gorm:"not null" json:"action_device"`
	ActionState      ActionState      `gorm:"not null" json:"action_state"`
	IsEnabled        bool             `json:"is_enabled"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Kitchen actuators known to the firmware
const (
	DeviceGasValve   = "gas_valve"
	DeviceExhaustFan = "exhaust_fan"
	DeviceAlarm      = "alarm"
)

// DeviceState is the current on/off state of one device. For the gas valve
// IsOn means open.
type DeviceState struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"uniqueIndex:idx_device_user_type,priority:1;not null" json:"user_id"`
	DeviceType        string    `gorm:"uniqueIndex:idx_device_user_type,priority:2;not null" json:"device_type"`
	IsOn              bool      `json:"is_on"`
	IsManualOverride  bool      `json:"is_manual_override"`
	LastStateChangeAt time.Time `json:"last_state_change_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TriggeredAction records a rule or condition that drove a device
type TriggeredAction struct {
	Device  string      `json:"device"`
	Action  ActionState `json:"action"`
	Trigger SensorType  `json:"trigger,omitempty"`
}

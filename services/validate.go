package services

import (
	"fmt"
	"math"
	"strings"

	"safekitchen/models"
)

// ValidateReading checks a reading before it is appended.
func ValidateReading(r *models.SensorReading) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !r.SensorType.Valid() {
		return fmt.Errorf("%w: unknown sensor_type %q", ErrValidation, r.SensorType)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value must be finite", ErrValidation)
	}
	if strings.TrimSpace(r.Unit) == "" {
		return fmt.Errorf("%w: unit is required", ErrValidation)
	}
	return nil
}

// ValidateRule checks a rule before it is created or updated.
func ValidateRule(rule *models.AutomationRule) error {
	if !rule.TriggerSensor.Valid() {
		return fmt.Errorf("%w: unknown trigger_sensor %q", ErrValidation, rule.TriggerSensor)
	}
	switch rule.TriggerCondition {
	case models.ConditionGreaterThan, models.ConditionLessThan:
	default:
		return fmt.Errorf("%w: trigger_condition must be greater_than or less_than", ErrValidation)
	}
	if strings.TrimSpace(rule.ActionDevice) == "" {
		return fmt.Errorf("%w: action_device is required", ErrValidation)
	}
	switch rule.ActionState {
	case models.ActionOn, models.ActionOff:
	default:
		return fmt.Errorf("%w: action_state must be on or off", ErrValidation)
	}
	if math.IsNaN(rule.TriggerThreshold) || math.IsInf(rule.TriggerThreshold, 0) {
		return fmt.Errorf("%w: trigger_threshold must be finite", ErrValidation)
	}
	return nil
}

// ValidateSettings checks user settings before they are saved.
func ValidateSettings(s *models.UserSettings) error {
	for name, v := range map[string]float64{
		"lpg_threshold":  s.LPGThreshold,
		"co_threshold":   s.COThreshold,
		"temp_threshold": s.TempThreshold,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s must be a positive number", ErrValidation, name)
		}
	}
	return nil
}

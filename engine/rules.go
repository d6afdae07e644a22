package engine

import "safekitchen/models"

// Matches reports whether a rule fires for a value. Comparisons are inclusive.
func Matches(rule models.AutomationRule, value float64) bool {
	switch rule.TriggerCondition {
	case models.ConditionGreaterThan:
		return value >= rule.TriggerThreshold
	case models.ConditionLessThan:
		return value <= rule.TriggerThreshold
	}
	return false
}

// MatchingRules returns the rules for sensor that fire at value, in input order.
func MatchingRules(sensor models.SensorType, value float64, rules []models.AutomationRule) []models.AutomationRule {
	var out []models.AutomationRule
	for _, r := range rules {
		if r.TriggerSensor != sensor {
			continue
		}
		if Matches(r, value) {
			out = append(out, r)
		}
	}
	return out
}

// TargetState converts a rule's action state to a device on/off value.
func TargetState(rule models.AutomationRule) bool {
	return rule.ActionState == models.ActionOn
}

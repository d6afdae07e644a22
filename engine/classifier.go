package engine

import "safekitchen/models"

// warningRatio is the fraction of the danger threshold at which a reading
// becomes a warning
const warningRatio = 0.8

// Classify maps a value to safe, warning or danger against a threshold.
// Callers must supply positive thresholds; a zero threshold classifies
// every non-negative value as danger.
func Classify(value, threshold float64) models.Status {
	if value >= threshold {
		return models.StatusDanger
	}
	if value >= threshold*warningRatio {
		return models.StatusWarning
	}
	return models.StatusSafe
}

// ClassifyPresence classifies boolean-like sensors; there is no warning tier.
func ClassifyPresence(value float64) models.Status {
	if value >= 1 {
		return models.StatusDanger
	}
	return models.StatusSafe
}

// ClassifySensor dispatches to the policy that applies to the sensor type.
func ClassifySensor(sensor models.SensorType, value float64, th models.Thresholds) models.Status {
	if sensor.IsPresence() {
		return ClassifyPresence(value)
	}
	threshold, ok := th.For(sensor)
	if !ok {
		return models.StatusSafe
	}
	return Classify(value, threshold)
}

// IsAbnormal reports whether a reading is at or above 80% of its threshold
// (or a detected presence).
func IsAbnormal(sensor models.SensorType, value float64, th models.Thresholds) bool {
	return ClassifySensor(sensor, value, th) != models.StatusSafe
}

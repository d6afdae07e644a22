package engine

import (
	"testing"
	"time"

	"safekitchen/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func reading(sensor models.SensorType, value float64) models.SensorReading {
	return models.SensorReading{UserID: "user-1", SensorType: sensor, Value: value, Unit: sensor.DefaultUnit()}
}

func TestEvaluateBatch_AbnormalAndRules(t *testing.T) {
	snap := Snapshot{
		UserID: "user-1",
		Readings: []models.SensorReading{
			reading(models.SensorCO, 10),
			reading(models.SensorLPG, 42),
			reading(models.SensorTemperature, 30),
		},
		Thresholds: models.DefaultThresholds,
		Rules: []models.AutomationRule{
			rule(1, models.SensorLPG, models.ConditionGreaterThan, 40, models.DeviceExhaustFan, models.ActionOn),
			rule(2, models.SensorTemperature, models.ConditionLessThan, 35, models.DeviceAlarm, models.ActionOff),
		},
	}

	res := Evaluate(snap, Stateless(), testNow)

	require.True(t, res.HasAbnormalReadings())
	assert.Equal(t, []models.AbnormalReading{{SensorType: models.SensorLPG, Value: 42}}, res.AbnormalReadings)

	assert.Equal(t, []DeviceWrite{
		{DeviceType: models.DeviceExhaustFan, IsOn: true},
		{DeviceType: models.DeviceAlarm, IsOn: false},
	}, res.DeviceWrites)
	assert.Equal(t, []models.TriggeredAction{
		{Device: models.DeviceExhaustFan, Action: models.ActionOn, Trigger: models.SensorLPG},
		{Device: models.DeviceAlarm, Action: models.ActionOff, Trigger: models.SensorTemperature},
	}, res.TriggeredActions)

	// The less_than rule matched below its threshold, so only the lpg rule alerts.
	require.Len(t, res.Alerts, 1)
	alert := res.Alerts[0]
	assert.Equal(t, "lpg_threshold_exceeded", alert.AlertType)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, 42.0, alert.SensorValue)
	assert.False(t, alert.IsResolved)
	assert.Equal(t, testNow, alert.CreatedAt)
}

func TestEvaluateBatch_ChildDetectedIsCritical(t *testing.T) {
	snap := Snapshot{
		UserID:     "user-1",
		Readings:   []models.SensorReading{reading(models.SensorChildDetected, 1)},
		Thresholds: models.DefaultThresholds,
		Rules: []models.AutomationRule{
			rule(1, models.SensorChildDetected, models.ConditionGreaterThan, 1, models.DeviceGasValve, models.ActionOff),
		},
	}
	res := Evaluate(snap, Stateless(), testNow)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityCritical, res.Alerts[0].Severity)
	assert.Equal(t, "child_detected_threshold_exceeded", res.Alerts[0].AlertType)
	assert.Equal(t, []DeviceWrite{{DeviceType: models.DeviceGasValve, IsOn: false}}, res.DeviceWrites)
}

func TestEvaluateBatch_RepeatsAlertsEveryCall(t *testing.T) {
	snap := Snapshot{
		UserID:     "user-1",
		Readings:   []models.SensorReading{reading(models.SensorLPG, 70)},
		Thresholds: models.DefaultThresholds,
		Rules:      []models.AutomationRule{rule(1, models.SensorLPG, models.ConditionGreaterThan, 50, models.DeviceGasValve, models.ActionOff)},
	}
	first := Evaluate(snap, Stateless(), testNow)
	second := Evaluate(snap, Stateless(), testNow.Add(time.Second))
	assert.Equal(t, first.DeviceWrites, second.DeviceWrites)
	assert.Len(t, first.Alerts, 1)
	assert.Len(t, second.Alerts, 1)
}

func TestEvaluateBatch_NoReadings(t *testing.T) {
	res := Evaluate(Snapshot{UserID: "user-1", Thresholds: models.DefaultThresholds}, Stateless(), testNow)
	assert.False(t, res.HasAbnormalReadings())
	assert.True(t, res.Empty())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "stateless", Stateless().String())
	assert.Equal(t, "stateful", Stateful(NewEdgeState()).String())
	assert.False(t, Mode{}.IsStateful())
}

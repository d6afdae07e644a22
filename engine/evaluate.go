package engine

import (
	"time"

	"safekitchen/models"
)

// Snapshot is everything one evaluation pass needs, loaded fresh from the
// stores each tick.
type Snapshot struct {
	UserID     string
	Readings   []models.SensorReading // latest per sensor type
	Thresholds models.Thresholds
	Rules      []models.AutomationRule // enabled rules only
	Devices    map[string]models.DeviceState
}

// Value returns the latest value for a sensor.
func (s Snapshot) Value(sensor models.SensorType) (float64, bool) {
	for _, r := range s.Readings {
		if r.SensorType == sensor {
			return r.Value, true
		}
	}
	return 0, false
}

// DeviceOn reports the persisted state of a device; a device without a row is off.
func (s Snapshot) DeviceOn(device string) bool {
	st, ok := s.Devices[device]
	return ok && st.IsOn
}

// Mode selects between the stateless batch evaluator and the edge-triggered
// streaming evaluator. The zero value is stateless.
type Mode struct {
	edges *EdgeState
}

// Stateless re-derives everything on each call and never suppresses alerts.
func Stateless() Mode { return Mode{} }

// Stateful keeps latches and previous values in state across calls.
func Stateful(state *EdgeState) Mode { return Mode{edges: state} }

// IsStateful reports whether the mode carries edge state.
func (m Mode) IsStateful() bool { return m.edges != nil }

func (m Mode) String() string {
	if m.IsStateful() {
		return "stateful"
	}
	return "stateless"
}

// DeviceWrite is a device-state upsert requested by the engine. Automated
// writes always clear the manual override flag.
type DeviceWrite struct {
	DeviceType string
	IsOn       bool
}

// Result is the transition set produced by one evaluation.
type Result struct {
	AbnormalReadings []models.AbnormalReading
	TriggeredActions []models.TriggeredAction
	DeviceWrites     []DeviceWrite
	Alerts           []models.Alert
}

// HasAbnormalReadings reports whether any latest reading was abnormal.
func (r Result) HasAbnormalReadings() bool {
	return len(r.AbnormalReadings) > 0
}

// Empty reports whether the evaluation produced no side effects.
func (r Result) Empty() bool {
	return len(r.DeviceWrites) == 0 && len(r.Alerts) == 0
}

func (r *Result) writeDevice(device string, on bool) {
	r.DeviceWrites = append(r.DeviceWrites, DeviceWrite{DeviceType: device, IsOn: on})
}

func (r *Result) raise(userID string, now time.Time, sensor models.SensorType, value float64, alertType string, sev models.Severity, msg string) {
	r.Alerts = append(r.Alerts, models.Alert{
		UserID:      userID,
		AlertType:   alertType,
		Severity:    sev,
		SensorType:  sensor,
		SensorValue: value,
		Message:     msg,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Evaluate maps a snapshot to the device writes and alerts that must follow.
// It performs no I/O.
func Evaluate(snap Snapshot, mode Mode, now time.Time) Result {
	if mode.IsStateful() {
		return mode.edges.step(snap, now)
	}
	return evaluateBatch(snap, now)
}

func evaluateBatch(snap Snapshot, now time.Time) Result {
	var res Result
	for _, reading := range snap.Readings {
		sensor, value := reading.SensorType, reading.Value

		if IsAbnormal(sensor, value, snap.Thresholds) {
			res.AbnormalReadings = append(res.AbnormalReadings, models.AbnormalReading{SensorType: sensor, Value: value})
		}

		for _, rule := range MatchingRules(sensor, value, snap.Rules) {
			res.writeDevice(rule.ActionDevice, TargetState(rule))
			res.TriggeredActions = append(res.TriggeredActions, models.TriggeredAction{
				Device:  rule.ActionDevice,
				Action:  rule.ActionState,
				Trigger: sensor,
			})

			if sensor == models.SensorChildDetected || value >= rule.TriggerThreshold {
				sev := models.SeverityHigh
				if sensor == models.SensorChildDetected {
					sev = models.SeverityCritical
				}
				res.raise(snap.UserID, now, sensor, value, string(sensor)+"_threshold_exceeded", sev, "")
			}
		}
	}
	return res
}

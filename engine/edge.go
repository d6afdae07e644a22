package engine

import (
	"fmt"
	"sync"
	"time"

	"safekitchen/models"
)

// Condition is one independently latched safety condition of the streaming
// evaluator.
type Condition string

const (
	ConditionGas         Condition = "gas"
	// ConditionFire tracks the flame sensor; co readings do not feed it.
	ConditionFire        Condition = "fire"
	ConditionTemperature Condition = "temperature"
	ConditionChild       Condition = "child"
)

const (
	gasElevatedFloor    = 25.0
	gasNormalCeiling    = 20.0
	fireThreshold       = 0.5
	tempResetHysteresis = 5.0
)

type latch struct {
	prev   float64
	active bool
}

// EdgeState holds the per-condition latches of one user. Latches live only
// in process memory; a restart forgets raised alerts.
type EdgeState struct {
	mu      sync.Mutex
	latches map[Condition]*latch
}

// NewEdgeState returns state with every latch cleared and previous values at zero.
func NewEdgeState() *EdgeState {
	return &EdgeState{latches: map[Condition]*latch{}}
}

// Active reports whether the alert latch for c is set.
func (s *EdgeState) Active(c Condition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.latches[c]
	return ok && l.active
}

// Previous returns the last value observed for c.
func (s *EdgeState) Previous(c Condition) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.latches[c]; ok {
		return l.prev
	}
	return 0
}

// Reset clears every latch.
func (s *EdgeState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latches = map[Condition]*latch{}
}

// Checkpoint is a copy of every latch taken before a step.
type Checkpoint map[Condition]latch

// Checkpoint copies the current latches.
func (s *EdgeState) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(Checkpoint, len(s.latches))
	for c, l := range s.latches {
		cp[c] = *l
	}
	return cp
}

// Restore puts the latches back to cp, so the next step sees the same
// crossings again.
func (s *EdgeState) Restore(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latches = make(map[Condition]*latch, len(cp))
	for c, l := range cp {
		l := l
		s.latches[c] = &l
	}
}

func (s *EdgeState) get(c Condition) *latch {
	l, ok := s.latches[c]
	if !ok {
		l = &latch{}
		s.latches[c] = l
	}
	return l
}

// step runs every condition against the device view at tick start.
func (s *EdgeState) step(snap Snapshot, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	for _, reading := range snap.Readings {
		if IsAbnormal(reading.SensorType, reading.Value, snap.Thresholds) {
			res.AbnormalReadings = append(res.AbnormalReadings, models.AbnormalReading{SensorType: reading.SensorType, Value: reading.Value})
		}
	}

	if v, ok := snap.Value(models.SensorLPG); ok {
		s.gas(&res, snap, v, now)
	}
	if v, ok := snap.Value(models.SensorFlame); ok {
		s.fire(&res, snap, v, now)
	}
	if v, ok := snap.Value(models.SensorTemperature); ok {
		s.temperature(&res, snap, v, now)
	}
	if v, ok := snap.Value(models.SensorChildDetected); ok {
		s.child(&res, snap, v, now)
	}
	return res
}

func (s *EdgeState) gas(res *Result, snap Snapshot, v float64, now time.Time) {
	l := s.get(ConditionGas)
	thr := snap.Thresholds.LPG
	defer func() { l.prev = v }()

	if v > thr && l.prev <= thr {
		res.writeDevice(models.DeviceGasValve, false)
		res.writeDevice(models.DeviceExhaustFan, true)
		res.TriggeredActions = append(res.TriggeredActions,
			models.TriggeredAction{Device: models.DeviceGasValve, Action: models.ActionOff, Trigger: models.SensorLPG},
			models.TriggeredAction{Device: models.DeviceExhaustFan, Action: models.ActionOn, Trigger: models.SensorLPG},
		)
		if !l.active {
			res.raise(snap.UserID, now, models.SensorLPG, v, "gas_critical", models.SeverityHigh,
				fmt.Sprintf("Gas level %.1f ppm exceeds threshold %.1f ppm. Valve closed and exhaust fan started.", v, thr))
		}
		l.active = true
		return
	}

	if v > gasElevatedFloor && v <= thr && !snap.DeviceOn(models.DeviceExhaustFan) {
		res.writeDevice(models.DeviceExhaustFan, true)
		res.TriggeredActions = append(res.TriggeredActions,
			models.TriggeredAction{Device: models.DeviceExhaustFan, Action: models.ActionOn, Trigger: models.SensorLPG})
		if !l.active {
			res.raise(snap.UserID, now, models.SensorLPG, v, "gas_elevated", models.SeverityMedium,
				fmt.Sprintf("Gas level %.1f ppm is elevated. Exhaust fan started.", v))
		}
		return
	}

	if v < gasNormalCeiling && l.active {
		l.active = false
		res.raise(snap.UserID, now, models.SensorLPG, v, "gas_normal", models.SeverityInfo,
			fmt.Sprintf("Gas levels back to normal (%.1f ppm).", v))
	}
}

func (s *EdgeState) fire(res *Result, snap Snapshot, v float64, now time.Time) {
	l := s.get(ConditionFire)
	defer func() { l.prev = v }()

	if v > fireThreshold && l.prev <= fireThreshold {
		res.writeDevice(models.DeviceGasValve, false)
		res.writeDevice(models.DeviceExhaustFan, true)
		res.TriggeredActions = append(res.TriggeredActions,
			models.TriggeredAction{Device: models.DeviceGasValve, Action: models.ActionOff, Trigger: models.SensorFlame},
			models.TriggeredAction{Device: models.DeviceExhaustFan, Action: models.ActionOn, Trigger: models.SensorFlame},
		)
		if !l.active {
			res.raise(snap.UserID, now, models.SensorFlame, v, "fire_detected", models.SeverityHigh,
				"Fire detected. Gas valve closed and exhaust fan started.")
		}
		l.active = true
		return
	}
	if v <= fireThreshold && l.active {
		l.active = false
	}
}

func (s *EdgeState) temperature(res *Result, snap Snapshot, v float64, now time.Time) {
	l := s.get(ConditionTemperature)
	thr := snap.Thresholds.Temp
	defer func() { l.prev = v }()

	if v > thr && l.prev <= thr {
		if !l.active {
			res.raise(snap.UserID, now, models.SensorTemperature, v, "temperature_high", models.SeverityMedium,
				fmt.Sprintf("Temperature %.1f°C exceeds threshold %.1f°C.", v, thr))
		}
		l.active = true
		return
	}
	if v < thr-tempResetHysteresis && l.active {
		l.active = false
	}
}

// child is level-triggered: it fires on every tick the valve is open while a
// child is detected, without a latch.
func (s *EdgeState) child(res *Result, snap Snapshot, v float64, now time.Time) {
	l := s.get(ConditionChild)
	l.prev = v
	detected := v >= 1
	l.active = detected

	if !detected || !snap.DeviceOn(models.DeviceGasValve) {
		return
	}
	res.writeDevice(models.DeviceGasValve, false)
	res.TriggeredActions = append(res.TriggeredActions,
		models.TriggeredAction{Device: models.DeviceGasValve, Action: models.ActionOff, Trigger: models.SensorChildDetected})
	res.raise(snap.UserID, now, models.SensorChildDetected, v, "child_safety_lock", models.SeverityHigh,
		"Child detected near the stove. Gas valve locked closed.")
}

package engine

import (
	"testing"

	"safekitchen/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamHarness struct {
	state   *EdgeState
	devices map[string]models.DeviceState
	th      models.Thresholds
}

func newHarness() *streamHarness {
	return &streamHarness{
		state:   NewEdgeState(),
		devices: map[string]models.DeviceState{},
		th:      models.Thresholds{LPG: 50, CO: 35, Temp: 60},
	}
}

// tick evaluates and then persists the device writes, as the watcher does.
func (h *streamHarness) tick(readings ...models.SensorReading) Result {
	snap := Snapshot{UserID: "user-1", Readings: readings, Thresholds: h.th, Devices: h.devices}
	res := Evaluate(snap, Stateful(h.state), testNow)
	for _, w := range res.DeviceWrites {
		h.devices[w.DeviceType] = models.DeviceState{UserID: "user-1", DeviceType: w.DeviceType, IsOn: w.IsOn}
	}
	return res
}

func (h *streamHarness) setDevice(device string, on bool) {
	h.devices[device] = models.DeviceState{UserID: "user-1", DeviceType: device, IsOn: on}
}

func TestStreaming_GasSequence(t *testing.T) {
	h := newHarness()
	h.setDevice(models.DeviceGasValve, true)

	res := h.tick(reading(models.SensorLPG, 10))
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.DeviceWrites)

	res = h.tick(reading(models.SensorLPG, 30))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityMedium, res.Alerts[0].Severity)
	assert.Equal(t, "gas_elevated", res.Alerts[0].AlertType)
	assert.True(t, h.devices[models.DeviceExhaustFan].IsOn)
	assert.False(t, h.state.Active(ConditionGas))

	res = h.tick(reading(models.SensorLPG, 60))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityHigh, res.Alerts[0].Severity)
	assert.Equal(t, "gas_critical", res.Alerts[0].AlertType)
	assert.False(t, h.devices[models.DeviceGasValve].IsOn)
	assert.True(t, h.devices[models.DeviceExhaustFan].IsOn)
	assert.True(t, h.state.Active(ConditionGas))

	res = h.tick(reading(models.SensorLPG, 15))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityInfo, res.Alerts[0].Severity)
	assert.Equal(t, "gas_normal", res.Alerts[0].AlertType)
	assert.False(t, h.state.Active(ConditionGas))

	res = h.tick(reading(models.SensorLPG, 60))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityHigh, res.Alerts[0].Severity)
	assert.True(t, h.state.Active(ConditionGas))
}

func TestStreaming_GasStaysQuietWhileAbove(t *testing.T) {
	h := newHarness()
	require.Len(t, h.tick(reading(models.SensorLPG, 70)).Alerts, 1)

	// No crossing while the value stays above the threshold.
	assert.Empty(t, h.tick(reading(models.SensorLPG, 80)).Alerts)

	// Dipping into the elevated band with the fan already on changes nothing,
	// and re-crossing while latched does not raise another alert.
	assert.Empty(t, h.tick(reading(models.SensorLPG, 40)).Alerts)
	res := h.tick(reading(models.SensorLPG, 70))
	assert.Empty(t, res.Alerts)
	assert.NotEmpty(t, res.DeviceWrites)
}

func TestStreaming_GasResetAlertOnlyWhenLatched(t *testing.T) {
	h := newHarness()
	assert.Empty(t, h.tick(reading(models.SensorLPG, 5)).Alerts)
	assert.Empty(t, h.tick(reading(models.SensorLPG, 2)).Alerts)
}

func TestStreaming_FireEdges(t *testing.T) {
	h := newHarness()
	h.setDevice(models.DeviceGasValve, true)

	assert.Empty(t, h.tick(reading(models.SensorFlame, 0)).Alerts)

	res := h.tick(reading(models.SensorFlame, 1))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "fire_detected", res.Alerts[0].AlertType)
	assert.False(t, h.devices[models.DeviceGasValve].IsOn)
	assert.True(t, h.devices[models.DeviceExhaustFan].IsOn)

	assert.Empty(t, h.tick(reading(models.SensorFlame, 1)).Alerts)

	// Falling edge clears silently.
	assert.Empty(t, h.tick(reading(models.SensorFlame, 0)).Alerts)
	assert.False(t, h.state.Active(ConditionFire))

	require.Len(t, h.tick(reading(models.SensorFlame, 1)).Alerts, 1)
}

func TestStreaming_TemperatureHysteresis(t *testing.T) {
	h := newHarness()

	res := h.tick(reading(models.SensorTemperature, 61))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeverityMedium, res.Alerts[0].Severity)
	assert.Empty(t, res.DeviceWrites)

	// Inside the hysteresis band the latch holds, so re-crossing is silent.
	assert.Empty(t, h.tick(reading(models.SensorTemperature, 57)).Alerts)
	assert.True(t, h.state.Active(ConditionTemperature))
	assert.Empty(t, h.tick(reading(models.SensorTemperature, 62)).Alerts)

	assert.Empty(t, h.tick(reading(models.SensorTemperature, 54)).Alerts)
	assert.False(t, h.state.Active(ConditionTemperature))
	require.Len(t, h.tick(reading(models.SensorTemperature, 61)).Alerts, 1)
}

func TestStreaming_ChildDetectionFiresEveryTickValveIsOpen(t *testing.T) {
	h := newHarness()
	for i := 0; i < 3; i++ {
		// The valve is re-opened before each tick.
		h.setDevice(models.DeviceGasValve, true)
		res := h.tick(reading(models.SensorChildDetected, 1))
		require.Len(t, res.Alerts, 1, "tick %d", i+1)
		assert.Equal(t, "child_safety_lock", res.Alerts[0].AlertType)
		assert.Equal(t, models.SeverityHigh, res.Alerts[0].Severity)
		assert.False(t, h.devices[models.DeviceGasValve].IsOn)
	}
}

func TestStreaming_ChildDetectionSilentOnceValveClosed(t *testing.T) {
	h := newHarness()
	h.setDevice(models.DeviceGasValve, true)

	require.Len(t, h.tick(reading(models.SensorChildDetected, 1)).Alerts, 1)
	assert.False(t, h.devices[models.DeviceGasValve].IsOn)

	assert.Empty(t, h.tick(reading(models.SensorChildDetected, 1)).Alerts)
	assert.Empty(t, h.tick(reading(models.SensorChildDetected, 1)).Alerts)
}

func TestStreaming_EvaluatesAgainstTickStartDevices(t *testing.T) {
	h := newHarness()
	h.setDevice(models.DeviceGasValve, true)

	// Gas closes the valve in the same tick, but child detection still sees
	// the valve open at tick start.
	res := h.tick(reading(models.SensorLPG, 70), reading(models.SensorChildDetected, 1))
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, "gas_critical", res.Alerts[0].AlertType)
	assert.Equal(t, "child_safety_lock", res.Alerts[1].AlertType)
}

func TestEdgeState_Reset(t *testing.T) {
	h := newHarness()
	h.tick(reading(models.SensorLPG, 70))
	require.True(t, h.state.Active(ConditionGas))
	assert.Equal(t, 70.0, h.state.Previous(ConditionGas))

	h.state.Reset()
	assert.False(t, h.state.Active(ConditionGas))
	assert.Equal(t, 0.0, h.state.Previous(ConditionGas))
}

func TestStreaming_RestoreReplaysCrossing(t *testing.T) {
	h := newHarness()
	h.setDevice(models.DeviceGasValve, true)

	cp := h.state.Checkpoint()
	res := h.tick(reading(models.SensorLPG, 70))
	require.Len(t, res.Alerts, 1)
	assert.True(t, h.state.Active(ConditionGas))

	h.state.Restore(cp)
	assert.False(t, h.state.Active(ConditionGas))
	assert.Zero(t, h.state.Previous(ConditionGas))

	res = h.tick(reading(models.SensorLPG, 70))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "gas_critical", res.Alerts[0].AlertType)
}

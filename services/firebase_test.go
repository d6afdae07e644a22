package services

import (
	"context"
	"errors"
	"testing"

	"safekitchen/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMirror struct {
	sets map[string]interface{}
	err  error
}

func (f *fakeMirror) Set(_ context.Context, path string, v interface{}) error {
	if f.err != nil {
		return f.err
	}
	if f.sets == nil {
		f.sets = map[string]interface{}{}
	}
	f.sets[path] = v
	return nil
}

func (f *fakeMirror) Get(context.Context, string, interface{}) error { return f.err }

func (f *fakeMirror) GetNewerThan(context.Context, string, string, string, interface{}) error {
	return f.err
}

func TestFirebaseMirrorsAlertsAndDevices(t *testing.T) {
	mirror := &fakeMirror{}
	fs := &FirebaseService{store: mirror, logger: zap.NewNop()}
	ctx := context.Background()

	id := uuid.New()
	alert := models.Alert{
		ID: 7, EventID: id, UserID: "u1", AlertType: "fire_detected",
		Severity: models.SeverityHigh, SensorType: models.SensorFlame, SensorValue: 1, CreatedAt: testNow,
	}
	require.NoError(t, fs.NotifyAlert(ctx, alert, models.UserSettings{}))
	require.NoError(t, fs.Actuate(ctx, "u1", "gas_valve", false))

	rec, ok := mirror.sets["alerts/u1/"+id.String()].(mirroredAlert)
	require.True(t, ok)
	assert.Equal(t, "fire_detected", rec.AlertType)
	assert.Equal(t, "high", rec.Severity)
	assert.Equal(t, "2025-06-01T12:00:00Z", rec.CreatedAt)

	dev, ok := mirror.sets["devices/u1/gas_valve"].(mirroredDevice)
	require.True(t, ok)
	assert.False(t, dev.IsOn)
}

func TestFirebaseMirrorErrorsAreWrapped(t *testing.T) {
	fs := &FirebaseService{store: &fakeMirror{err: errors.New("permission denied")}, logger: zap.NewNop()}
	err := fs.Actuate(context.Background(), "u1", "exhaust_fan", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestFirebaseParseReading(t *testing.T) {
	fs := &FirebaseService{store: &fakeMirror{}, logger: zap.NewNop()}

	r := fs.parseReading("rec1", "u1", map[string]interface{}{
		"sensor_type": "lpg",
		"value":       64.5,
		"unit":        "ppm",
		"timestamp":   "2025-06-01T12:00:00Z",
	})
	require.NotNil(t, r)
	assert.Equal(t, models.SensorLPG, r.SensorType)
	assert.Equal(t, 64.5, r.Value)
	assert.Equal(t, testNow, r.CreatedAt)

	assert.Nil(t, fs.parseReading("rec2", "u1", map[string]interface{}{"sensor_type": "lpg"}))
	assert.Nil(t, fs.parseReading("rec3", "u1", map[string]interface{}{
		"sensor_type": "lpg", "value": 1.0, "timestamp": "yesterday",
	}))
}

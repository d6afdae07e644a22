package services

import (
	"context"
	"testing"

	"safekitchen/engine"
	"safekitchen/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherKeepsLatchesPerUser(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	addReading(t, st, "u1", models.SensorFlame, 1)
	addReading(t, st, "u2", models.SensorFlame, 0)

	w := NewWatcher(newTestAutomation(t, st), 0, zap.NewNop())
	w.Track("u1", "u2", "")

	w.TickAll(ctx)
	w.TickAll(ctx)

	e1, ok := w.EdgeState("u1")
	require.True(t, ok)
	assert.True(t, e1.Active(engine.ConditionFire))

	e2, ok := w.EdgeState("u2")
	require.True(t, ok)
	assert.False(t, e2.Active(engine.ConditionFire))

	alerts, err := st.ListAlerts(ctx, "u1", 20)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "fire_detected", alerts[0].AlertType)

	_, ok = w.EdgeState("")
	assert.False(t, ok)
}

func TestWatcherTickUserTracksAndUntrackForgets(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	addReading(t, st, "u1", models.SensorTemperature, 70)

	w := NewWatcher(newTestAutomation(t, st), 0, zap.NewNop())
	w.TickUser(ctx, "u1")

	e, ok := w.EdgeState("u1")
	require.True(t, ok)
	assert.True(t, e.Active(engine.ConditionTemperature))

	w.Untrack("u1")
	_, ok = w.EdgeState("u1")
	assert.False(t, ok)

	// A fresh latch re-raises on the next crossing.
	w.TickUser(ctx, "u1")
	n, err := st.CountAlerts(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

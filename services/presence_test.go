package services

import (
	"context"
	"testing"

	"safekitchen/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPresenceConfidenceGate(t *testing.T) {
	out := make(chan *models.SensorReading, 3)
	ing := NewIngestor(out, nil, zap.NewNop())
	ing.now = fixedClock
	p := NewPresenceService(ing, 0.6, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, &models.PresenceEvent{UserID: "u1", Detected: true, Confidence: 0.9}))
	require.NoError(t, p.Handle(ctx, &models.PresenceEvent{UserID: "u1", Detected: true, Confidence: 0.3}))
	require.NoError(t, p.Handle(ctx, &models.PresenceEvent{UserID: "u1", Detected: false, Confidence: 0.99}))

	want := []float64{1, 0, 0}
	for _, v := range want {
		r := <-out
		assert.Equal(t, models.SensorChildDetected, r.SensorType)
		assert.Equal(t, v, r.Value)
		assert.Equal(t, SourcePresence, r.Source)
		assert.Equal(t, "bool", r.Unit)
		assert.Equal(t, testNow, r.CreatedAt)
	}
}

func TestPresenceRequiresUser(t *testing.T) {
	p := NewPresenceService(NewIngestor(make(chan *models.SensorReading, 1), nil, zap.NewNop()), 0.5, zap.NewNop())
	assert.ErrorIs(t, p.Handle(context.Background(), &models.PresenceEvent{Detected: true}), ErrValidation)
}

func TestQueueReadingConversion(t *testing.T) {
	r := QueueReading{UserID: "u1", SensorType: models.SensorCO, Value: 15}.Reading()
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, models.SensorCO, r.SensorType)
	assert.True(t, r.CreatedAt.IsZero())
}

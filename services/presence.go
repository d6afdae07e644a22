package services

import (
	"context"
	"fmt"

	"safekitchen/models"

	"go.uber.org/zap"
)

// PresenceService turns camera presence events into child_detected readings.
type PresenceService struct {
	ingestor      *Ingestor
	minConfidence float64
	logger        *zap.Logger
}

// NewPresenceService creates a presence service. Detections below
// minConfidence are recorded as absent.
func NewPresenceService(ingestor *Ingestor, minConfidence float64, logger *zap.Logger) *PresenceService {
	return &PresenceService{
		ingestor:      ingestor,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Start processes events from the channel until ctx is done
func (p *PresenceService) Start(ctx context.Context, events <-chan *models.PresenceEvent) {
	p.logger.Info("Starting presence processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping presence processor")
			return

		case ev, ok := <-events:
			if !ok {
				p.logger.Info("Presence channel closed")
				return
			}
			if err := p.Handle(ctx, ev); err != nil {
				p.logger.Error("Failed to handle presence event",
					zap.String("user_id", ev.UserID),
					zap.Error(err))
			}
		}
	}
}

// Handle records one presence event as a child_detected reading.
func (p *PresenceService) Handle(ctx context.Context, ev *models.PresenceEvent) error {
	if ev.UserID == "" {
		return fmt.Errorf("%w: presence event without user_id", ErrValidation)
	}

	value := 0.0
	if ev.Detected && ev.Confidence >= p.minConfidence {
		value = 1
	}

	p.logger.Info("Processing presence event",
		zap.String("user_id", ev.UserID),
		zap.Bool("detected", ev.Detected),
		zap.Float64("confidence", ev.Confidence),
		zap.Time("timestamp", ev.Timestamp))

	return p.ingestor.Submit(ctx, &models.SensorReading{
		UserID:     ev.UserID,
		SensorType: models.SensorChildDetected,
		Value:      value,
		CreatedAt:  ev.Timestamp.UTC(),
	}, SourcePresence)
}

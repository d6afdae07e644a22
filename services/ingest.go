package services

import (
	"context"
	"fmt"
	"time"

	"safekitchen/models"

	"go.uber.org/zap"
)

// Reading sources recorded on stored readings.
const (
	SourceHTTP      = "http"
	SourceMQTT      = "mqtt"
	SourceRabbitMQ  = "rabbitmq"
	SourceESP32     = "esp32"
	SourceSimulated = "simulated"
	SourcePresence  = "presence"
	SourceFirebase  = "firebase"
)

// Ingestor validates readings from the queue, MQTT and bridge sources and
// hands them to the batch writer.
type Ingestor struct {
	out         chan<- *models.SensorReading
	metrics     *Metrics
	logger      *zap.Logger
	sendTimeout time.Duration
	now         func() time.Time
}

// NewIngestor creates an ingestor feeding out
func NewIngestor(out chan<- *models.SensorReading, metrics *Metrics, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		out:         out,
		metrics:     metrics,
		logger:      logger,
		sendTimeout: 5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit fills defaults, validates and enqueues one reading.
func (i *Ingestor) Submit(ctx context.Context, r *models.SensorReading, source string) error {
	if r.Unit == "" {
		r.Unit = r.SensorType.DefaultUnit()
	}
	if r.Source == "" {
		r.Source = source
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = i.now()
	}
	if err := ValidateReading(r); err != nil {
		return err
	}

	select {
	case i.out <- r:
		i.metrics.readingIngested(r.Source)
		i.logger.Debug("Reading accepted",
			zap.String("user_id", r.UserID),
			zap.String("sensor_type", string(r.SensorType)),
			zap.Float64("value", r.Value),
			zap.String("source", r.Source))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(i.sendTimeout):
		return fmt.Errorf("timeout sending reading to batch writer")
	}
}

// SubmitAll submits readings in order and stops at the first failure.
func (i *Ingestor) SubmitAll(ctx context.Context, readings []*models.SensorReading, source string) error {
	for _, r := range readings {
		if err := i.Submit(ctx, r, source); err != nil {
			return err
		}
	}
	return nil
}

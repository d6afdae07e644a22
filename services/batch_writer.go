package services

import (
	"context"
	"sync"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	"go.uber.org/zap"
)

// ReadingAppender persists batches of readings.
type ReadingAppender interface {
	AppendReadings(ctx context.Context, readings []*models.SensorReading) error
}

// BatchWriterService handles batching sensor readings and writing them to the reading store
type BatchWriterService struct {
	store        ReadingAppender
	onFlush      func(ctx context.Context, userIDs []string)
	logger       *zap.Logger
	buffer       []*models.SensorReading
	bufferMutex  sync.Mutex
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	retryBackoff time.Duration
	shutdownChan chan bool
}

// NewBatchWriterService creates a new batch writer service. onFlush is called
// with the distinct users of every batch that was stored.
func NewBatchWriterService(cfg *config.Config, store ReadingAppender, onFlush func(ctx context.Context, userIDs []string), logger *zap.Logger) *BatchWriterService {
	size := cfg.BatchSize
	if size <= 0 {
		size = 50
	}
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &BatchWriterService{
		store:        store,
		onFlush:      onFlush,
		logger:       logger,
		buffer:       make([]*models.SensorReading, 0, size),
		maxBatchSize: size,
		batchTimeout: timeout,
		retryBackoff: time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

// Start begins the batch writer service
func (bw *BatchWriterService) Start(ctx context.Context, readings <-chan *models.SensorReading) {
	bw.logger.Info("Starting batch writer service",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	bw.flushTimer = time.NewTimer(bw.batchTimeout)
	defer bw.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			// The request context is gone; the final flush gets its own.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			bw.shutdownChan <- true
			return

		case reading, ok := <-readings:
			if !ok {
				bw.logger.Warn("Reading channel closed")
				bw.flushBuffer(ctx)
				bw.shutdownChan <- true
				return
			}

			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, reading)
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()

			bw.logger.Debug("Added reading to buffer",
				zap.String("user_id", reading.UserID),
				zap.Int("buffer_size", currentSize),
				zap.Int("max_batch_size", bw.maxBatchSize))

			if currentSize >= bw.maxBatchSize {
				bw.logger.Debug("Buffer full, flushing readings",
					zap.Int("buffer_size", currentSize))

				if !bw.flushTimer.Stop() {
					select {
					case <-bw.flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(ctx)
				bw.flushTimer.Reset(bw.batchTimeout)
			}

		case <-bw.flushTimer.C:
			bw.bufferMutex.Lock()
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()

			if currentSize > 0 {
				bw.logger.Debug("Batch timeout reached, flushing readings",
					zap.Int("buffer_size", currentSize))
				bw.flushBuffer(ctx)
			}

			bw.flushTimer.Reset(bw.batchTimeout)
		}
	}
}

// flushBuffer writes the current buffer to the store and clears it
func (bw *BatchWriterService) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()

	if len(bw.buffer) == 0 {
		bw.bufferMutex.Unlock()
		return
	}

	batch := make([]*models.SensorReading, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	bw.bufferMutex.Unlock()

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.store.AppendReadings(ctx, batch)
		if err == nil {
			bw.logger.Info("Flushed reading batch",
				zap.Int("batch_size", len(batch)))
			if bw.onFlush != nil {
				bw.onFlush(ctx, distinctUsers(batch))
			}
			return
		}

		bw.logger.Error("Failed to flush reading batch",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * bw.retryBackoff):
			case <-ctx.Done():
			}
		}
	}

	bw.logger.Error("Failed to flush batch after all retries, readings lost",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriterService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the current buffer size (for monitoring)
func (bw *BatchWriterService) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return len(bw.buffer)
}

func distinctUsers(batch []*models.SensorReading) []string {
	seen := make(map[string]bool, len(batch))
	var users []string
	for _, r := range batch {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			users = append(users, r.UserID)
		}
	}
	return users
}

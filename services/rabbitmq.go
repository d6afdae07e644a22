package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// QueueReading is the message body published on the readings queue.
type QueueReading struct {
	UserID     string            `json:"user_id"`
	SensorType models.SensorType `json:"sensor_type"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

// Reading converts the message into a reading.
func (q QueueReading) Reading() *models.SensorReading {
	return &models.SensorReading{
		UserID:     q.UserID,
		SensorType: q.SensorType,
		Value:      q.Value,
		Unit:       q.Unit,
		CreatedAt:  q.Timestamp.UTC(),
	}
}

// RabbitMQService handles RabbitMQ connection and message consumption
type RabbitMQService struct {
	config    *config.Config
	logger    *zap.Logger
	isClosing atomic.Bool

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	reconnected chan struct{}
}

// NewRabbitMQService creates a new RabbitMQ service instance
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		config:      cfg,
		logger:      logger,
		reconnected: make(chan struct{}),
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// connect establishes connection to RabbitMQ and declares exchange and queues
func (r *RabbitMQService) connect() error {
	r.logger.Info("Connecting to RabbitMQ")

	var conn *amqp.Connection
	var err error
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(r.config.RabbitMQExchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	for _, queue := range []string{r.config.RabbitMQQueue, r.config.RabbitMQPresenceQueue} {
		if err := r.declareQueue(ch, queue); err != nil {
			conn.Close()
			return err
		}
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = ch
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ",
		zap.String("exchange", r.config.RabbitMQExchange),
		zap.String("readings_queue", r.config.RabbitMQQueue),
		zap.String("presence_queue", r.config.RabbitMQPresenceQueue))

	go r.handleReconnect(conn)

	return nil
}

// declareQueue declares a durable queue bound to the service exchange and
// to amq.topic so MQTT publishers reach it too.
func (r *RabbitMQService) declareQueue(ch *amqp.Channel, name string) error {
	queue, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(queue.Name, name, r.config.RabbitMQExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", name, err)
	}
	if err := ch.QueueBind(queue.Name, name, "amq.topic", false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to MQTT exchange: %w", name, err)
	}
	return nil
}

// handleReconnect handles automatic reconnection when connection is lost
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.isClosing.Load() {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		if r.isClosing.Load() {
			return
		}
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			r.mu.Lock()
			close(r.reconnected)
			r.reconnected = make(chan struct{})
			r.mu.Unlock()
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

func (r *RabbitMQService) current() (*amqp.Channel, <-chan struct{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel, r.reconnected
}

// ErrMalformedMessage marks a queue message that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// Consume delivers every message of queue to handle. Malformed or invalid
// messages are dropped; other failures are requeued.
func (r *RabbitMQService) Consume(ctx context.Context, queue string, handle func(ctx context.Context, body []byte) error) error {
	for {
		ch, reconnected := r.current()
		msgs, err := ch.Consume(queue, "safekitchen-"+queue, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming messages from RabbitMQ", zap.String("queue", queue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping RabbitMQ consumer", zap.String("queue", queue))
				return nil

			case <-reconnected:
				r.logger.Info("Reconnection detected, restarting consumer", zap.String("queue", queue))
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed", zap.String("queue", queue))
					select {
					case <-reconnected:
					case <-ctx.Done():
						return nil
					}
					break consumeLoop
				}

				if err := handle(ctx, msg.Body); err != nil {
					requeue := shouldRequeue(err)
					r.logger.Error("Failed to process message",
						zap.String("queue", queue),
						zap.String("message_id", msg.MessageId),
						zap.Bool("requeue", requeue),
						zap.Error(err))
					msg.Nack(false, requeue)
				} else {
					msg.Ack(false)
				}
			}
		}
	}
}

func shouldRequeue(err error) bool {
	return !errors.Is(err, ErrMalformedMessage) && !errors.Is(err, ErrValidation)
}

// ConsumeReadings feeds the readings queue into the ingestor.
func (r *RabbitMQService) ConsumeReadings(ctx context.Context, ingestor *Ingestor) error {
	return r.Consume(ctx, r.config.RabbitMQQueue, readingsHandler(ingestor))
}

// ConsumePresence feeds camera presence events into the presence service.
func (r *RabbitMQService) ConsumePresence(ctx context.Context, presence *PresenceService) error {
	return r.Consume(ctx, r.config.RabbitMQPresenceQueue, presenceHandler(presence))
}

func readingsHandler(ingestor *Ingestor) func(ctx context.Context, body []byte) error {
	return func(ctx context.Context, body []byte) error {
		var msg QueueReading
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return ingestor.Submit(ctx, msg.Reading(), SourceRabbitMQ)
	}
}

func presenceHandler(presence *PresenceService) func(ctx context.Context, body []byte) error {
	return func(ctx context.Context, body []byte) error {
		var ev models.PresenceEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return presence.Handle(ctx, &ev)
	}
}

// Publish publishes a JSON message with the queue name as routing key
func (r *RabbitMQService) Publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, _ := r.current()
	err = ch.PublishWithContext(ctx,
		r.config.RabbitMQExchange,
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.isClosing.Store(true)

	r.logger.Info("Closing RabbitMQ connection")

	r.mu.RLock()
	ch, conn := r.channel, r.conn
	r.mu.RUnlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}

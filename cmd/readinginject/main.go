package main

import (
	"context"
	"flag"
	"time"

	"safekitchen/config"
	"safekitchen/models"
	"safekitchen/services"

	"go.uber.org/zap"
)

var (
	userID      = flag.String("user", "demo-user", "User id")
	sensorType  = flag.String("sensor", "lpg", "Sensor type (lpg, co, temperature, flame, child_detected)")
	value       = flag.Float64("value", 0, "Reading value")
	unit        = flag.String("unit", "", "Unit (defaults to the sensor's unit)")
	presence    = flag.Bool("presence", false, "Publish a camera presence event instead of a reading")
	absent      = flag.Bool("absent", false, "With -presence, report that nobody is detected")
	confidence  = flag.Float64("confidence", 0.9, "With -presence, detection confidence")
	rabbitMQURL = flag.String("rabbitmq", "", "RabbitMQ URL (default from config)")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *rabbitMQURL != "" {
		cfg.RabbitMQURL = *rabbitMQURL
	}
	if cfg.RabbitMQURL == "" {
		logger.Fatal("RabbitMQ URL is required (RABBITMQ_URL or -rabbitmq)")
	}

	mq, err := services.NewRabbitMQService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mq.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *presence {
		ev := models.PresenceEvent{
			UserID:     *userID,
			Detected:   !*absent,
			Confidence: *confidence,
			Timestamp:  time.Now().UTC(),
		}
		if err := mq.Publish(ctx, cfg.RabbitMQPresenceQueue, ev); err != nil {
			logger.Fatal("Failed to publish presence event", zap.Error(err))
		}
		logger.Info("Presence event published",
			zap.String("queue", cfg.RabbitMQPresenceQueue),
			zap.String("user_id", ev.UserID),
			zap.Bool("detected", ev.Detected),
			zap.Float64("confidence", ev.Confidence))
		return
	}

	msg := services.QueueReading{
		UserID:     *userID,
		SensorType: models.SensorType(*sensorType),
		Value:      *value,
		Unit:       *unit,
		Timestamp:  time.Now().UTC(),
	}
	if !msg.SensorType.Valid() {
		logger.Fatal("Unknown sensor type", zap.String("sensor", *sensorType))
	}
	if err := mq.Publish(ctx, cfg.RabbitMQQueue, msg); err != nil {
		logger.Fatal("Failed to publish reading", zap.Error(err))
	}
	logger.Info("Reading published",
		zap.String("queue", cfg.RabbitMQQueue),
		zap.String("user_id", msg.UserID),
		zap.String("sensor_type", string(msg.SensorType)),
		zap.Float64("value", msg.Value))
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"safekitchen/config"
	"safekitchen/httpapi"
	"safekitchen/log"
	"safekitchen/models"
	"safekitchen/services"
	"safekitchen/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Unknown log level, keeping info", zap.String("level", cfg.LogLevel))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Database
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = store.PostgresDSN(cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBHost, cfg.DBPort, cfg.DBSSLMode)
	}
	db, err := store.Open(cfg.DBDriver, dsn, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	repo, err := store.New(db)
	if err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	defer repo.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(reg)

	// Core services
	automation := services.NewAutomation(repo, metrics, logger)
	devices := services.NewDeviceController(repo, metrics, logger)
	watcher := services.NewWatcher(automation, cfg.WatchInterval, logger)
	weather := services.NewWeatherAdvisor(cfg.OpenMeteoURL, cfg.WeatherCacheTTL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if users, err := repo.UsersWithReadingsSince(ctx, time.Now().UTC().Add(-time.Hour)); err != nil {
		logger.Warn("Failed to load recently active users", zap.Error(err))
	} else {
		watcher.Track(users...)
	}

	// Ingestion pipeline: sources -> ingestor -> batch writer -> watcher
	readingChan := make(chan *models.SensorReading, cfg.BatchSize*4)
	ingestor := services.NewIngestor(readingChan, metrics, logger)
	batchWriter := services.NewBatchWriterService(cfg, repo, func(ctx context.Context, userIDs []string) {
		for _, id := range userIDs {
			watcher.TickUser(ctx, id)
		}
	}, logger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Optional integrations
	var telegramService *services.TelegramService
	if cfg.TelegramEnabled() {
		telegramService, err = services.NewTelegramService(cfg, metrics, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		automation.AddNotifier(telegramService)
	}

	var firebaseService *services.FirebaseService
	if cfg.FirebaseEnabled() {
		firebaseService, err = services.NewFirebaseService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
		}
		defer firebaseService.Close()
		automation.AddNotifier(firebaseService)
		automation.AddActuator(firebaseService)
		devices.AddActuator(firebaseService)
	}

	var alerter services.BridgeAlerter
	if telegramService != nil {
		alerter = telegramService
	}
	health := services.NewHealthCheckService(cfg, alerter, logger)
	heartbeats := make(chan *models.BridgeHeartbeat, 16)
	presenceEvents := make(chan *models.PresenceEvent, 16)
	presence := services.NewPresenceService(ingestor, cfg.PresenceMinConfidence, logger)

	var mqttBridge *services.MQTTBridge
	if cfg.MQTTEnabled() {
		mqttBridge = services.NewMQTTBridge(cfg, ingestor, heartbeats, presenceEvents, logger)
		if err := mqttBridge.Connect(); err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		automation.AddActuator(mqttBridge)
		devices.AddActuator(mqttBridge)
	}

	if cfg.BridgeEnabled() {
		bridge := services.NewBridgeClient(cfg, logger)
		automation.AddActuator(bridge)
		devices.AddActuator(bridge)
		poller := services.NewBridgePoller(cfg, bridge, ingestor, health, logger)
		watcher.Track(cfg.ESP32UserID)
		run(func() { poller.Start(ctx) })
	}

	var rabbitMQService *services.RabbitMQService
	if cfg.RabbitMQEnabled() {
		rabbitMQService, err = services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		run(func() {
			if err := rabbitMQService.ConsumeReadings(ctx, ingestor); err != nil {
				logger.Error("Readings consumer stopped", zap.Error(err))
			}
		})
		run(func() {
			if err := rabbitMQService.ConsumePresence(ctx, presence); err != nil {
				logger.Error("Presence consumer stopped", zap.Error(err))
			}
		})
	}

	if firebaseService != nil && cfg.ESP32UserID != "" {
		firebaseService.SubscribeToReadings(ctx, cfg.ESP32UserID, cfg.SensorPollInterval, ingestor)
	}

	// Maintenance jobs
	scheduler := services.NewScheduler(logger)
	if err := scheduler.Add("weather-refresh", cfg.WeatherRefreshCron, services.WeatherRefreshJob(weather, cfg.WeatherCity)); err != nil {
		logger.Fatal("Failed to schedule weather refresh", zap.Error(err))
	}
	if err := scheduler.Add("alert-prune", "@daily", services.AlertPruneJob(repo, cfg.AlertRetention, logger)); err != nil {
		logger.Fatal("Failed to schedule alert pruning", zap.Error(err))
	}

	run(func() { batchWriter.Start(ctx, readingChan) })
	run(func() { watcher.Start(ctx) })
	run(func() { health.Start(ctx, heartbeats) })
	run(func() { presence.Start(ctx, presenceEvents) })
	run(func() { scheduler.Start(ctx) })

	// HTTP API
	server := httpapi.NewServer(cfg, httpapi.Deps{
		Store:      repo,
		Automation: automation,
		Devices:    devices,
		Watcher:    watcher,
		Weather:    weather,
		Gatherer:   reg,
	}, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if telegramService != nil {
		if err := telegramService.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("SafeKitchen automation service started",
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("telegram", cfg.TelegramEnabled()),
		zap.Bool("firebase", cfg.FirebaseEnabled()),
		zap.Bool("rabbitmq", cfg.RabbitMQEnabled()),
		zap.Bool("mqtt", cfg.MQTTEnabled()),
		zap.Bool("esp32_bridge", cfg.BridgeEnabled()),
		zap.Duration("watch_interval", cfg.WatchInterval),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Cancel context to stop all goroutines
	cancel()

	cleanupDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(cleanupDone)
	}()

	select {
	case <-cleanupDone:
		logger.Info("Cleanup completed successfully")
	case <-time.After(5 * time.Second):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	if mqttBridge != nil {
		mqttBridge.Close()
	}
	if rabbitMQService != nil {
		if err := rabbitMQService.Close(); err != nil {
			logger.Error("Error closing RabbitMQ service", zap.Error(err))
		}
	}

	logger.Info("SafeKitchen automation service stopped")
}

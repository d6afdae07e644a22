package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	LogLevel    string
	JWTSecret   string
	CORSOrigins []string

	// Database
	DBDriver   string
	DBDSN      string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RabbitMQ ingestion
	RabbitMQURL           string
	RabbitMQExchange      string
	RabbitMQQueue         string
	RabbitMQPresenceQueue string

	// MQTT telemetry and actuation
	MQTTBroker      string
	MQTTUser        string
	MQTTPass        string
	MQTTTopicPrefix string

	// Firebase realtime mirror
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	// Telegram notifications
	TelegramBotToken string
	TelegramChatID   string
	AlertThrottle    time.Duration

	// ESP32 bridge
	ESP32URL           string
	ESP32UserID        string
	ESP32Timeout       time.Duration
	ESP32Simulate      bool
	SensorPollInterval time.Duration
	HealthCheckTimeout time.Duration

	// Automation and batching
	WatchInterval time.Duration
	BatchSize     int
	BatchTimeout  time.Duration

	// Weather advisor
	WeatherRefreshCron string
	WeatherCity        string
	WeatherCacheTTL    time.Duration
	OpenMeteoURL       string

	// Camera presence events below this confidence count as absent
	PresenceMinConfidence float64

	AlertRetention time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBDSN:      getEnv("DB_DSN", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "safekitchen"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "safekitchen"),
		RabbitMQQueue:         getEnv("RABBITMQ_QUEUE", "kitchen.readings"),
		RabbitMQPresenceQueue: getEnv("RABBITMQ_PRESENCE_QUEUE", "kitchen.presence"),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTUser:        getEnv("MQTT_USER", ""),
		MQTTPass:        getEnv("MQTT_PASS", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "kitchen"),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertThrottle:    getEnvDuration("ALERT_THROTTLE", 60*time.Second),

		ESP32URL:           getEnv("ESP32_URL", ""),
		ESP32UserID:        getEnv("ESP32_USER_ID", ""),
		ESP32Timeout:       getEnvDuration("ESP32_TIMEOUT", 3*time.Second),
		ESP32Simulate:      getEnvBool("ESP32_SIMULATE", true),
		SensorPollInterval: getEnvDuration("SENSOR_POLL_INTERVAL", 2*time.Second),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 30*time.Second),

		WatchInterval: getEnvDuration("WATCH_INTERVAL", 2*time.Second),
		BatchSize:     getEnvInt("BATCH_SIZE", 50),
		BatchTimeout:  getEnvDuration("BATCH_TIMEOUT", time.Second),

		WeatherRefreshCron: getEnv("WEATHER_REFRESH_CRON", "@every 10m"),
		WeatherCity:        getEnv("WEATHER_CITY", "Delhi"),
		WeatherCacheTTL:    getEnvDuration("WEATHER_CACHE_TTL", 10*time.Minute),
		OpenMeteoURL:       getEnv("OPEN_METEO_URL", ""),

		PresenceMinConfidence: getEnvFloat("PRESENCE_MIN_CONFIDENCE", 0.6),

		AlertRetention: getEnvDuration("ALERT_RETENTION", 30*24*time.Hour),
	}

	if config.DBDSN == "" && config.DBDriver == "sqlite" {
		config.DBDSN = "safekitchen.db"
	}

	return config, nil
}

// Validate reports missing required keys. Optional integrations stay
// disabled when their keys are unset.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if (c.FirebaseDbUrl == "") != (c.FirebaseServiceAccountJSON == "") {
		errs = append(errs, errors.New("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON must be set together"))
	}
	return errors.Join(errs...)
}

func (c *Config) TelegramEnabled() bool { return c.TelegramBotToken != "" && c.TelegramChatID != "" }
func (c *Config) FirebaseEnabled() bool { return c.FirebaseDbUrl != "" && c.FirebaseServiceAccountJSON != "" }
func (c *Config) RabbitMQEnabled() bool { return c.RabbitMQURL != "" }
func (c *Config) MQTTEnabled() bool     { return c.MQTTBroker != "" }
func (c *Config) BridgeEnabled() bool   { return c.ESP32UserID != "" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s") or plain seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvFloat(key, -1); secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

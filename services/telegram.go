package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// messageSender is the part of the bot API used for delivery.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type suppressionKey struct {
	userID    string
	sensor    models.SensorType
	alertType string
}

// TelegramService pushes alerts to a Telegram chat. Repeated alerts with
// the same (user, sensor, alert type) inside the throttle window are dropped;
// stored alerts are not affected.
type TelegramService struct {
	bot      messageSender
	chatID   int64
	throttle time.Duration
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[suppressionKey]time.Time
}

func NewTelegramService(cfg *config.Config, metrics *Metrics, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	if err := testConnection(bot, logger); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return newTelegramService(bot, chatID, cfg.AlertThrottle, metrics, logger), nil
}

func newTelegramService(bot messageSender, chatID int64, throttle time.Duration, metrics *Metrics, logger *zap.Logger) *TelegramService {
	return &TelegramService{
		bot:      bot,
		chatID:   chatID,
		throttle: throttle,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[suppressionKey]time.Time),
	}
}

// testConnection tests Telegram connection with retry logic
func testConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := bot.GetMe()
		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// NotifyAlert sends a formatted alert unless push notifications are off or
// the same alert was sent within the throttle window.
func (ts *TelegramService) NotifyAlert(_ context.Context, alert models.Alert, prefs models.UserSettings) error {
	if !prefs.IsPushNotificationsEnabled {
		ts.logger.Debug("Push notifications disabled, skipping alert",
			zap.String("user_id", alert.UserID),
			zap.String("alert_type", alert.AlertType))
		return nil
	}

	key := suppressionKey{userID: alert.UserID, sensor: alert.SensorType, alertType: alert.AlertType}
	if !ts.reserve(key) {
		ts.metrics.notificationSuppressed(alert.AlertType)
		ts.logger.Debug("Throttling alert",
			zap.String("user_id", alert.UserID),
			zap.String("alert_type", alert.AlertType))
		return nil
	}

	if err := ts.SendStatusMessage(ts.formatAlertMessage(alert)); err != nil {
		ts.release(key)
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	ts.logger.Info("Sent alert notification",
		zap.String("user_id", alert.UserID),
		zap.String("alert_type", alert.AlertType),
		zap.String("severity", string(alert.Severity)))
	return nil
}

// reserve records a send for key and reports whether it is allowed.
func (ts *TelegramService) reserve(key suppressionKey) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if last, ok := ts.lastSent[key]; ok && now.Sub(last) < ts.throttle {
		return false
	}
	ts.lastSent[key] = now
	return true
}

func (ts *TelegramService) release(key suppressionKey) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.lastSent, key)
}

func (ts *TelegramService) formatAlertMessage(alert models.Alert) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>KITCHEN SAFETY ALERT</b> 🚨\n\n")
	sb.WriteString(fmt.Sprintf("%s %s <b>%s</b>\n", alert.GetSeverityColor(), alert.GetAlertEmoji(), alertTitle(alert.AlertType)))
	sb.WriteString(fmt.Sprintf("👤 <b>User:</b> <code>%s</code>\n", html.EscapeString(alert.UserID)))
	sb.WriteString(fmt.Sprintf("📊 <b>%s:</b> %s\n", sensorLabel(alert.SensorType), formatSensorValue(alert.SensorType, alert.SensorValue)))
	sb.WriteString(fmt.Sprintf("⚠️ <b>Severity:</b> %s\n", strings.ToUpper(string(alert.Severity))))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", alert.CreatedAt.Format("2006-01-02 15:04:05")))

	if alert.Message != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", html.EscapeString(alert.Message)))
	}

	if alert.Severity == models.SeverityInfo {
		sb.WriteString("\n🟢 <b>Status:</b> BACK TO NORMAL")
	} else {
		sb.WriteString("\n🔴 <b>Status:</b> ATTENTION REQUIRED")
	}
	return sb.String()
}

func alertTitle(alertType string) string {
	switch alertType {
	case "gas_critical":
		return "Gas Leak Detected"
	case "gas_elevated":
		return "Elevated Gas Level"
	case "gas_normal":
		return "Gas Levels Normal"
	case "fire_detected":
		return "Fire Detected"
	case "temperature_high":
		return "High Temperature"
	case "child_safety_lock":
		return "Child Safety Lock Engaged"
	}
	if sensor, ok := strings.CutSuffix(alertType, "_threshold_exceeded"); ok {
		return sensorLabel(models.SensorType(sensor)) + " Threshold Exceeded"
	}
	return "Kitchen Alert"
}

func sensorLabel(sensor models.SensorType) string {
	switch sensor {
	case models.SensorLPG:
		return "LPG"
	case models.SensorCO:
		return "CO"
	case models.SensorTemperature:
		return "Temperature"
	case models.SensorFlame:
		return "Flame"
	case models.SensorChildDetected:
		return "Child Presence"
	}
	return string(sensor)
}

func formatSensorValue(sensor models.SensorType, v float64) string {
	if sensor.IsPresence() {
		if v >= 1 {
			return "detected"
		}
		return "clear"
	}
	return fmt.Sprintf("%.1f %s", v, sensor.DefaultUnit())
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage() error {
	message := "🟢 <b>SafeKitchen Automation Started</b>\n\n" +
		"🔥 Watching gas, fire, temperature and child presence\n" +
		"🤖 Telegram notifications active\n\n" +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}

// SendBridgeTimeoutAlert sends an alert when a bridge stops reporting
func (ts *TelegramService) SendBridgeTimeoutAlert(bridgeID string, lastSeen time.Time, timeSinceLastSeen time.Duration, last *models.BridgeHeartbeat) error {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>SENSOR BRIDGE TIMEOUT</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Bridge:</b> %s\n", html.EscapeString(bridgeID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", lastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n\n", formatDuration(timeSinceLastSeen)))

	if last != nil {
		sb.WriteString("📊 <b>Last Known Status:</b>\n")
		sb.WriteString(fmt.Sprintf("📡 WiFi: %s\n", formatConnectionStatus(last.WiFiConnected)))
		if last.UptimeMs > 0 {
			sb.WriteString(fmt.Sprintf("⏰ Uptime: %s\n", formatUptime(last.UptimeMs)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("💡 Readings may be simulated until the bridge reconnects.\n\n")
	sb.WriteString("🔴 <b>Status:</b> BRIDGE OFFLINE")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending bridge timeout alert: %w", err)
	}

	ts.logger.Info("Sent bridge timeout alert",
		zap.String("bridge_id", bridgeID),
		zap.Duration("time_since_last_seen", timeSinceLastSeen))
	return nil
}

// SendBridgeRecoveryAlert sends an alert when a bridge recovers from timeout
func (ts *TelegramService) SendBridgeRecoveryAlert(bridgeID string, downDuration time.Duration) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>SENSOR BRIDGE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Bridge:</b> %s\n", html.EscapeString(bridgeID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", ts.now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downDuration)))
	sb.WriteString("🟢 <b>Status:</b> BRIDGE ONLINE")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending bridge recovery alert: %w", err)
	}

	ts.logger.Info("Sent bridge recovery alert",
		zap.String("bridge_id", bridgeID),
		zap.Duration("down_duration", downDuration))
	return nil
}

func formatConnectionStatus(connected bool) string {
	if connected {
		return "✅ Connected"
	}
	return "❌ Disconnected"
}

func formatUptime(uptimeMs int64) string {
	return formatDuration(time.Duration(uptimeMs) * time.Millisecond)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}

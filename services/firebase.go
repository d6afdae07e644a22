package services

import (
	"context"
	"fmt"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Realtime Database layout shared with the mobile client.
const (
	firebaseAlertsRoot   = "alerts"
	firebaseDevicesRoot  = "devices"
	firebaseReadingsRoot = "sensor-readings"
)

// mirrorStore is the subset of the Realtime Database used by the mirror.
type mirrorStore interface {
	Set(ctx context.Context, path string, v interface{}) error
	Get(ctx context.Context, path string, v interface{}) error
	GetNewerThan(ctx context.Context, path, child string, since string, v interface{}) error
}

type rtdb struct {
	client *db.Client
}

func (r rtdb) Set(ctx context.Context, path string, v interface{}) error {
	return r.client.NewRef(path).Set(ctx, v)
}

func (r rtdb) Get(ctx context.Context, path string, v interface{}) error {
	return r.client.NewRef(path).Get(ctx, v)
}

func (r rtdb) GetNewerThan(ctx context.Context, path, child, since string, v interface{}) error {
	return r.client.NewRef(path).OrderByChild(child).StartAt(since).Get(ctx, v)
}

// FirebaseService mirrors alerts and device states to the Realtime
// Database and can poll readings pushed there by the firmware.
type FirebaseService struct {
	store  mirrorStore
	logger *zap.Logger
}

func NewFirebaseService(cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	ctx := context.Background()

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseService{
		store:  rtdb{client: client},
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var data interface{}
		err := fs.store.Get(ctx, "/.info/serverTimeOffset", &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

type mirroredAlert struct {
	ID          uint    `json:"id"`
	AlertType   string  `json:"alert_type"`
	Severity    string  `json:"severity"`
	SensorType  string  `json:"sensor_type"`
	SensorValue float64 `json:"sensor_value"`
	Message     string  `json:"message,omitempty"`
	IsResolved  bool    `json:"is_resolved"`
	CreatedAt   string  `json:"created_at"`
}

type mirroredDevice struct {
	IsOn      bool   `json:"is_on"`
	UpdatedAt string `json:"updated_at"`
}

func alertPath(a models.Alert) string {
	return fmt.Sprintf("%s/%s/%s", firebaseAlertsRoot, a.UserID, a.EventID.String())
}

func devicePath(userID, device string) string {
	return fmt.Sprintf("%s/%s/%s", firebaseDevicesRoot, userID, device)
}

// NotifyAlert mirrors the stored alert under alerts/<user>/<event id>.
func (fs *FirebaseService) NotifyAlert(ctx context.Context, alert models.Alert, _ models.UserSettings) error {
	rec := mirroredAlert{
		ID:          alert.ID,
		AlertType:   alert.AlertType,
		Severity:    string(alert.Severity),
		SensorType:  string(alert.SensorType),
		SensorValue: alert.SensorValue,
		Message:     alert.Message,
		IsResolved:  alert.IsResolved,
		CreatedAt:   alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := fs.store.Set(ctx, alertPath(alert), rec); err != nil {
		return fmt.Errorf("mirror alert: %w", err)
	}
	return nil
}

// Actuate mirrors a device state under devices/<user>/<device>.
func (fs *FirebaseService) Actuate(ctx context.Context, userID, device string, on bool) error {
	rec := mirroredDevice{IsOn: on, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	if err := fs.store.Set(ctx, devicePath(userID, device), rec); err != nil {
		return fmt.Errorf("mirror device state: %w", err)
	}
	return nil
}

// SubscribeToReadings polls sensor-readings/<user> for records newer than
// the last checkpoint and submits them to the ingestor.
func (fs *FirebaseService) SubscribeToReadings(ctx context.Context, userID string, interval time.Duration, ingestor *Ingestor) {
	path := fmt.Sprintf("%s/%s", firebaseReadingsRoot, userID)
	lastReadTime := time.Now().Add(-1 * time.Minute)
	processed := make(map[string]bool)

	go func() {
		defer fs.logger.Info("Firebase polling stopped")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fs.logger.Info("Starting Firebase reading polling", zap.String("path", path))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var data map[string]interface{}
				if err := fs.store.GetNewerThan(ctx, path, "timestamp", lastReadTime.Format(time.RFC3339), &data); err != nil {
					fs.logger.Error("Error getting sensor readings", zap.Error(err))
					continue
				}

				for id, raw := range data {
					if processed[id] {
						continue
					}
					m, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					reading := fs.parseReading(id, userID, m)
					if reading == nil || !reading.CreatedAt.After(lastReadTime) {
						continue
					}
					processed[id] = true
					if err := ingestor.Submit(ctx, reading, SourceFirebase); err != nil {
						fs.logger.Warn("Rejected mirrored reading", zap.String("record_id", id), zap.Error(err))
						continue
					}
					if reading.CreatedAt.After(lastReadTime) {
						lastReadTime = reading.CreatedAt
					}
				}

				if len(processed) > 500 {
					processed = make(map[string]bool)
				}
			}
		}
	}()
}

// parseReading converts a Realtime Database record to a reading
func (fs *FirebaseService) parseReading(recordID, userID string, data map[string]interface{}) *models.SensorReading {
	sensor, sensorOk := data["sensor_type"].(string)
	value, valueOk := data["value"].(float64)
	timestampStr, timeOk := data["timestamp"].(string)
	unit, _ := data["unit"].(string)

	if !sensorOk || !valueOk || !timeOk {
		fs.logger.Warn("Invalid sensor reading format", zap.String("record_id", recordID))
		return nil
	}

	timestamp, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		fs.logger.Warn("Invalid timestamp format",
			zap.String("record_id", recordID),
			zap.Error(err))
		return nil
	}

	return &models.SensorReading{
		UserID:     userID,
		SensorType: models.SensorType(sensor),
		Value:      value,
		Unit:       unit,
		CreatedAt:  timestamp.UTC(),
	}
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"safekitchen/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a user-scoped row does not exist.
var ErrNotFound = errors.New("not found")

// Repo is the relational persistence layer for readings, settings, rules,
// device states and alerts.
type Repo struct {
	db *gorm.DB
}

// Open connects to the configured database driver. gorm's own log output
// goes through logger.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: NewGormLogger(logger)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewGormLogger reports gorm warnings, errors and slow queries through zap.
// Missing rows are an expected lookup result and are not logged.
func NewGormLogger(logger *zap.Logger) gormlogger.Interface {
	return gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// PostgresDSN builds a DSN from its parts.
func PostgresDSN(user, password, dbName, host, port, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
}

// New migrates the schema and returns a repo.
func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(
		&models.SensorReading{},
		&models.UserSettings{},
		&models.AutomationRule{},
		&models.DeviceState{},
		&models.Alert{},
	); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Ping checks database connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- readings ----

// AppendReading inserts one reading.
func (r *Repo) AppendReading(ctx context.Context, reading *models.SensorReading) error {
	return r.db.WithContext(ctx).Create(reading).Error
}

// AppendReadings inserts a batch of readings in one statement.
func (r *Repo) AppendReadings(ctx context.Context, readings []*models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(readings).Error
}

// LatestReadings returns the newest reading (max id) per sensor type,
// ordered by sensor type.
func (r *Repo) LatestReadings(ctx context.Context, userID string) ([]models.SensorReading, error) {
	latest := r.db.Model(&models.SensorReading{}).
		Select("MAX(id)").
		Where("user_id = ?", userID).
		Group("sensor_type")

	var rows []models.SensorReading
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN (?)", userID, latest).
		Order("sensor_type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UsersWithReadingsSince lists users that reported readings after since.
func (r *Repo) UsersWithReadingsSince(ctx context.Context, since time.Time) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&models.SensorReading{}).
		Where("created_at > ?", since).
		Distinct().
		Pluck("user_id", &users).Error
	return users, err
}

// ---- settings ----

// GetSettings returns the user's settings or ErrNotFound.
func (r *Repo) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var s models.UserSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserSettings{}, ErrNotFound
	}
	return s, err
}

// UpsertSettings inserts or replaces the user's settings row.
func (r *Repo) UpsertSettings(ctx context.Context, s *models.UserSettings) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"lpg_threshold", "co_threshold", "temp_threshold",
			"is_email_notifications_enabled", "is_push_notifications_enabled", "is_sms_notifications_enabled",
			"emergency_contact_name", "emergency_contact_phone", "emergency_contact_email",
			"updated_at",
		}),
	}).Create(s).Error
}

// ---- rules ----

// ListRules returns every rule of the user ordered by id.
func (r *Repo) ListRules(ctx context.Context, userID string) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error
	return rows, err
}

// ListEnabledRules returns the enabled rules of the user ordered by id.
func (r *Repo) ListEnabledRules(ctx context.Context, userID string) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_enabled = ?", userID, true).
		Order("id").
		Find(&rows).Error
	return rows, err
}

// ListEnabledRulesForSensor narrows ListEnabledRules to one trigger sensor.
func (r *Repo) ListEnabledRulesForSensor(ctx context.Context, userID string, sensor models.SensorType) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_enabled = ? AND trigger_sensor = ?", userID, true, sensor).
		Order("id").
		Find(&rows).Error
	return rows, err
}

// CreateRule inserts a rule.
func (r *Repo) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// UpdateRule replaces the mutable fields of a rule owned by rule.UserID.
func (r *Repo) UpdateRule(ctx context.Context, rule *models.AutomationRule) error {
	res := r.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ? AND user_id = ?", rule.ID, rule.UserID).
		Updates(map[string]any{
			"name":              rule.Name,
			"trigger_sensor":    rule.TriggerSensor,
			"trigger_condition": rule.TriggerCondition,
			"trigger_threshold": rule.TriggerThreshold,
			"action_device":     rule.ActionDevice,
			"action_state":      rule.ActionState,
			"is_enabled":        rule.IsEnabled,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule owned by the user.
func (r *Repo) DeleteRule(ctx context.Context, userID string, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.AutomationRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- device states ----

// GetDeviceState returns one device row or ErrNotFound.
func (r *Repo) GetDeviceState(ctx context.Context, userID, device string) (models.DeviceState, error) {
	var st models.DeviceState
	err := r.db.WithContext(ctx).Where("user_id = ? AND device_type = ?", userID, device).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DeviceState{}, ErrNotFound
	}
	return st, err
}

// ListDeviceStates returns the user's devices ordered by type.
func (r *Repo) ListDeviceStates(ctx context.Context, userID string) ([]models.DeviceState, error) {
	var rows []models.DeviceState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("device_type").Find(&rows).Error
	return rows, err
}

// UpsertDeviceState writes the (user, device) row; last write wins.
func (r *Repo) UpsertDeviceState(ctx context.Context, st *models.DeviceState) error {
	if st.LastStateChangeAt.IsZero() {
		st.LastStateChangeAt = time.Now().UTC()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.LastStateChangeAt
	}
	st.UpdatedAt = st.LastStateChangeAt
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_on", "is_manual_override", "last_state_change_at", "updated_at"}),
	}).Create(st).Error
}

// ---- alerts ----

// AppendAlert inserts an alert. Alerts are never deduplicated here.
func (r *Repo) AppendAlert(ctx context.Context, a *models.Alert) error {
	if a.EventID == uuid.Nil {
		a.EventID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(a).Error
}

// ListAlerts returns the newest alerts of the user.
func (r *Repo) ListAlerts(ctx context.Context, userID string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	var rows []models.Alert
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountAlerts counts the user's alerts, optionally only unresolved ones.
func (r *Repo) CountAlerts(ctx context.Context, userID string, unresolvedOnly bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Alert{}).Where("user_id = ?", userID)
	if unresolvedOnly {
		q = q.Where("is_resolved = ?", false)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ResolveAlert marks an alert resolved.
func (r *Repo) ResolveAlert(ctx context.Context, userID string, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"is_resolved": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlert dismisses an alert.
func (r *Repo) DeleteAlert(ctx context.Context, userID string, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Alert{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneResolvedAlerts deletes resolved alerts created before the cutoff.
func (r *Repo) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_resolved = ? AND created_at < ?", true, before).
		Delete(&models.Alert{})
	return res.RowsAffected, res.Error
}

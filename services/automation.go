package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safekitchen/engine"
	"safekitchen/models"
	"safekitchen/store"

	"go.uber.org/zap"
)

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrChildLocked is returned for manual device control while the child lock is set.
	ErrChildLocked = errors.New("device control is locked while child lock is active")
)

// Store is the persistence surface the automation services need.
// *store.Repo satisfies it.
type Store interface {
	AppendReading(ctx context.Context, reading *models.SensorReading) error
	AppendReadings(ctx context.Context, readings []*models.SensorReading) error
	LatestReadings(ctx context.Context, userID string) ([]models.SensorReading, error)

	GetSettings(ctx context.Context, userID string) (models.UserSettings, error)
	UpsertSettings(ctx context.Context, s *models.UserSettings) error

	ListRules(ctx context.Context, userID string) ([]models.AutomationRule, error)
	ListEnabledRules(ctx context.Context, userID string) ([]models.AutomationRule, error)
	ListEnabledRulesForSensor(ctx context.Context, userID string, sensor models.SensorType) ([]models.AutomationRule, error)
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
	UpdateRule(ctx context.Context, rule *models.AutomationRule) error
	DeleteRule(ctx context.Context, userID string, id uint) error

	ListDeviceStates(ctx context.Context, userID string) ([]models.DeviceState, error)
	UpsertDeviceState(ctx context.Context, st *models.DeviceState) error

	AppendAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, userID string, limit int) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, userID string, id uint) error
	DeleteAlert(ctx context.Context, userID string, id uint) error
}

// AlertNotifier is told about every alert after it has been stored.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert models.Alert, prefs models.UserSettings) error
}

// Actuator drives a physical device after its state row has been written.
type Actuator interface {
	Actuate(ctx context.Context, userID, device string, on bool) error
}

// AnalysisResult is the response of a batch evaluation.
type AnalysisResult struct {
	AbnormalReadings    []models.AbnormalReading `json:"abnormalReadings"`
	TriggeredActions    []models.TriggeredAction `json:"triggeredActions"`
	HasAbnormalReadings bool                     `json:"hasAbnormalReadings"`
}

// Automation loads snapshots from the store, runs the engine and applies
// the resulting transitions.
type Automation struct {
	store     Store
	notifiers []AlertNotifier
	actuators []Actuator
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewAutomation creates the automation service
func NewAutomation(st Store, metrics *Metrics, logger *zap.Logger) *Automation {
	return &Automation{
		store:   st,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddNotifier registers an alert notifier.
func (a *Automation) AddNotifier(n AlertNotifier) {
	a.notifiers = append(a.notifiers, n)
}

// AddActuator registers a device actuator.
func (a *Automation) AddActuator(act Actuator) {
	a.actuators = append(a.actuators, act)
}

// Settings returns the stored settings or the defaults when none were saved.
func (a *Automation) Settings(ctx context.Context, userID string) (models.UserSettings, error) {
	s, err := a.store.GetSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return models.UserSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Snapshot loads everything one evaluation needs.
func (a *Automation) Snapshot(ctx context.Context, userID string) (engine.Snapshot, models.UserSettings, error) {
	readings, err := a.store.LatestReadings(ctx, userID)
	if err != nil {
		return engine.Snapshot{}, models.UserSettings{}, fmt.Errorf("load latest readings: %w", err)
	}
	settings, err := a.Settings(ctx, userID)
	if err != nil {
		return engine.Snapshot{}, models.UserSettings{}, err
	}
	rules, err := a.store.ListEnabledRules(ctx, userID)
	if err != nil {
		return engine.Snapshot{}, models.UserSettings{}, fmt.Errorf("load rules: %w", err)
	}
	states, err := a.store.ListDeviceStates(ctx, userID)
	if err != nil {
		return engine.Snapshot{}, models.UserSettings{}, fmt.Errorf("load device states: %w", err)
	}

	devices := make(map[string]models.DeviceState, len(states))
	for _, st := range states {
		devices[st.DeviceType] = st
	}
	return engine.Snapshot{
		UserID:     userID,
		Readings:   readings,
		Thresholds: settings.Thresholds(),
		Rules:      rules,
		Devices:    devices,
	}, settings, nil
}

// Analyze runs the stateless batch evaluator over the latest readings.
// Repeated calls while a reading stays abnormal append a new alert each time.
func (a *Automation) Analyze(ctx context.Context, userID string) (AnalysisResult, error) {
	snap, settings, err := a.Snapshot(ctx, userID)
	if err != nil {
		a.metrics.evaluated("stateless", "error")
		return AnalysisResult{}, err
	}

	res := engine.Evaluate(snap, engine.Stateless(), a.now())
	if err := a.apply(ctx, userID, settings, res, "rule"); err != nil {
		a.metrics.evaluated("stateless", "error")
		return AnalysisResult{}, err
	}
	a.metrics.evaluated("stateless", "ok")

	out := AnalysisResult{
		AbnormalReadings:    res.AbnormalReadings,
		TriggeredActions:    res.TriggeredActions,
		HasAbnormalReadings: res.HasAbnormalReadings(),
	}
	if out.AbnormalReadings == nil {
		out.AbnormalReadings = []models.AbnormalReading{}
	}
	if out.TriggeredActions == nil {
		out.TriggeredActions = []models.TriggeredAction{}
	}
	return out, nil
}

// Process evaluates a single reading against the user's enabled rules for
// that sensor and applies the matching device writes. No alerts are raised.
func (a *Automation) Process(ctx context.Context, userID string, sensor models.SensorType, value float64) ([]models.TriggeredAction, error) {
	if !sensor.Valid() {
		return nil, fmt.Errorf("%w: unknown sensor_type %q", ErrValidation, sensor)
	}
	rules, err := a.store.ListEnabledRulesForSensor(ctx, userID, sensor)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var res engine.Result
	actions := []models.TriggeredAction{}
	for _, rule := range engine.MatchingRules(sensor, value, rules) {
		res.DeviceWrites = append(res.DeviceWrites, engine.DeviceWrite{DeviceType: rule.ActionDevice, IsOn: engine.TargetState(rule)})
		actions = append(actions, models.TriggeredAction{Device: rule.ActionDevice, Action: rule.ActionState, Trigger: sensor})
	}
	if err := a.apply(ctx, userID, models.UserSettings{}, res, "rule"); err != nil {
		return nil, err
	}
	return actions, nil
}

// Tick runs one streaming evaluation using the caller's edge state. When
// the results cannot be persisted the edge state is left as it was.
func (a *Automation) Tick(ctx context.Context, userID string, edges *engine.EdgeState) (engine.Result, error) {
	snap, settings, err := a.Snapshot(ctx, userID)
	if err != nil {
		a.metrics.evaluated("stateful", "error")
		return engine.Result{}, err
	}
	cp := edges.Checkpoint()
	res := engine.Evaluate(snap, engine.Stateful(edges), a.now())
	if err := a.apply(ctx, userID, settings, res, "safety"); err != nil {
		// Roll back so the unpersisted alerts are raised again next tick.
		edges.Restore(cp)
		a.metrics.evaluated("stateful", "error")
		return res, err
	}
	a.metrics.evaluated("stateful", "ok")
	return res, nil
}

// apply persists device writes then alerts. A store failure aborts the
// remaining writes; actuator and notifier failures are only logged.
func (a *Automation) apply(ctx context.Context, userID string, settings models.UserSettings, res engine.Result, origin string) error {
	now := a.now()
	for _, w := range res.DeviceWrites {
		st := &models.DeviceState{
			UserID:            userID,
			DeviceType:        w.DeviceType,
			IsOn:              w.IsOn,
			IsManualOverride:  false,
			LastStateChangeAt: now,
		}
		if err := a.store.UpsertDeviceState(ctx, st); err != nil {
			return fmt.Errorf("write device %s: %w", w.DeviceType, err)
		}
		a.metrics.deviceWritten(w.DeviceType, w.IsOn, origin)

		for _, act := range a.actuators {
			if err := act.Actuate(ctx, userID, w.DeviceType, w.IsOn); err != nil {
				a.logger.Warn("Failed to actuate device",
					zap.String("user_id", userID),
					zap.String("device", w.DeviceType),
					zap.Bool("is_on", w.IsOn),
					zap.Error(err))
			}
		}
	}

	for i := range res.Alerts {
		alert := res.Alerts[i]
		if err := a.store.AppendAlert(ctx, &alert); err != nil {
			return fmt.Errorf("append alert %s: %w", alert.AlertType, err)
		}
		a.metrics.alertRaised(alert.AlertType, string(alert.Severity))

		a.logger.Warn("Alert raised",
			zap.String("user_id", userID),
			zap.String("alert_type", alert.AlertType),
			zap.String("severity", string(alert.Severity)),
			zap.String("sensor_type", string(alert.SensorType)),
			zap.Float64("sensor_value", alert.SensorValue))

		for _, n := range a.notifiers {
			if err := n.NotifyAlert(ctx, alert, settings); err != nil {
				a.logger.Error("Failed to notify alert",
					zap.String("user_id", userID),
					zap.String("alert_type", alert.AlertType),
					zap.Error(err))
			}
		}
	}
	return nil
}

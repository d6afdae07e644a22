package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"safekitchen/models"

	"go.uber.org/zap"
)

// DeviceStore is the subset of the store used for manual device control.
type DeviceStore interface {
	ListDeviceStates(ctx context.Context, userID string) ([]models.DeviceState, error)
	UpsertDeviceState(ctx context.Context, st *models.DeviceState) error
}

// DeviceController serves manual device toggles and owns the per-user
// child lock. The lock only gates manual control; automated safety writes
// ignore it.
type DeviceController struct {
	store     DeviceStore
	actuators []Actuator
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	locks map[string]bool
}

// NewDeviceController creates a device controller
func NewDeviceController(st DeviceStore, metrics *Metrics, logger *zap.Logger) *DeviceController {
	return &DeviceController{
		store:   st,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]bool),
	}
}

// AddActuator registers a device actuator.
func (c *DeviceController) AddActuator(act Actuator) {
	c.actuators = append(c.actuators, act)
}

// SetChildLock sets or clears the child lock of a user.
func (c *DeviceController) SetChildLock(userID string, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if locked {
		c.locks[userID] = true
	} else {
		delete(c.locks, userID)
	}
	c.logger.Info("Child lock changed", zap.String("user_id", userID), zap.Bool("locked", locked))
}

// ChildLocked reports whether the user's child lock is set.
func (c *DeviceController) ChildLocked(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locks[userID]
}

// Toggle upserts the device row with the caller's override flag.
func (c *DeviceController) Toggle(ctx context.Context, userID, device string, on, manualOverride bool) (models.DeviceState, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return models.DeviceState{}, fmt.Errorf("%w: device_type is required", ErrValidation)
	}
	if c.ChildLocked(userID) {
		return models.DeviceState{}, ErrChildLocked
	}

	st := models.DeviceState{
		UserID:            userID,
		DeviceType:        device,
		IsOn:              on,
		IsManualOverride:  manualOverride,
		LastStateChangeAt: c.now(),
	}
	if err := c.store.UpsertDeviceState(ctx, &st); err != nil {
		return models.DeviceState{}, fmt.Errorf("write device %s: %w", device, err)
	}
	c.metrics.deviceWritten(device, on, "manual")

	for _, act := range c.actuators {
		if err := act.Actuate(ctx, userID, device, on); err != nil {
			c.logger.Warn("Failed to actuate device",
				zap.String("user_id", userID),
				zap.String("device", device),
				zap.Error(err))
		}
	}
	return st, nil
}

// States lists the user's device rows ordered by device type.
func (c *DeviceController) States(ctx context.Context, userID string) ([]models.DeviceState, error) {
	states, err := c.store.ListDeviceStates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list device states: %w", err)
	}
	if states == nil {
		states = []models.DeviceState{}
	}
	return states, nil
}

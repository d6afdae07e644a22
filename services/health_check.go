package services

import (
	"context"
	"sync"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	"go.uber.org/zap"
)

// BridgeAlerter is told when a bridge stops reporting and when it comes back.
type BridgeAlerter interface {
	SendBridgeTimeoutAlert(bridgeID string, lastSeen time.Time, timeSinceLastSeen time.Duration, last *models.BridgeHeartbeat) error
	SendBridgeRecoveryAlert(bridgeID string, downDuration time.Duration) error
}

// HealthCheckService monitors bridge heartbeats and sends alerts for timeouts
type HealthCheckService struct {
	alerter       BridgeAlerter
	logger        *zap.Logger
	timeout       time.Duration
	checkInterval time.Duration
	bridges       map[string]*models.BridgeHealth
	mu            sync.RWMutex
	now           func() time.Time
}

// NewHealthCheckService creates a new health check monitoring service.
// alerter may be nil.
func NewHealthCheckService(cfg *config.Config, alerter BridgeAlerter, logger *zap.Logger) *HealthCheckService {
	timeout := cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HealthCheckService{
		alerter:       alerter,
		logger:        logger,
		timeout:       timeout,
		checkInterval: 10 * time.Second,
		bridges:       make(map[string]*models.BridgeHealth),
		now:           time.Now,
	}
}

// Start begins the health check monitoring process
func (h *HealthCheckService) Start(ctx context.Context, heartbeats <-chan *models.BridgeHeartbeat) {
	h.logger.Info("Starting bridge health monitoring",
		zap.Duration("timeout", h.timeout))

	go h.runTimeoutChecker(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Bridge health monitoring stopped")
			return
		case hb, ok := <-heartbeats:
			if !ok {
				h.logger.Info("Heartbeat channel closed")
				return
			}
			h.RecordHeartbeat(hb)
		}
	}
}

// RecordHeartbeat updates the health status for a bridge
func (h *HealthCheckService) RecordHeartbeat(hb *models.BridgeHeartbeat) {
	h.mu.Lock()
	now := h.now()

	bridge, exists := h.bridges[hb.BridgeID]
	if !exists {
		bridge = &models.BridgeHealth{
			BridgeID: hb.BridgeID,
			Status:   models.BridgeHealthy,
		}
		h.bridges[hb.BridgeID] = bridge
		h.logger.Info("New bridge registered for health monitoring",
			zap.String("bridge_id", hb.BridgeID),
			zap.String("user_id", hb.UserID))
	}

	wasTimeout := bridge.Status == models.BridgeTimeout
	bridge.LastHeartbeat = hb
	bridge.LastSeen = now
	bridge.Status = models.BridgeHealthy
	timeoutAt := bridge.TimeoutAt
	h.mu.Unlock()

	if !wasTimeout {
		return
	}

	bridgeDown := now.Sub(timeoutAt)
	h.logger.Info("Bridge recovered from timeout",
		zap.String("bridge_id", hb.BridgeID),
		zap.Duration("down_duration", bridgeDown))

	if h.alerter != nil {
		if err := h.alerter.SendBridgeRecoveryAlert(hb.BridgeID, bridgeDown); err != nil {
			h.logger.Error("Failed to send recovery alert",
				zap.String("bridge_id", hb.BridgeID),
				zap.Error(err))
		}
	}
}

// runTimeoutChecker periodically checks for bridge timeouts
func (h *HealthCheckService) runTimeoutChecker(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckTimeouts()
		}
	}
}

type timedOutBridge struct {
	id       string
	lastSeen time.Time
	since    time.Duration
	last     *models.BridgeHeartbeat
}

// CheckTimeouts marks silent bridges as timed out and alerts once per outage.
func (h *HealthCheckService) CheckTimeouts() {
	h.mu.Lock()
	now := h.now()
	var timedOut []timedOutBridge
	for id, bridge := range h.bridges {
		if bridge.Status == models.BridgeTimeout {
			continue
		}
		since := now.Sub(bridge.LastSeen)
		if since > h.timeout {
			bridge.Status = models.BridgeTimeout
			bridge.TimeoutAt = now
			timedOut = append(timedOut, timedOutBridge{id: id, lastSeen: bridge.LastSeen, since: since, last: bridge.LastHeartbeat})
		}
	}
	h.mu.Unlock()

	for _, b := range timedOut {
		h.logger.Warn("Bridge heartbeat timeout detected",
			zap.String("bridge_id", b.id),
			zap.Time("last_seen", b.lastSeen),
			zap.Duration("time_since_last_seen", b.since))

		if h.alerter == nil {
			continue
		}
		if err := h.alerter.SendBridgeTimeoutAlert(b.id, b.lastSeen, b.since, b.last); err != nil {
			h.logger.Error("Failed to send timeout alert",
				zap.String("bridge_id", b.id),
				zap.Error(err))
		}
	}
}

// GetBridgeHealth returns a copy of the current health status of a bridge
func (h *HealthCheckService) GetBridgeHealth(bridgeID string) (models.BridgeHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bridge, exists := h.bridges[bridgeID]
	if !exists {
		return models.BridgeHealth{}, false
	}
	return *bridge, true
}

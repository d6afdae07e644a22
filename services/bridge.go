package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	"go.uber.org/zap"
)

// BridgeMetrics is the payload served by the ESP32 at /api/sensors.
type BridgeMetrics struct {
	Fire  float64  `json:"fire"`
	Gas   float64  `json:"gas"`
	Temp  float64  `json:"temp"`
	CO    *float64 `json:"co,omitempty"`
	Child *float64 `json:"child_detected,omitempty"`
}

// Readings converts the payload into readings for userID.
func (m BridgeMetrics) Readings(userID, source string, at time.Time) []*models.SensorReading {
	mk := func(sensor models.SensorType, v float64) *models.SensorReading {
		return &models.SensorReading{
			UserID:     userID,
			SensorType: sensor,
			Value:      v,
			Unit:       sensor.DefaultUnit(),
			Source:     source,
			CreatedAt:  at,
		}
	}
	out := []*models.SensorReading{
		mk(models.SensorFlame, m.Fire),
		mk(models.SensorLPG, m.Gas),
		mk(models.SensorTemperature, m.Temp),
	}
	if m.CO != nil {
		out = append(out, mk(models.SensorCO, *m.CO))
	}
	if m.Child != nil {
		out = append(out, mk(models.SensorChildDetected, *m.Child))
	}
	return out
}

// devicePayload is the actuation body the firmware accepts.
type devicePayload struct {
	IsOn bool `json:"is_on"`
}

// BridgeClient talks to the ESP32 HTTP bridge. When the bridge cannot be
// reached it can fall back to simulated readings.
type BridgeClient struct {
	logger     *zap.Logger
	baseURL    string
	bridgeID   string
	simulate   bool
	httpClient *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewBridgeClient creates a new bridge client
func NewBridgeClient(cfg *config.Config, logger *zap.Logger) *BridgeClient {
	timeout := cfg.ESP32Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BridgeClient{
		logger:   logger,
		baseURL:  strings.TrimRight(cfg.ESP32URL, "/"),
		bridgeID: "esp32-" + cfg.ESP32UserID,
		simulate: cfg.ESP32Simulate,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID identifies the bridge for health tracking.
func (b *BridgeClient) ID() string { return b.bridgeID }

// FetchMetrics reads the current metrics from the bridge.
func (b *BridgeClient) FetchMetrics(ctx context.Context) (BridgeMetrics, error) {
	if b.baseURL == "" {
		return BridgeMetrics{}, fmt.Errorf("bridge url not configured")
	}

	endpoint := fmt.Sprintf("%s/api/sensors", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return BridgeMetrics{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "SafeKitchen-Service/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return BridgeMetrics{}, fmt.Errorf("failed to reach bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BridgeMetrics{}, fmt.Errorf("bridge API error: %s", resp.Status)
	}

	var m BridgeMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return BridgeMetrics{}, fmt.Errorf("failed to decode bridge metrics: %w", err)
	}
	return m, nil
}

// Simulate generates a plausible reading set: flame with a 5% chance,
// gas in [0,100) and temperature in [20,45).
func (b *BridgeClient) Simulate() BridgeMetrics {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()

	var fire float64
	if b.rng.Float64() > 0.95 {
		fire = 1
	}
	return BridgeMetrics{
		Fire: fire,
		Gas:  b.rng.Float64() * 100,
		Temp: 20 + b.rng.Float64()*25,
	}
}

// Read returns live metrics, or simulated ones when the bridge is down and
// simulation is enabled. simulated reports which one was returned.
func (b *BridgeClient) Read(ctx context.Context) (m BridgeMetrics, simulated bool, err error) {
	m, err = b.FetchMetrics(ctx)
	if err == nil {
		return m, false, nil
	}
	if !b.simulate {
		return BridgeMetrics{}, false, err
	}
	b.logger.Debug("Bridge unavailable, using simulated readings", zap.Error(err))
	return b.Simulate(), true, nil
}

// Actuate posts the device state to the bridge. Failures are logged and
// swallowed since the state row is already authoritative.
func (b *BridgeClient) Actuate(ctx context.Context, userID, device string, on bool) error {
	if b.baseURL == "" {
		return nil
	}

	body, err := json.Marshal(devicePayload{IsOn: on})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/device/%s", b.baseURL, device)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SafeKitchen-Service/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn("ESP32 offline",
			zap.String("user_id", userID),
			zap.String("device", device),
			zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Warn("ESP32 rejected device command",
			zap.String("user_id", userID),
			zap.String("device", device),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	b.logger.Info("Device command sent to ESP32",
		zap.String("user_id", userID),
		zap.String("device", device),
		zap.Bool("is_on", on))
	return nil
}

// BridgePoller periodically reads the bridge and feeds the ingestor.
type BridgePoller struct {
	client   *BridgeClient
	ingestor *Ingestor
	health   *HealthCheckService
	userID   string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewBridgePoller creates a poller for the bridge of cfg.ESP32UserID.
func NewBridgePoller(cfg *config.Config, client *BridgeClient, ingestor *Ingestor, health *HealthCheckService, logger *zap.Logger) *BridgePoller {
	interval := cfg.SensorPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BridgePoller{
		client:   client,
		ingestor: ingestor,
		health:   health,
		userID:   cfg.ESP32UserID,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start polls until ctx is done
func (p *BridgePoller) Start(ctx context.Context) {
	p.logger.Info("Starting bridge poller",
		zap.String("user_id", p.userID),
		zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Bridge poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs one read and submit cycle.
func (p *BridgePoller) PollOnce(ctx context.Context) {
	m, simulated, err := p.client.Read(ctx)
	if err != nil {
		p.logger.Warn("Bridge read failed", zap.Error(err))
		return
	}

	now := p.now()
	source := SourceESP32
	if simulated {
		source = SourceSimulated
	} else if p.health != nil {
		p.health.RecordHeartbeat(&models.BridgeHeartbeat{
			BridgeID:      p.client.ID(),
			UserID:        p.userID,
			Timestamp:     now,
			WiFiConnected: true,
		})
	}

	if err := p.ingestor.SubmitAll(ctx, m.Readings(p.userID, source, now), source); err != nil {
		p.logger.Error("Failed to submit bridge readings", zap.Error(err))
	}
}

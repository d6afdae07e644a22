package models

import (
	"time"
)

// BridgeHealthStatus represents the reachability of an ESP32 sensor bridge
type BridgeHealthStatus string

const (
	BridgeHealthy   BridgeHealthStatus = "healthy"
	BridgeTimeout   BridgeHealthStatus = "timeout"
	BridgeRecovered BridgeHealthStatus = "recovered"
)

// BridgeHeartbeat is reported every time a bridge delivers real readings
// or publishes a status message
type BridgeHeartbeat struct {
	BridgeID      string    `json:"bridge_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
	WiFiConnected bool      `json:"wifi_connected"`
	UptimeMs      int64     `json:"uptime_ms"`
}

// BridgeHealth tracks the health state of a bridge
type BridgeHealth struct {
	BridgeID      string
	LastHeartbeat *BridgeHeartbeat
	LastSeen      time.Time
	Status        BridgeHealthStatus
	TimeoutAt     time.Time // When the bridge timed out (if applicable)
}

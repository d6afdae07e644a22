package models

import "time"

// PresenceEvent is published by the kitchen camera when it detects (or
// stops detecting) a child near the stove
type PresenceEvent struct {
	UserID     string    `json:"user_id"`
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

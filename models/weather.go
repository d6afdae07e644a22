package models

import "time"

// WeatherSource tells whether a report came from the live API
type WeatherSource string

const (
	WeatherSourceLive     WeatherSource = "open-meteo"
	WeatherSourceFallback WeatherSource = "fallback"
)

// WeatherReport is the outdoor condition for a city
type WeatherReport struct {
	City        string        `json:"city"`
	OutsideTemp float64       `json:"outside_temp"`
	Condition   string        `json:"condition"`
	Source      WeatherSource `json:"source"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Error       string        `json:"error,omitempty"`
}

// RecommendedThresholds is the advisor's suggestion; it is never applied automatically
type RecommendedThresholds struct {
	GasThreshold  float64 `json:"gas_threshold"`
	TempThreshold float64 `json:"temp_threshold"`
}

// ThresholdAdvice combines the weather report with the seasonal recommendation
type ThresholdAdvice struct {
	Weather     WeatherReport         `json:"weather"`
	Season      string                `json:"season"`
	Risk        string                `json:"risk"`
	Note        string                `json:"note"`
	Recommended RecommendedThresholds `json:"recommended"`
	Message     string                `json:"message"`
}

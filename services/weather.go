package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"safekitchen/models"

	"go.uber.org/zap"
)

// DefaultOpenMeteoURL is the forecast endpoint of the public Open-Meteo API.
const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

const (
	fallbackOutsideTemp = 31.0
	fallbackCondition   = "Clear"
	fallbackError       = "Live weather unavailable. Using safe fallback profile."
	defaultIndoorTemp   = 28.0
)

type coordinates struct {
	lat, lon float64
}

var supportedCities = map[string]coordinates{
	"Delhi":     {28.6139, 77.2090},
	"Mumbai":    {19.0760, 72.8777},
	"Bengaluru": {12.9716, 77.5946},
	"Chennai":   {13.0827, 80.2707},
	"Kolkata":   {22.5726, 88.3639},
}

type seasonProfile struct {
	gas, temp float64
	note      string
}

var seasonProfiles = map[string]seasonProfile{
	"winter":  {42, 48, "Cool season: lower gas threshold for safer kitchen ventilation."},
	"summer":  {55, 58, "Summer heat: keep higher temperature tolerance and strong fan automation."},
	"monsoon": {45, 50, "Monsoon humidity: medium thresholds with camera supervision."},
	"spring":  {48, 52, "Spring balance: maintain standard thresholds with AI watch."},
}

// SeasonFor maps a calendar month to the advisor's season.
func SeasonFor(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April:
		return "spring"
	case time.June, time.July, time.August, time.September:
		return "monsoon"
	default:
		return "summer"
	}
}

// ConditionFor maps a WMO weather code to a coarse condition.
func ConditionFor(code int) string {
	switch {
	case code >= 61:
		return "Rain"
	case code >= 45:
		return "Fog"
	case code >= 2:
		return "Cloudy"
	default:
		return "Clear"
	}
}

// roundHalfUp rounds .5 toward positive infinity.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Recommend derives advisory thresholds from the weather and the indoor
// temperature. It never changes stored settings.
func Recommend(report models.WeatherReport, indoor float64, now time.Time) models.ThresholdAdvice {
	season := SeasonFor(now.Month())
	profile := seasonProfiles[season]
	delta := report.OutsideTemp - indoor
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		delta = 0
	}

	rec := models.RecommendedThresholds{
		GasThreshold:  math.Max(35, roundHalfUp(profile.gas+delta*0.3)),
		TempThreshold: math.Max(42, roundHalfUp(profile.temp+delta*0.4)),
	}

	risk := "Low"
	if report.Condition == "Rain" {
		risk = "Medium"
	} else if indoor > rec.TempThreshold {
		risk = "High"
	}

	return models.ThresholdAdvice{
		Weather:     report,
		Season:      season,
		Risk:        risk,
		Note:        profile.note,
		Recommended: rec,
		Message: fmt.Sprintf("AI tuned for %s: keep gas at %.0f ppm and temperature at %.0f°C.",
			season, rec.GasThreshold, rec.TempThreshold),
	}
}

type openMeteoResponse struct {
	Current struct {
		Temperature2m *float64 `json:"temperature_2m"`
		WeatherCode   *int     `json:"weather_code"`
	} `json:"current"`
}

type weatherEntry struct {
	report    models.WeatherReport
	expiresAt time.Time
}

// WeatherAdvisor fetches outdoor weather for the supported cities and turns
// it into threshold advice. Live reports are cached for ttl.
type WeatherAdvisor struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]weatherEntry
}

// NewWeatherAdvisor creates an advisor against baseURL (DefaultOpenMeteoURL when empty).
func NewWeatherAdvisor(baseURL string, ttl time.Duration, logger *zap.Logger) *WeatherAdvisor {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &WeatherAdvisor{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		cache:  make(map[string]weatherEntry),
	}
}

// Cities lists the supported city names in alphabetical order.
func (w *WeatherAdvisor) Cities() []string {
	out := make([]string, 0, len(supportedCities))
	for name := range supportedCities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func canonicalCity(city string) (string, coordinates, bool) {
	for name, c := range supportedCities {
		if strings.EqualFold(name, strings.TrimSpace(city)) {
			return name, c, true
		}
	}
	return "", coordinates{}, false
}

// Current returns the cached report or fetches a new one. Only an unknown
// city is an error; network failures yield the fallback report.
func (w *WeatherAdvisor) Current(ctx context.Context, city string) (models.WeatherReport, error) {
	name, _, ok := canonicalCity(city)
	if !ok {
		return models.WeatherReport{}, fmt.Errorf("%w: unsupported city %q", ErrValidation, city)
	}

	w.mu.RLock()
	e, hit := w.cache[name]
	w.mu.RUnlock()
	if hit && w.now().Before(e.expiresAt) {
		return e.report, nil
	}
	return w.Refresh(ctx, name)
}

// Refresh fetches the city's weather bypassing the cache.
func (w *WeatherAdvisor) Refresh(ctx context.Context, city string) (models.WeatherReport, error) {
	name, coords, ok := canonicalCity(city)
	if !ok {
		return models.WeatherReport{}, fmt.Errorf("%w: unsupported city %q", ErrValidation, city)
	}

	report, err := w.fetch(ctx, name, coords)
	if err != nil {
		w.logger.Warn("Live weather unavailable, using fallback",
			zap.String("city", name),
			zap.Error(err))
		return models.WeatherReport{
			City:        name,
			OutsideTemp: fallbackOutsideTemp,
			Condition:   fallbackCondition,
			Source:      models.WeatherSourceFallback,
			UpdatedAt:   w.now(),
			Error:       fallbackError,
		}, nil
	}

	w.mu.Lock()
	w.cache[name] = weatherEntry{report: report, expiresAt: w.now().Add(w.ttl)}
	w.mu.Unlock()
	return report, nil
}

func (w *WeatherAdvisor) fetch(ctx context.Context, city string, c coordinates) (models.WeatherReport, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.lat))
	q.Set("longitude", fmt.Sprintf("%.4f", c.lon))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.WeatherReport{}, err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return models.WeatherReport{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.WeatherReport{}, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.WeatherReport{}, fmt.Errorf("decode weather response: %w", err)
	}

	temp := fallbackOutsideTemp
	if t := body.Current.Temperature2m; t != nil && !math.IsNaN(*t) && !math.IsInf(*t, 0) {
		temp = *t
	}
	code := 0
	if body.Current.WeatherCode != nil {
		code = *body.Current.WeatherCode
	}

	return models.WeatherReport{
		City:        city,
		OutsideTemp: temp,
		Condition:   ConditionFor(code),
		Source:      models.WeatherSourceLive,
		UpdatedAt:   w.now(),
	}, nil
}

// Advise returns threshold advice for the city and indoor temperature. A
// nil indoor uses the default indoor temperature.
func (w *WeatherAdvisor) Advise(ctx context.Context, city string, indoor *float64) (models.ThresholdAdvice, error) {
	report, err := w.Current(ctx, city)
	if err != nil {
		return models.ThresholdAdvice{}, err
	}
	in := defaultIndoorTemp
	if indoor != nil {
		in = *indoor
	}
	return Recommend(report, in, w.now()), nil
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safekitchen/config"
	"safekitchen/models"
	"safekitchen/services"
	"safekitchen/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testAPI struct {
	t       *testing.T
	handler http.Handler
	devices *services.DeviceController
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dsn := "file:httpapi_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := store.Open("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)
	repo, err := store.New(db)
	require.NoError(t, err)

	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":38,"weather_code":0}}`))
	}))
	t.Cleanup(meteo.Close)

	reg := prometheus.NewRegistry()
	metrics := services.NewMetrics(reg)
	logger := zap.NewNop()

	automation := services.NewAutomation(repo, metrics, logger)
	devices := services.NewDeviceController(repo, metrics, logger)
	srv := NewServer(&config.Config{JWTSecret: testSecret, WeatherCity: "Delhi"}, Deps{
		Store:      repo,
		Automation: automation,
		Devices:    devices,
		Watcher:    services.NewWatcher(automation, time.Second, logger),
		Weather:    services.NewWeatherAdvisor(meteo.URL, time.Minute, logger),
		Gatherer:   reg,
	}, logger)

	return &testAPI{t: t, handler: srv.Handler(), devices: devices}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (a *testAPI) do(user, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, user))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUnauthorizedRequestsNeverReachTheStore(t *testing.T) {
	// nil collaborators: any handler that ran would panic and turn into a 500
	srv := NewServer(&config.Config{JWTSecret: testSecret}, Deps{}, zap.NewNop())
	h := srv.Handler()

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/sensors/latest"},
		{http.MethodPost, "/api/automation/analyze"},
		{http.MethodPost, "/api/devices/toggle"},
		{http.MethodGet, "/api/alerts"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.path)
	}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	s, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/sensors/latest", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: s})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{})
	s, err = noSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/sensors/latest", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReadings(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "value": 60, "unit": "ppm"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "value": 42, "unit": "ppm"})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "value": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "unit": "ppm"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "smoke", "value": 1, "unit": "ppm"}).Code)

	rec = api.do("u1", http.MethodGet, "/api/sensors/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[[]models.SensorReading](t, rec)
	require.Len(t, latest, 1)
	assert.Equal(t, 42.0, latest[0].Value)
	assert.Equal(t, services.SourceHTTP, latest[0].Source)

	rec = api.do("u2", http.MethodGet, "/api/sensors/latest", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSettings(t *testing.T) {
	api := newTestAPI(t)

	s := decode[models.UserSettings](t, api.do("u1", http.MethodGet, "/api/settings", nil))
	assert.Equal(t, 50.0, s.LPGThreshold)
	assert.Equal(t, 35.0, s.COThreshold)
	assert.Equal(t, 60.0, s.TempThreshold)

	rec := api.do("u1", http.MethodPut, "/api/settings", map[string]any{"lpg_threshold": 40, "user_id": "someone-else"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s = decode[models.UserSettings](t, api.do("u1", http.MethodGet, "/api/settings", nil))
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, 40.0, s.LPGThreshold)
	assert.Equal(t, 35.0, s.COThreshold)

	rec = api.do("u1", http.MethodPut, "/api/settings", map[string]any{"temp_threshold": 55})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s = decode[models.UserSettings](t, api.do("u1", http.MethodGet, "/api/settings", nil))
	assert.Equal(t, 40.0, s.LPGThreshold)
	assert.Equal(t, 55.0, s.TempThreshold)

	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPut, "/api/settings", map[string]any{"co_threshold": -1}).Code)
}

func lpgFanRule() map[string]any {
	return map[string]any{
		"trigger_sensor":    "lpg",
		"trigger_condition": "greater_than",
		"trigger_threshold": 50,
		"action_device":     "exhaust_fan",
		"action_state":      "on",
		"is_enabled":        true,
	}
}

func TestAnalyzeDuplicatesAlertsButConvergesDevices(t *testing.T) {
	api := newTestAPI(t)

	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/automation/rules", lpgFanRule()).Code)
	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "value": 60, "unit": "ppm"}).Code)

	for i := 0; i < 2; i++ {
		rec := api.do("u1", http.MethodPost, "/api/automation/analyze", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res := decode[services.AnalysisResult](t, rec)
		assert.True(t, res.HasAbnormalReadings)
		assert.Equal(t, []models.AbnormalReading{{SensorType: models.SensorLPG, Value: 60}}, res.AbnormalReadings)
		assert.Equal(t, []models.TriggeredAction{{Device: "exhaust_fan", Action: models.ActionOn, Trigger: models.SensorLPG}}, res.TriggeredActions)
	}

	states := decode[[]models.DeviceState](t, api.do("u1", http.MethodGet, "/api/devices/states", nil))
	require.Len(t, states, 1)
	assert.True(t, states[0].IsOn)
	assert.False(t, states[0].IsManualOverride)

	body := decode[struct {
		Alerts     []models.Alert `json:"alerts"`
		Unresolved int64          `json:"unresolved"`
	}](t, api.do("u1", http.MethodGet, "/api/alerts", nil))
	require.Len(t, body.Alerts, 2)
	assert.Equal(t, int64(2), body.Unresolved)
	assert.Equal(t, "lpg_threshold_exceeded", body.Alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, body.Alerts[0].Severity)
}

func TestProcess(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/automation/rules", lpgFanRule()).Code)

	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/automation/process", map[string]any{"sensor_type": "lpg"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/automation/process", map[string]any{"sensor_type": "smoke", "value": 1}).Code)

	rec := api.do("u1", http.MethodPost, "/api/automation/process", map[string]any{"sensor_type": "lpg", "value": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string][]models.TriggeredAction](t, rec)
	assert.Equal(t, []models.TriggeredAction{{Device: "exhaust_fan", Action: models.ActionOn, Trigger: models.SensorLPG}}, res["triggeredActions"])

	rec = api.do("u1", http.MethodPost, "/api/automation/process", map[string]any{"sensor_type": "lpg", "value": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"triggeredActions":[]}`, rec.Body.String())

	body := decode[struct {
		Alerts []models.Alert `json:"alerts"`
	}](t, api.do("u1", http.MethodGet, "/api/alerts", nil))
	assert.Empty(t, body.Alerts)
}

func TestRuleOwnership(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("u1", http.MethodPost, "/api/automation/rules", lpgFanRule())
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decode[models.AutomationRule](t, rec)
	path := "/api/automation/rules/" + jsonNumber(rule.ID)

	update := lpgFanRule()
	update["trigger_threshold"] = 45
	assert.Equal(t, http.StatusNotFound, api.do("u2", http.MethodPut, path, update).Code)
	assert.Equal(t, http.StatusNotFound, api.do("u2", http.MethodDelete, path, nil).Code)

	rec = api.do("u1", http.MethodPut, path, update)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]models.AutomationRule](t, api.do("u1", http.MethodGet, "/api/automation/rules", nil))
	require.Len(t, rules, 1)
	assert.Equal(t, 45.0, rules[0].TriggerThreshold)

	bad := lpgFanRule()
	bad["trigger_condition"] = "equals"
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/automation/rules", bad).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodDelete, "/api/automation/rules/abc", nil).Code)

	assert.Equal(t, http.StatusNoContent, api.do("u1", http.MethodDelete, path, nil).Code)
	assert.Equal(t, "[]\n", api.do("u1", http.MethodGet, "/api/automation/rules", nil).Body.String())
}

func TestDeviceToggleAndChildLock(t *testing.T) {
	api := newTestAPI(t)

	toggle := map[string]any{"device_type": "gas_valve", "is_on": false, "is_manual_override": true}
	rec := api.do("u1", http.MethodPost, "/api/devices/toggle", toggle)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/devices/toggle", map[string]any{"device_type": "gas_valve"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodPost, "/api/devices/toggle", map[string]any{"is_on": true}).Code)

	require.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, "/api/devices/child-lock", map[string]any{"locked": true}).Code)
	assert.JSONEq(t, `{"locked":true}`, api.do("u1", http.MethodGet, "/api/devices/child-lock", nil).Body.String())

	toggle["is_on"] = true
	assert.Equal(t, http.StatusLocked, api.do("u1", http.MethodPost, "/api/devices/toggle", toggle).Code)
	// another user's devices are not locked
	assert.Equal(t, http.StatusOK, api.do("u2", http.MethodPost, "/api/devices/toggle", toggle).Code)

	require.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, "/api/devices/child-lock", map[string]any{"locked": false}).Code)
	assert.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, "/api/devices/toggle", toggle).Code)

	states := decode[[]models.DeviceState](t, api.do("u1", http.MethodGet, "/api/devices/states", nil))
	require.Len(t, states, 1)
	assert.True(t, states[0].IsOn)
	assert.True(t, states[0].IsManualOverride)
}

func TestAlertResolveAndDelete(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/automation/rules", lpgFanRule()).Code)
	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "lpg", "value": 70, "unit": "ppm"}).Code)
	require.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, "/api/automation/analyze", nil).Code)

	type alertList struct {
		Alerts     []models.Alert `json:"alerts"`
		Unresolved int64          `json:"unresolved"`
	}
	list := decode[alertList](t, api.do("u1", http.MethodGet, "/api/alerts", nil))
	require.Len(t, list.Alerts, 1)
	path := "/api/alerts/" + jsonNumber(list.Alerts[0].ID)

	assert.Equal(t, http.StatusNotFound, api.do("u2", http.MethodPost, path+"/resolve", nil).Code)
	require.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, path+"/resolve", nil).Code)

	list = decode[alertList](t, api.do("u1", http.MethodGet, "/api/alerts", nil))
	assert.Equal(t, int64(0), list.Unresolved)
	assert.True(t, list.Alerts[0].IsResolved)

	assert.Equal(t, http.StatusNoContent, api.do("u1", http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do("u1", http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodGet, "/api/alerts?limit=-3", nil).Code)
}

func TestWeatherAdvice(t *testing.T) {
	api := newTestAPI(t)

	cities := decode[[]string](t, api.do("u1", http.MethodGet, "/api/weather/cities", nil))
	assert.Contains(t, cities, "Delhi")

	rec := api.do("u1", http.MethodGet, "/api/weather/advice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	advice := decode[models.ThresholdAdvice](t, rec)
	assert.Equal(t, "Delhi", advice.Weather.City)
	assert.Equal(t, models.WeatherSourceLive, advice.Weather.Source)
	assert.GreaterOrEqual(t, advice.Recommended.GasThreshold, 35.0)
	assert.GreaterOrEqual(t, advice.Recommended.TempThreshold, 42.0)

	// a hot kitchen reading drives the risk up
	require.Equal(t, http.StatusCreated, api.do("u1", http.MethodPost, "/api/sensors/reading", map[string]any{"sensor_type": "temperature", "value": 90, "unit": "°C"}).Code)
	advice = decode[models.ThresholdAdvice](t, api.do("u1", http.MethodGet, "/api/weather/advice?city=mumbai", nil))
	assert.Equal(t, "Mumbai", advice.Weather.City)
	assert.Equal(t, "High", advice.Risk)

	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodGet, "/api/weather/advice?city=Atlantis", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("u1", http.MethodGet, "/api/weather/advice?indoor=warm", nil).Code)

	for _, v := range []string{"NaN", "Inf", "-Inf"} {
		rec := api.do("u1", http.MethodGet, "/api/weather/advice?city=Delhi&indoor="+v, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
		assert.JSONEq(t, `{"error":"invalid indoor parameter"}`, rec.Body.String(), v)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("", http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, api.do("u1", http.MethodPost, "/api/automation/analyze", nil).Code)
	rec = api.do("", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `safekitchen_evaluations_total{mode="stateless",outcome="ok"} 1`)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

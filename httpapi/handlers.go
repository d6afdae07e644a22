package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"safekitchen/models"
	"safekitchen/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- sensors ----

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.deps.Store.LatestReadings(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if readings == nil {
		readings = []models.SensorReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

type readingRequest struct {
	SensorType models.SensorType `json:"sensor_type"`
	Value      *float64          `json:"value"`
	Unit       string            `json:"unit"`
}

func (s *Server) handleAppendReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SensorType == "" || req.Value == nil || strings.TrimSpace(req.Unit) == "" {
		writeJSONError(w, http.StatusBadRequest, "sensor_type, value and unit are required")
		return
	}

	userID := UserID(r.Context())
	reading := &models.SensorReading{
		UserID:     userID,
		SensorType: req.SensorType,
		Value:      *req.Value,
		Unit:       req.Unit,
		Source:     services.SourceHTTP,
		CreatedAt:  s.now(),
	}
	if err := services.ValidateReading(reading); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Store.AppendReading(r.Context(), reading); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if s.deps.Watcher != nil {
		s.deps.Watcher.Track(userID)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "reading": reading})
}

// ---- settings ----

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Automation.Settings(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings applies the body on top of the current settings so
// omitted fields keep their values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	settings, err := s.deps.Automation.Settings(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := decodeJSON(r, &settings); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings.ID = 0
	settings.UserID = userID
	if err := services.ValidateSettings(&settings); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Store.UpsertSettings(r.Context(), &settings); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ---- rules ----

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Store.ListRules(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AutomationRule
	if err := decodeJSON(r, &rule); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = 0
	rule.UserID = UserID(r.Context())
	if err := services.ValidateRule(&rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Store.CreateRule(r.Context(), &rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var rule models.AutomationRule
	if err := decodeJSON(r, &rule); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = id
	rule.UserID = UserID(r.Context())
	if err := services.ValidateRule(&rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Store.UpdateRule(r.Context(), &rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteRule(r.Context(), UserID(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- evaluation ----

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Automation.Analyze(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type processRequest struct {
	SensorType models.SensorType `json:"sensor_type"`
	Value      *float64          `json:"value"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SensorType == "" || req.Value == nil {
		writeJSONError(w, http.StatusBadRequest, "sensor_type and value are required")
		return
	}
	actions, err := s.deps.Automation.Process(r.Context(), UserID(r.Context()), req.SensorType, *req.Value)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggeredActions": actions})
}

// ---- devices ----

type toggleRequest struct {
	DeviceType       string `json:"device_type"`
	IsOn             *bool  `json:"is_on"`
	IsManualOverride bool   `json:"is_manual_override"`
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsOn == nil {
		writeJSONError(w, http.StatusBadRequest, "is_on is required")
		return
	}
	st, err := s.deps.Devices.Toggle(r.Context(), UserID(r.Context()), req.DeviceType, *req.IsOn, req.IsManualOverride)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "device": st})
}

func (s *Server) handleDeviceStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.Devices.States(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetChildLock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"locked": s.deps.Devices.ChildLocked(UserID(r.Context()))})
}

func (s *Server) handleSetChildLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locked *bool `json:"locked"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Locked == nil {
		writeJSONError(w, http.StatusBadRequest, "locked is required")
		return
	}
	s.deps.Devices.SetChildLock(UserID(r.Context()), *req.Locked)
	writeJSON(w, http.StatusOK, map[string]bool{"locked": *req.Locked})
}

// ---- alerts ----

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	userID := UserID(r.Context())
	alerts, err := s.deps.Store.ListAlerts(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	unresolved, err := s.deps.Store.CountAlerts(r.Context(), userID, true)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "unresolved": unresolved})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.ResolveAlert(r.Context(), UserID(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteAlert(r.Context(), UserID(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- weather ----

func (s *Server) handleWeatherCities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Weather.Cities())
}

// handleWeatherAdvice uses the latest temperature reading when indoor is
// not given.
func (s *Server) handleWeatherAdvice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		city = s.weatherCity
	}

	var indoor *float64
	if v := q.Get("indoor"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			writeJSONError(w, http.StatusBadRequest, "invalid indoor parameter")
			return
		}
		indoor = &f
	} else {
		readings, err := s.deps.Store.LatestReadings(r.Context(), UserID(r.Context()))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		for _, rd := range readings {
			if rd.SensorType == models.SensorTemperature {
				v := rd.Value
				indoor = &v
			}
		}
	}

	advice, err := s.deps.Weather.Advise(r.Context(), city, indoor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"safekitchen/config"
	"safekitchen/services"
	"safekitchen/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Store is what the REST handlers read and write directly.
type Store interface {
	services.Store
	CountAlerts(ctx context.Context, userID string, unresolvedOnly bool) (int64, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators wired in by main.
type Deps struct {
	Store      Store
	Automation *services.Automation
	Devices    *services.DeviceController
	Watcher    *services.Watcher
	Weather    *services.WeatherAdvisor
	Gatherer   prometheus.Gatherer
}

// Server exposes the kitchen automation REST API.
type Server struct {
	deps        Deps
	secret      []byte
	corsOrigins []string
	weatherCity string
	logger      *zap.Logger
	now         func() time.Time
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		deps:        deps,
		secret:      []byte(cfg.JWTSecret),
		corsOrigins: origins,
		weatherCity: cfg.WeatherCity,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(s.secret))

		r.Route("/api/sensors", func(r chi.Router) {
			r.Get("/latest", s.handleLatestReadings)
			r.Post("/reading", s.handleAppendReading)
		})

		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handlePutSettings)

		r.Route("/api/automation", func(r chi.Router) {
			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Put("/rules/{id}", s.handleUpdateRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)
			r.Post("/analyze", s.handleAnalyze)
			r.Post("/process", s.handleProcess)
		})

		r.Route("/api/devices", func(r chi.Router) {
			r.Post("/toggle", s.handleToggleDevice)
			r.Get("/states", s.handleDeviceStates)
			r.Get("/child-lock", s.handleGetChildLock)
			r.Post("/child-lock", s.handleSetChildLock)
		})

		r.Route("/api/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/{id}/resolve", s.handleResolveAlert)
			r.Delete("/{id}", s.handleDeleteAlert)
		})

		r.Get("/api/weather/cities", s.handleWeatherCities)
		r.Get("/api/weather/advice", s.handleWeatherAdvice)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors to status codes. Store failures are
// logged and reported with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrChildLocked):
		writeJSONError(w, http.StatusLocked, err.Error())
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("user_id", UserID(r.Context())),
			zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

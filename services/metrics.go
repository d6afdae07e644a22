package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine counters exported at /metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	evaluations  *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	deviceWrites *prometheus.CounterVec
	readings     *prometheus.CounterVec
	notifySkips  *prometheus.CounterVec
}

// NewMetrics registers the counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safekitchen_evaluations_total",
				Help: "Automation evaluations by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safekitchen_alerts_total",
				Help: "Alerts raised by alert type and severity.",
			},
			[]string{"alert_type", "severity"},
		),
		deviceWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safekitchen_device_writes_total",
				Help: "Device state writes by device, state and origin.",
			},
			[]string{"device", "state", "origin"},
		),
		readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safekitchen_readings_ingested_total",
				Help: "Sensor readings accepted by source.",
			},
			[]string{"source"},
		),
		notifySkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safekitchen_notifications_suppressed_total",
				Help: "Notifications dropped by the suppression window.",
			},
			[]string{"alert_type"},
		),
	}
	reg.MustRegister(m.evaluations, m.alerts, m.deviceWrites, m.readings, m.notifySkips)
	return m
}

func (m *Metrics) evaluated(mode, outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) alertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) deviceWritten(device string, on bool, origin string) {
	if m == nil {
		return
	}
	m.deviceWrites.WithLabelValues(device, onOff(on), origin).Inc()
}

func (m *Metrics) readingIngested(source string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(source).Inc()
}

func (m *Metrics) notificationSuppressed(alertType string) {
	if m == nil {
		return
	}
	m.notifySkips.WithLabelValues(alertType).Inc()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

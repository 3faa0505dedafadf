// Package metrics exposes the coach's Prometheus series. A *Metrics plugs into
// the model client as an observer, into the coach and the voice controller as
// their recorders, and into the status server as request middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-coach/pkg/coach/voice"
)

// Metrics holds all Prometheus metrics for the coach.
type Metrics struct {
	registry *prometheus.Registry

	// Model client
	ModelRequestsTotal   *prometheus.CounterVec
	ModelRequestDuration *prometheus.HistogramVec

	// Capture loop
	BackoffsTotal       prometheus.Counter
	BackoffSeconds      prometheus.Histogram
	FramesSkippedTotal  *prometheus.CounterVec
	StepsCompletedTotal *prometheus.CounterVec

	// Voice
	VoiceCommandsTotal          *prometheus.CounterVec
	VoiceTransportSwitchesTotal *prometheus.CounterVec
	VoiceTransportActive        *prometheus.GaugeVec

	// Status server
	HTTPRequestsTotal *prometheus.CounterVec
}

var voiceKinds = []voice.Kind{voice.KindLive, voice.KindFallback, voice.KindAudioREST}

// New creates a Metrics instance with every series registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_coach"
	}

	registry := prometheus.NewRegistry()

	modelRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Model attempts by model, operation and outcome",
		},
		[]string{"model", "op", "status"},
	)

	modelRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Model attempt duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"op"},
	)

	backoffsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoffs_total",
			Help:      "Rate-limit backoffs entered by the capture loop",
		},
	)

	backoffSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Length of each rate-limit backoff",
			Buckets:   []float64{2.5, 5, 10, 20, 40, 80, 120},
		},
	)

	framesSkippedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Capture cycles that made no model call",
		},
		[]string{"reason"},
	)

	stepsCompletedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Checklist steps completed",
		},
		[]string{"source"},
	)

	voiceCommandsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_commands_total",
			Help:      "Voice commands recognized",
		},
		[]string{"transport", "command"},
	)

	voiceTransportSwitchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transport_switches_total",
			Help:      "Voice transport activations",
		},
		[]string{"to"},
	)

	voiceTransportActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_transport_active",
			Help:      "1 for the active voice transport",
		},
		[]string{"transport"},
	)

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status server requests",
		},
		[]string{"method", "route", "code"},
	)

	registry.MustRegister(
		modelRequestsTotal,
		modelRequestDuration,
		backoffsTotal,
		backoffSeconds,
		framesSkippedTotal,
		stepsCompletedTotal,
		voiceCommandsTotal,
		voiceTransportSwitchesTotal,
		voiceTransportActive,
		httpRequestsTotal,
	)

	return &Metrics{
		registry:                    registry,
		ModelRequestsTotal:          modelRequestsTotal,
		ModelRequestDuration:        modelRequestDuration,
		BackoffsTotal:               backoffsTotal,
		BackoffSeconds:              backoffSeconds,
		FramesSkippedTotal:          framesSkippedTotal,
		StepsCompletedTotal:         stepsCompletedTotal,
		VoiceCommandsTotal:          voiceCommandsTotal,
		VoiceTransportSwitchesTotal: voiceTransportSwitchesTotal,
		VoiceTransportActive:        voiceTransportActive,
		HTTPRequestsTotal:           httpRequestsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveModel records one model attempt. Its signature matches
// gemini.Observer.
func (m *Metrics) ObserveModel(model, op, status string, elapsed time.Duration) {
	m.ModelRequestsTotal.WithLabelValues(model, op, status).Inc()
	m.ModelRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// FrameSkipped implements coach.Recorder.
func (m *Metrics) FrameSkipped(reason string) {
	m.FramesSkippedTotal.WithLabelValues(reason).Inc()
}

// Backoff implements coach.Recorder.
func (m *Metrics) Backoff(d time.Duration) {
	m.BackoffsTotal.Inc()
	m.BackoffSeconds.Observe(d.Seconds())
}

// StepsCompleted implements coach.Recorder.
func (m *Metrics) StepsCompleted(n int, source string) {
	if n > 0 {
		m.StepsCompletedTotal.WithLabelValues(source).Add(float64(n))
	}
}

// Command implements voice.Recorder.
func (m *Metrics) Command(kind voice.Kind, cmd voice.Command) {
	m.VoiceCommandsTotal.WithLabelValues(string(kind), string(cmd)).Inc()
}

// Switched implements voice.Recorder.
func (m *Metrics) Switched(to voice.Kind) {
	m.VoiceTransportSwitchesTotal.WithLabelValues(string(to)).Inc()
	for _, k := range voiceKinds {
		v := 0.0
		if k == to {
			v = 1
		}
		m.VoiceTransportActive.WithLabelValues(string(k)).Set(v)
	}
}

// RecordHTTP records a completed status server request.
func (m *Metrics) RecordHTTP(method, route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// ResponseWriter wraps http.ResponseWriter to capture the status code.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

// NewResponseWriter creates a new ResponseWriter.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

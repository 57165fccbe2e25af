package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_relay_active_sessions",
		Help: "Number of active relay sessions (0 or 1)",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_relay_sessions_total",
		Help: "Total number of relay sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_relay_session_duration_seconds",
		Help:    "Duration of relay sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})

	// Wire metrics
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_frames_received_total",
		Help: "Total frames decoded from clients",
	}, []string{"type"})

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_relay_frames_sent_total",
		Help: "Total text frames sent to clients",
	})

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_relay_audio_bytes_total",
		Help: "Total audio payload bytes received",
	})

	protocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_relay_protocol_errors_total",
		Help: "Total sessions closed on protocol corruption",
	})

	// Buffer metrics
	samplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_relay_samples_overwritten_total",
		Help: "Ring buffer samples lost to overwrite under backpressure",
	})

	// Pipeline metrics
	transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_transcriptions_total",
		Help: "Transcription engine calls",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_relay_transcription_latency_seconds",
		Help:    "Transcription engine latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_translations_total",
		Help: "Translation engine calls",
	}, []string{"status"})

	translationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_relay_translation_latency_seconds",
		Help:    "Translation engine latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_commits_total",
		Help: "Transcript commits by language",
	}, []string{"lang"})

	committedChars = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_committed_chars_total",
		Help: "Committed transcript characters by language",
	}, []string{"lang"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_relay_errors_total",
		Help: "Recoverable errors by type and component",
	}, []string{"type", "component"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_relay_breaker_state",
		Help: "Engine circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"engine"})
)

// Metrics tracks per-session measurements against the process-wide
// collectors.
type Metrics struct {
	mu        sync.Mutex
	startTime time.Time
}

// NewSessionMetrics registers a session start and returns its tracker.
func NewSessionMetrics() *Metrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &Metrics{startTime: time.Now()}
}

// SessionEnd records the end of the session.
func (m *Metrics) SessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// FrameReceived counts one decoded inbound frame.
func (m *Metrics) FrameReceived(frameType string, payloadBytes int) {
	framesReceived.WithLabelValues(frameType).Inc()
	if frameType == "audio" {
		audioBytes.Add(float64(payloadBytes))
	}
}

// FrameSent counts one outbound text frame.
func (m *Metrics) FrameSent() {
	framesSent.Inc()
}

// ProtocolError counts a session-fatal wire corruption.
func (m *Metrics) ProtocolError() {
	protocolErrors.Inc()
}

// SamplesOverwritten counts ring-buffer loss under backpressure.
func (m *Metrics) SamplesOverwritten(n uint64) {
	samplesDropped.Add(float64(n))
}

// Transcription records one engine call with its latency.
func (m *Metrics) Transcription(start time.Time, err error) {
	transcriptionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		transcriptions.WithLabelValues("error").Inc()
		return
	}
	transcriptions.WithLabelValues("success").Inc()
}

// Translation records one engine call with its latency.
func (m *Metrics) Translation(start time.Time, err error) {
	translationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		translations.WithLabelValues("error").Inc()
		return
	}
	translations.WithLabelValues("success").Inc()
}

// Commit records an irrevocable transcript append.
func (m *Metrics) Commit(lang string, chars int) {
	commits.WithLabelValues(lang).Inc()
	committedChars.WithLabelValues(lang).Add(float64(chars))
}

// Error counts a recoverable error.
func (m *Metrics) Error(errType, component string) {
	errorsTotal.WithLabelValues(errType, component).Inc()
}

// SetBreakerState publishes an engine breaker state.
func SetBreakerState(engine string, state int) {
	breakerState.WithLabelValues(engine).Set(float64(state))
}

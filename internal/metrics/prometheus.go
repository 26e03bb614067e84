package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call translator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Audio frame metrics
	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	FramesLost      *prometheus.CounterVec
	FormatErrors    *prometheus.CounterVec
	VoiceFrames     *prometheus.CounterVec

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsClosed    *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	BackpressureFails *prometheus.CounterVec
	WorkerPanics      prometheus.Counter
	DialResults       *prometheus.CounterVec

	// Telephony metrics
	ConnectedLegs     *prometheus.GaugeVec
	TelephonyMessages *prometheus.CounterVec

	// Transcript metrics
	TranscriptEvents   *prometheus.CounterVec
	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter

	// Translation service metrics
	TranslationRequests *prometheus.CounterVec
	TranslationDuration *prometheus.HistogramVec
	TranslationRetries  prometheus.Counter
	TranslationMessages *prometheus.CounterVec
	MalformedMessages   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg.
// A nil reg falls back to the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Audio frame metrics
		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_frames_processed_total",
			Help: "Total number of audio frames moved through the bridge",
		}, []string{"direction", "role"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_frames_dropped_total",
			Help: "Total number of frames dropped because a queue was full",
		}, []string{"direction"}),
		FramesLost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_frames_lost_total",
			Help: "Total number of inbound frames missing from the leg sequence",
		}, []string{"role"}),
		FormatErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_format_errors_total",
			Help: "Total number of frames skipped because of a wrong size or encoding",
		}, []string{"direction"}),
		VoiceFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_voice_frames_total",
			Help: "Total number of inbound frames with voice activity",
		}, []string{"role"}),

		// Session metrics
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "calltr_active_sessions",
			Help: "Current number of registered call sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "calltr_sessions_created_total",
			Help: "Total number of call sessions created",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_sessions_closed_total",
			Help: "Total number of call sessions closed",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "calltr_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		BackpressureFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_backpressure_failures_total",
			Help: "Total number of sessions closed because frames kept being dropped",
		}, []string{"direction"}),
		WorkerPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "calltr_worker_panics_total",
			Help: "Total number of recovered session worker panics",
		}),
		DialResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_dial_results_total",
			Help: "Total number of operator dial attempts by result",
		}, []string{"result"}),

		// Telephony metrics
		ConnectedLegs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calltr_connected_legs",
			Help: "Current number of connected telephony media streams",
		}, []string{"role"}),
		TelephonyMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_telephony_messages_total",
			Help: "Total number of media stream messages received by event",
		}, []string{"event"}),

		// Transcript metrics
		TranscriptEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_transcript_events_total",
			Help: "Total number of transcript events published",
		}, []string{"action"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "calltr_transcript_subscribers",
			Help: "Current number of transcript observers",
		}),
		SubscribersDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "calltr_transcript_subscribers_dropped_total",
			Help: "Total number of observers dropped for falling behind",
		}),

		// Translation service metrics
		TranslationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_translation_requests_total",
			Help: "Total number of translation service API requests",
		}, []string{"operation", "status"}),
		TranslationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calltr_translation_request_duration_seconds",
			Help:    "Duration of translation service API requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"operation"}),
		TranslationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "calltr_translation_retries_total",
			Help: "Total number of translation service request retries",
		}),
		TranslationMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_translation_messages_total",
			Help: "Total number of messages received from the translation service",
		}, []string{"type"}),
		MalformedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "calltr_translation_malformed_messages_total",
			Help: "Total number of translation service messages rejected as malformed",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calltr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calltr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame increments the processed frame counter
func (m *Metrics) RecordFrame(direction, role string) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(direction, role).Inc()
}

// RecordFrameDropped increments the dropped frame counter
func (m *Metrics) RecordFrameDropped(direction string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(direction).Inc()
}

// RecordFramesLost adds to the lost frame counter
func (m *Metrics) RecordFramesLost(role string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.FramesLost.WithLabelValues(role).Add(float64(count))
}

// RecordFormatError increments the format error counter
func (m *Metrics) RecordFormatError(direction string) {
	if m == nil {
		return
	}
	m.FormatErrors.WithLabelValues(direction).Inc()
}

// RecordVoiceFrame increments the voice activity counter
func (m *Metrics) RecordVoiceFrame(role string) {
	if m == nil {
		return
	}
	m.VoiceFrames.WithLabelValues(role).Inc()
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordBackpressureFailure records a session closed by sustained frame drops
func (m *Metrics) RecordBackpressureFailure(direction string) {
	if m == nil {
		return
	}
	m.BackpressureFails.WithLabelValues(direction).Inc()
}

// RecordWorkerPanic increments the recovered panic counter
func (m *Metrics) RecordWorkerPanic() {
	if m == nil {
		return
	}
	m.WorkerPanics.Inc()
}

// RecordDialResult records the outcome of an operator dial
func (m *Metrics) RecordDialResult(result string) {
	if m == nil {
		return
	}
	m.DialResults.WithLabelValues(result).Inc()
}

// RecordLegConnected increments the connected leg gauge
func (m *Metrics) RecordLegConnected(role string) {
	if m == nil {
		return
	}
	m.ConnectedLegs.WithLabelValues(role).Inc()
}

// RecordLegDisconnected decrements the connected leg gauge
func (m *Metrics) RecordLegDisconnected(role string) {
	if m == nil {
		return
	}
	m.ConnectedLegs.WithLabelValues(role).Dec()
}

// RecordTelephonyMessage increments the media stream message counter
func (m *Metrics) RecordTelephonyMessage(event string) {
	if m == nil {
		return
	}
	m.TelephonyMessages.WithLabelValues(event).Inc()
}

// RecordTranscriptEvent increments the published transcript counter
func (m *Metrics) RecordTranscriptEvent(action string) {
	if m == nil {
		return
	}
	m.TranscriptEvents.WithLabelValues(action).Inc()
}

// SetSubscribers sets the current number of transcript observers
func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(count))
}

// RecordSubscriberDropped increments the dropped observer counter
func (m *Metrics) RecordSubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

// RecordTranslationRequest records a translation service API call
func (m *Metrics) RecordTranslationRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranslationRequests.WithLabelValues(operation, status).Inc()
	m.TranslationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordTranslationRetry increments the retry counter
func (m *Metrics) RecordTranslationRetry() {
	if m == nil {
		return
	}
	m.TranslationRetries.Inc()
}

// RecordTranslationMessage increments the received message counter
func (m *Metrics) RecordTranslationMessage(messageType string) {
	if m == nil {
		return
	}
	m.TranslationMessages.WithLabelValues(messageType).Inc()
}

// RecordMalformedMessage increments the malformed message counter
func (m *Metrics) RecordMalformedMessage() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

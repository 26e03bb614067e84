package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/call-translator/internal/config"
	"github.com/skypro1111/call-translator/internal/metrics"
	"github.com/skypro1111/call-translator/internal/telephony"
	"github.com/skypro1111/call-translator/internal/transcript"
	"github.com/skypro1111/call-translator/internal/translation"
	"github.com/skypro1111/call-translator/internal/worker"
)

const (
	serviceName    = "call-translator"
	serviceVersion = "1.0.0"
)

// HTTPServer serves the telephony webhooks, the media and observer
// WebSockets and the monitoring API
type HTTPServer struct {
	server      *http.Server
	handler     http.Handler
	logger      *slog.Logger
	config      *config.Config
	manager     *worker.Manager
	broadcaster *transcript.Broadcaster
	translator  *translation.Client
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	upgrader    websocket.Upgrader

	// Server state
	startTime time.Time
}

// NewHTTPServer creates the HTTP server.
// translator may be nil; gatherer nil serves the default Prometheus registry.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *worker.Manager,
	broadcaster *transcript.Broadcaster, translator *translation.Client,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		manager:     manager,
		broadcaster: broadcaster,
		translator:  translator,
		metrics:     m,
		gatherer:    gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams and observers connect from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         cfg.HTTP.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Telephony webhooks and media streams
	mux.HandleFunc("POST /twiml/client", h.withMetrics("/twiml/client", h.handleClientTwiML))
	mux.HandleFunc("POST /twiml/operator/{session_id}", h.withMetrics("/twiml/operator/{id}", h.handleOperatorTwiML))
	mux.HandleFunc("POST /voice/callback/{session_id}", h.withMetrics("/voice/callback/{id}", h.handleStatusCallback))
	mux.HandleFunc("GET /voice/{role}/{session_id}", h.handleMediaStream)

	// Transcript observers
	mux.HandleFunc("GET /transcriptions", h.withMetrics("/transcriptions", h.handleTranscriptions))
	mux.HandleFunc("GET /transcriptions/ws", h.handleObserver)

	// Health check endpoint
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	// Session management
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("POST /sessions", h.withMetrics("/sessions", h.handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("DELETE /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleReleaseSession))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
// Hijacked media and observer connections are closed by their owners.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// endpoints returns the public URLs the provider should call back on.
// Without a configured public host the request's Host is used.
func (h *HTTPServer) endpoints(r *http.Request) telephony.Endpoints {
	host := h.config.Telephony.PublicHost
	if host == "" {
		host = r.Host
	}
	return telephony.Endpoints{Host: host, Insecure: h.config.Telephony.Insecure}
}

func (h *HTTPServer) legConfig() telephony.LegConfig {
	tc := h.config.Telephony
	return telephony.LegConfig{
		FrameBuffer:  tc.FrameBuffer,
		StartTimeout: tc.GetStartTimeoutDuration(),
		WriteTimeout: tc.GetWriteTimeoutDuration(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	managerStats := h.manager.GetStats()
	transcriptStats := h.broadcaster.GetStats()

	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":           "running",
			"active_sessions":  managerStats.ActiveSessions,
			"dialing_sessions": managerStats.DialingSessions,
			"bridged_sessions": managerStats.BridgedSessions,
		},
		"transcripts": map[string]interface{}{
			"status":      "running",
			"subscribers": transcriptStats.Subscribers,
			"buffered":    transcriptStats.Buffered,
		},
	}
	if h.translator != nil {
		translatorStats := h.translator.GetStats()
		components["translation"] = map[string]interface{}{
			"status":         "running",
			"total_requests": translatorStats.TotalRequests,
			"success_rate":   translatorStats.SuccessRate,
			"streams_opened": translatorStats.StreamsOpened,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	view, err := h.config.View()
	if err != nil {
		http.Error(w, "Failed to render configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"sessions":    h.manager.GetStats(),
		"transcripts": h.broadcaster.GetStats(),
	}
	if h.translator != nil {
		stats["translation"] = h.translator.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Call Translation Bridge",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                               "API documentation",
			"GET /health":                         "Service health check",
			"GET /sessions":                       "List call sessions",
			"POST /sessions":                      "Create a call session",
			"GET /sessions/{id}":                  "Get detailed session information",
			"DELETE /sessions/{id}":               "Disconnect a call session",
			"GET /config":                         "Get service configuration",
			"GET /stats":                          "Get service statistics",
			"GET /metrics":                        "Prometheus metrics",
			"POST /twiml/client":                  "Incoming call webhook",
			"POST /twiml/operator/{session_id}":   "Operator call webhook",
			"POST /voice/callback/{session_id}":   "Operator call status callback",
			"GET /voice/{role}/{session_id}":      "Media stream WebSocket",
			"GET /transcriptions":                 "Buffered transcription events",
			"GET /transcriptions/ws":              "Transcription events WebSocket",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/call-translator/internal/bridge"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
	"github.com/skypro1111/call-translator/internal/transcript"
)

// Close reasons reported to metrics
const (
	ReasonReleased     = "released"
	ReasonClientHangup = "client_hangup"
	ReasonDialFailed   = "dial_failed"
	ReasonDialTimeout  = "dial_timeout"
	ReasonBridgeFailed = "bridge_failed"
	ReasonWorkerError  = "worker_error"
	ReasonExpired      = "expired"
	ReasonShutdown     = "shutdown"
)

// StreamOpener opens the translation stream of a session
type StreamOpener interface {
	Open(ctx context.Context, session *call.Session) (bridge.TranslationStream, error)
}

// OpenerFunc adapts a function to StreamOpener
type OpenerFunc func(ctx context.Context, session *call.Session) (bridge.TranslationStream, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, session *call.Session) (bridge.TranslationStream, error) {
	return f(ctx, session)
}

// Dialer places the outbound call to the operator of a session
type Dialer interface {
	Dial(ctx context.Context, session *call.Session) error
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, session *call.Session) error

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, session *call.Session) error {
	return f(ctx, session)
}

// Config contains manager configuration
type Config struct {
	DialTimeout     time.Duration // Dialing sessions are released after this long
	Bridge          bridge.Config // used when the operator leg attaches
	MaxSessions     int           // zero means unlimited
	MaxCallDuration time.Duration // zero disables the reaper limit
	ReapInterval    time.Duration
}

// Manager owns every session and its worker.
// Each session has at most one worker; failures tear down only that session.
type Manager struct {
	config    Config
	opener    StreamOpener
	dialer    Dialer
	publisher transcript.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	sessions map[string]*entry
	mu       sync.RWMutex

	// Totals
	created uint64
	closed  uint64

	// Reaper management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped sync.Once
}

type entry struct {
	session   *call.Session
	worker    *SessionWorker
	acquiring bool
	dialTimer *time.Timer
}

// ManagerStats represents manager statistics
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	DialingSessions int    `json:"dialing_sessions"`
	BridgedSessions int    `json:"bridged_sessions"`
	TotalCreated    uint64 `json:"total_created"`
	TotalClosed     uint64 `json:"total_closed"`
}

// NewManager creates a manager and starts its reaper.
// dialer may be nil when operator calls are placed elsewhere.
func NewManager(config Config, opener StreamOpener, dialer Dialer, publisher transcript.Publisher, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if opener == nil {
		return nil, fmt.Errorf("stream opener cannot be nil")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 30 * time.Second
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		config:    config,
		opener:    opener,
		dialer:    dialer,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		sessions:  make(map[string]*entry),
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go mgr.startReaper()

	return mgr, nil
}

// CreateSession registers a new Dialing session and starts its dial timeout
func (m *Manager) CreateSession(clientNumber, operatorNumber, sourceLanguage, targetLanguage string) (*call.Session, error) {
	if sourceLanguage == "" || targetLanguage == "" {
		return nil, fmt.Errorf("source and target languages are required")
	}

	session := call.NewSession(clientNumber, operatorNumber, sourceLanguage, targetLanguage)

	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, m.config.MaxSessions)
	}
	e := &entry{session: session}
	e.dialTimer = time.AfterFunc(m.config.DialTimeout, func() { m.dialTimedOut(session.ID) })
	m.sessions[session.ID] = e
	m.created++
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(count)

	m.logger.Info("Created call session",
		slog.String("session_id", session.ID),
		slog.String("source_language", sourceLanguage),
		slog.String("target_language", targetLanguage),
		slog.Duration("dial_timeout", m.config.DialTimeout),
	)

	return session, nil
}

// AttachLeg binds a telephony leg to a session.
// The client leg starts the operator dial; the operator leg acquires a
// worker with the configured bridge settings and the session is released
// if that fails.
func (m *Manager) AttachLeg(ctx context.Context, id string, role call.Role, leg call.Leg) error {
	session, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("attach %s leg: %w", role, ErrSessionNotFound)
	}
	if err := session.AttachLeg(role, leg); err != nil {
		return err
	}

	m.logger.Info("Leg attached",
		slog.String("session_id", id),
		slog.String("role", role.String()),
	)

	switch role {
	case call.RoleClient:
		go m.watchClient(id, session, leg)
		if m.dialer != nil {
			go m.dial(id, session)
		}
	case call.RoleOperator:
		if _, err := m.Acquire(ctx, id, m.config.Bridge); err != nil {
			var active *AlreadyActiveError
			if !errors.As(err, &active) {
				m.release(id, ReasonBridgeFailed, err.Error())
			}
			return err
		}
	}
	return nil
}

// Acquire opens the translation stream, builds the bridge and starts the
// worker of a Dialing session
func (m *Manager) Acquire(ctx context.Context, id string, cfg bridge.Config) (*SessionWorker, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if e.worker != nil || e.acquiring {
		m.mu.Unlock()
		return nil, &AlreadyActiveError{SessionID: id}
	}
	e.acquiring = true
	m.mu.Unlock()

	w, err := m.prepareWorker(ctx, e, cfg)

	m.mu.Lock()
	e.acquiring = false
	current, registered := m.sessions[id]
	if err == nil && (!registered || current != e) {
		err = fmt.Errorf("session released while acquiring: %w", ErrSessionNotFound)
	}
	if err == nil {
		e.worker = w
		if e.dialTimer != nil {
			e.dialTimer.Stop()
		}
	}
	m.mu.Unlock()

	if err != nil {
		if w != nil {
			w.cancel()
			w.stream.Close()
		}
		return nil, err
	}

	go w.run(func(runErr error) { m.workerExited(id, runErr) })

	m.logger.Info("Session bridged",
		slog.String("session_id", id),
		slog.Bool("mixing", cfg.Mixing.Enabled),
	)
	return w, nil
}

// prepareWorker builds a worker without starting it and moves the session to Bridging
func (m *Manager) prepareWorker(ctx context.Context, e *entry, cfg bridge.Config) (*SessionWorker, error) {
	stream, err := m.opener.Open(ctx, e.session)
	if err != nil {
		return nil, fmt.Errorf("open translation stream: %w", err)
	}

	b, err := bridge.New(e.session, stream, m.publisher, cfg, m.logger, m.metrics)
	if err != nil {
		stream.Close()
		return nil, err
	}

	if err := e.session.Transition(call.StateBridging, "operator connected"); err != nil {
		stream.Close()
		return nil, err
	}

	return newSessionWorker(m.ctx, e.session, b, stream, m.logger, m.metrics), nil
}

// Release tears a session down: Closing, worker stopped, stream and legs
// closed, Closed, unregistered. It returns false if the session is unknown,
// which makes repeated calls no-ops.
func (m *Manager) Release(id string) bool {
	return m.release(id, ReasonReleased, "released")
}

// FailDial releases a session whose operator call could not be placed
func (m *Manager) FailDial(id string, err error) bool {
	var dialErr *DialError
	if !errors.As(err, &dialErr) {
		dialErr = &DialError{SessionID: id, Err: err}
	}
	if dialErr.SessionID == "" {
		dialErr.SessionID = id
	}

	reason := ReasonDialFailed
	result := "failed"
	if dialErr.Timeout {
		reason = ReasonDialTimeout
		result = "timeout"
	}
	m.metrics.RecordDialResult(result)

	m.logger.Warn("Operator dial failed",
		slog.String("session_id", id),
		slog.String("error", dialErr.Error()),
	)
	return m.release(id, reason, dialErr.Error())
}

// Lookup returns a registered session
func (m *Manager) Lookup(id string) (*call.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Worker returns the worker of a bridged session
func (m *Manager) Worker(id string) (*SessionWorker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok || e.worker == nil {
		return nil, false
	}
	return e.worker, true
}

// Sessions returns the registered sessions, oldest first
func (m *Manager) Sessions() []*call.Session {
	m.mu.RLock()
	sessions := make([]*call.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// GetActiveSessionCount returns the number of registered sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		ActiveSessions: len(m.sessions),
		TotalCreated:   m.created,
		TotalClosed:    m.closed,
	}
	for _, e := range m.sessions {
		switch e.session.State() {
		case call.StateDialing:
			stats.DialingSessions++
		case call.StateBridging:
			stats.BridgedSessions++
		}
	}
	return stats
}

// Stop releases every session and stops the reaper
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		m.logger.Info("Stopping session manager...")

		for _, session := range m.Sessions() {
			m.release(session.ID, ReasonShutdown, "shutdown")
		}

		m.cancel()
		<-m.cleanup

		stats := m.GetStats()
		m.logger.Info("Session manager stopped",
			slog.Int("remaining_sessions", stats.ActiveSessions),
			slog.Uint64("total_created", stats.TotalCreated),
			slog.Uint64("total_closed", stats.TotalClosed),
		)
	})
}

func (m *Manager) release(id, reason, detail string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	w := e.worker
	m.closed++
	count := len(m.sessions)
	m.mu.Unlock()

	if e.dialTimer != nil {
		e.dialTimer.Stop()
	}

	session := e.session
	if err := session.Transition(call.StateClosing, detail); err != nil {
		m.logger.Debug("Session already closing", slog.String("session_id", id), slog.String("state", session.State().String()))
	}

	if w != nil {
		w.stop()
		if err := w.stream.Close(); err != nil {
			m.logger.Warn("Failed to close translation stream",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	for role, leg := range session.Legs() {
		if err := leg.Close(); err != nil {
			m.logger.Debug("Failed to close leg",
				slog.String("session_id", id),
				slog.String("role", role.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := session.Transition(call.StateClosed, reason); err != nil {
		m.logger.Warn("Failed to close session", slog.String("session_id", id), slog.String("error", err.Error()))
	}

	duration := time.Since(session.CreatedAt)
	m.metrics.RecordSessionClosed(reason, duration.Seconds())
	m.metrics.SetActiveSessions(count)

	m.logger.Info("Session released",
		slog.String("session_id", id),
		slog.String("reason", reason),
		slog.String("close_reason", session.CloseReason()),
		slog.Duration("duration", duration),
	)
	return true
}

// workerExited tears down a session whose bridge stopped on its own
func (m *Manager) workerExited(id string, err error) {
	if err == nil {
		return
	}
	m.logger.Error("Session worker failed",
		slog.String("session_id", id),
		slog.String("error", err.Error()),
	)
	m.release(id, ReasonWorkerError, err.Error())
}

func (m *Manager) dialTimedOut(id string) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	busy := ok && (e.worker != nil || e.acquiring)
	m.mu.RUnlock()

	if !ok || busy || e.session.State() != call.StateDialing {
		return
	}
	m.FailDial(id, &DialError{SessionID: id, Timeout: true})
}

func (m *Manager) dial(id string, session *call.Session) {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.DialTimeout)
	defer cancel()

	if err := m.dialer.Dial(ctx, session); err != nil {
		m.FailDial(id, err)
		return
	}
	m.metrics.RecordDialResult("initiated")
	m.logger.Info("Operator dial initiated", slog.String("session_id", id))
}

// watchClient releases the session if the client hangs up before the operator answers
func (m *Manager) watchClient(id string, session *call.Session, leg call.Leg) {
	for {
		changed := session.Changed()
		if session.State() != call.StateDialing {
			return
		}
		select {
		case <-leg.Done():
			if session.State() == call.StateDialing {
				m.release(id, ReasonClientHangup, "client hung up while dialing")
			}
			return
		case <-changed:
		case <-m.ctx.Done():
			return
		}
	}
}

// startReaper runs in a separate goroutine to release calls past their limit
func (m *Manager) startReaper() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.ReapInterval)
	defer ticker.Stop()

	m.logger.Info("Session reaper started",
		slog.Duration("max_call_duration", m.config.MaxCallDuration),
		slog.Duration("check_interval", m.config.ReapInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session reaper stopping")
			return
		case <-ticker.C:
			m.reapExpiredSessions()
		}
	}
}

// reapExpiredSessions releases sessions older than MaxCallDuration
func (m *Manager) reapExpiredSessions() {
	if m.config.MaxCallDuration <= 0 {
		return
	}

	now := time.Now()
	var expired []string
	m.mu.RLock()
	for id, e := range m.sessions {
		if now.Sub(e.session.CreatedAt) > m.config.MaxCallDuration {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Releasing expired sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.release(id, ReasonExpired, "maximum call duration reached")
		}
	}
}

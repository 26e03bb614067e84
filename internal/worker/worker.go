package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/skypro1111/call-translator/internal/bridge"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
)

// SessionWorker runs the bridge of one session in its own goroutine.
// A panic in the bridge is recovered and reported as the worker's error.
type SessionWorker struct {
	session   *call.Session
	bridge    *bridge.Bridge
	stream    bridge.TranslationStream
	logger    *slog.Logger
	metrics   *metrics.Metrics
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	mu     sync.Mutex
}

// WorkerInfo is a monitoring snapshot of a worker
type WorkerInfo struct {
	StartedAt time.Time    `json:"started_at"`
	Running   bool         `json:"running"`
	Error     string       `json:"error,omitempty"`
	Bridge    bridge.Stats `json:"bridge"`
}

func newSessionWorker(ctx context.Context, session *call.Session, b *bridge.Bridge, stream bridge.TranslationStream, logger *slog.Logger, m *metrics.Metrics) *SessionWorker {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionWorker{
		session:   session,
		bridge:    b,
		stream:    stream,
		logger:    logger.With(slog.String("session_id", session.ID)),
		metrics:   m,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// run executes the bridge; onExit is called after Done is closed
func (w *SessionWorker) run(onExit func(error)) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session worker panic: %v", r)
			w.metrics.RecordWorkerPanic()
			w.logger.Error("Session worker panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
		if onExit != nil {
			onExit(err)
		}
	}()

	err = w.bridge.Run(w.ctx)
}

// stop cancels the bridge and waits for the worker to exit
func (w *SessionWorker) stop() {
	w.cancel()
	<-w.done
}

// Session returns the session the worker serves
func (w *SessionWorker) Session() *call.Session {
	return w.session
}

// Done returns a channel closed when the worker exits
func (w *SessionWorker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error the worker exited with; nil while running or after a release
func (w *SessionWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Info returns a monitoring snapshot of the worker
func (w *SessionWorker) Info() WorkerInfo {
	info := WorkerInfo{
		StartedAt: w.startedAt,
		Bridge:    w.bridge.Stats(),
	}
	select {
	case <-w.done:
	default:
		info.Running = true
	}
	if err := w.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

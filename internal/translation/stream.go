package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/call-translator/internal/call"
)

// ErrStreamClosed is reported by a stream that was closed by its owner
var ErrStreamClosed = errors.New("translation stream closed")

// Stream is the session-level translation stream of one call.
// It multiplexes one WebSocket per role into a single event channel.
// Done is closed when any connection fails or the stream is closed.
type Stream struct {
	sessionID string
	client    *Client
	config    Config
	logger    *slog.Logger

	conns map[call.Role]*roleConn // fixed once the stream has started

	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	err       error
	errMu     sync.Mutex
	doneOnce  sync.Once
	closeOnce sync.Once

	// Statistics
	framesSent  atomic.Uint64
	bytesSent   atomic.Uint64
	audioEvents atomic.Uint64
	textEvents  atomic.Uint64
	malformed   atomic.Uint64
}

// StreamStats represents stream statistics
type StreamStats struct {
	SessionID   string `json:"session_id"`
	FramesSent  uint64 `json:"frames_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
	AudioEvents uint64 `json:"audio_events"`
	TextEvents  uint64 `json:"text_events"`
	Malformed   uint64 `json:"malformed_messages"`
}

type roleConn struct {
	role      call.Role
	storageID string
	conn      *websocket.Conn
	writeMu   sync.Mutex
}

func (rc *roleConn) write(data []byte, deadline time.Time) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if err := rc.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return rc.conn.WriteMessage(websocket.TextMessage, data)
}

func (rc *roleConn) ping(deadline time.Time) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	return rc.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func newStream(sessionID string, client *Client) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		sessionID: sessionID,
		client:    client,
		config:    client.config,
		logger:    client.logger.With(slog.String("session_id", sessionID)),
		conns:     make(map[call.Role]*roleConn, 2),
		events:    make(chan Event, client.config.EventBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// connect creates the storage session and WebSocket for role and sends its task
func (s *Stream) connect(ctx context.Context, role call.Role, task TaskSettings) error {
	storage, err := s.client.CreateSession(ctx)
	if err != nil {
		return err
	}
	rc := &roleConn{role: role, storageID: storage.ID}
	s.conns[role] = rc

	conn, err := s.client.dial(ctx, storage)
	if err != nil {
		return err
	}
	rc.conn = conn

	msg, err := EncodeSetTask(task)
	if err != nil {
		return err
	}
	if err := rc.write(msg, time.Now().Add(s.config.WriteTimeout)); err != nil {
		return fmt.Errorf("send set_task: %w", err)
	}

	s.logger.Debug("Translation connection ready",
		slog.String("role", role.String()),
		slog.String("storage_id", storage.ID),
		slog.String("source_language", task.Pipeline.Transcription.SourceLanguage),
	)
	return nil
}

func (s *Stream) start() {
	for _, rc := range s.conns {
		s.wg.Add(2)
		go s.readLoop(rc)
		go s.pingLoop(rc)
	}
}

// Send forwards one PCM frame spoken by f.Role to that role's connection
func (s *Stream) Send(ctx context.Context, f InputFrame) error {
	select {
	case <-s.done:
		return s.Err()
	default:
	}

	rc, ok := s.conns[f.Role]
	if !ok || rc.conn == nil {
		return fmt.Errorf("no translation connection for role %s", f.Role)
	}

	msg, err := EncodeInputAudio(f.PCM)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := rc.write(msg, deadline); err != nil {
		err = fmt.Errorf("%s connection write: %w", f.Role, err)
		s.fail(err)
		return err
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(f.PCM)))
	return nil
}

// Events returns translated audio and transcription events.
// The channel is never closed; watch Done for termination.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done returns a channel that is closed when the stream terminates
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the stream terminated, or nil while it is live
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends every task, closes the connections and deletes the storage
// sessions. It is safe to call more than once.
func (s *Stream) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, rc := range s.conns {
			if rc.conn == nil {
				continue
			}
			if msg, err := EncodeEndTask(false); err == nil {
				_ = rc.write(msg, time.Now().Add(s.config.WriteTimeout))
			}
			rc.writeMu.Lock()
			_ = rc.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			rc.writeMu.Unlock()
		}

		s.terminate(ErrStreamClosed)
		for _, rc := range s.conns {
			if rc.conn != nil {
				if err := rc.conn.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		for _, rc := range s.conns {
			if err := s.client.DeleteSession(ctx, rc.storageID); err != nil {
				s.logger.Warn("Failed to delete translation storage session",
					slog.String("role", rc.role.String()),
					slog.String("storage_id", rc.storageID),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
		}

		s.logger.Info("Translation stream closed",
			slog.Uint64("frames_sent", s.framesSent.Load()),
			slog.Uint64("audio_events", s.audioEvents.Load()),
			slog.Uint64("text_events", s.textEvents.Load()),
		)
	})
	return errors.Join(errs...)
}

// GetStats returns current stream statistics
func (s *Stream) GetStats() StreamStats {
	return StreamStats{
		SessionID:   s.sessionID,
		FramesSent:  s.framesSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		AudioEvents: s.audioEvents.Load(),
		TextEvents:  s.textEvents.Load(),
		Malformed:   s.malformed.Load(),
	}
}

func (s *Stream) readLoop(rc *roleConn) {
	defer s.wg.Done()

	extend := func() error {
		return rc.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	}
	_ = extend()
	rc.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(fmt.Errorf("%s connection: %w", rc.role, err))
			}
			return
		}
		_ = extend()

		msg, err := DecodeMessage(data)
		if err == nil {
			s.client.metrics.RecordTranslationMessage(msg.MessageType)
		}
		var ev Event
		if err == nil {
			ev, err = msg.Event(rc.role)
		}
		if err != nil {
			s.malformed.Add(1)
			s.client.metrics.RecordMalformedMessage()
			s.logger.Warn("Rejected translation message",
				slog.String("role", rc.role.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch e := ev.(type) {
		case nil:
			if msg.MessageType == MsgCurrentTask {
				s.logger.Debug("Translation task confirmed", slog.String("role", rc.role.String()))
			}
			continue
		case ErrorEvent:
			s.logger.Warn("Translation service reported an error",
				slog.String("role", rc.role.String()),
				slog.String("code", e.Code),
				slog.String("description", e.Description),
			)
			continue
		case AudioEvent:
			s.audioEvents.Add(1)
		case TextEvent:
			s.textEvents.Add(1)
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Stream) pingLoop(rc *roleConn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := rc.ping(time.Now().Add(s.config.WriteTimeout)); err != nil {
				if s.ctx.Err() == nil {
					s.fail(fmt.Errorf("%s connection ping: %w", rc.role, err))
				}
				return
			}
		}
	}
}

// fail terminates the stream with err; resources are released by Close
func (s *Stream) fail(err error) {
	if s.terminate(err) {
		s.logger.Error("Translation stream failed", slog.String("error", err.Error()))
	}
}

func (s *Stream) terminate(err error) bool {
	first := false
	s.doneOnce.Do(func() {
		first = true
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.cancel()
		close(s.done)
	})
	return first
}

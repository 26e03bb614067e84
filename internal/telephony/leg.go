package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/call-translator/internal/audio"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
)

// ErrLegClosed is returned by Send after the leg has hung up
var ErrLegClosed = errors.New("telephony leg closed")

// LegConfig contains media leg configuration
type LegConfig struct {
	FrameBuffer  int           // inbound frames held before the oldest is dropped
	StartTimeout time.Duration // how long Send waits for the start message
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultLegConfig returns the default media leg configuration
func DefaultLegConfig() LegConfig {
	return LegConfig{
		FrameBuffer:  50,
		StartTimeout: 10 * time.Second,
		WriteTimeout: time.Second,
		PingInterval: 20 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

func (c LegConfig) withDefaults() LegConfig {
	d := DefaultLegConfig()
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = d.FrameBuffer
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	return c
}

// MediaLeg is one party's media stream WebSocket, exposed as a call.Leg.
// The read loop never blocks: when the frame buffer is full the oldest
// frame is dropped. Send waits until the stream has started.
type MediaLeg struct {
	role      call.Role
	sessionID string
	conn      *websocket.Conn
	config    LegConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	frames  chan audio.Frame
	started chan struct{}
	done    chan struct{}

	streamSID string
	callSID   string
	infoMu    sync.RWMutex

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Statistics
	framesIn      atomic.Uint64
	framesOut     atomic.Uint64
	framesDropped atomic.Uint64
	badMessages   atomic.Uint64
	nextSeq       uint32 // used when media carries no chunk number
}

// LegStats represents media leg statistics
type LegStats struct {
	Role          call.Role `json:"role"`
	StreamSID     string    `json:"stream_sid,omitempty"`
	CallSID       string    `json:"call_sid,omitempty"`
	FramesIn      uint64    `json:"frames_in"`
	FramesOut     uint64    `json:"frames_out"`
	FramesDropped uint64    `json:"frames_dropped"`
	BadMessages   uint64    `json:"bad_messages"`
}

// NewMediaLeg starts reading conn and returns the leg.
// The leg owns conn from now on.
func NewMediaLeg(conn *websocket.Conn, role call.Role, sessionID string, config LegConfig, logger *slog.Logger, m *metrics.Metrics) *MediaLeg {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	l := &MediaLeg{
		role:      role,
		sessionID: sessionID,
		conn:      conn,
		config:    config,
		logger: logger.With(
			slog.String("session_id", sessionID),
			slog.String("role", role.String()),
		),
		metrics: m,
		frames:  make(chan audio.Frame, config.FrameBuffer),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}

	m.RecordLegConnected(role.String())
	l.wg.Add(2)
	go l.readLoop()
	go l.pingLoop()
	return l
}

// Frames implements call.Leg; the channel is closed when the leg hangs up
func (l *MediaLeg) Frames() <-chan audio.Frame {
	return l.frames
}

// Done implements call.Leg
func (l *MediaLeg) Done() <-chan struct{} {
	return l.done
}

// Started returns a channel that is closed once the start message arrived
func (l *MediaLeg) Started() <-chan struct{} {
	return l.started
}

// Send writes one µ-law frame to the party.
// It waits for the stream to start and honours ctx and the write timeout.
func (l *MediaLeg) Send(ctx context.Context, f audio.Frame) error {
	if f.Encoding != audio.EncodingMulaw8k {
		return fmt.Errorf("%s leg: cannot send %s audio", l.role, f.Encoding)
	}

	select {
	case <-l.started:
	case <-l.done:
		return ErrLegClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.config.StartTimeout):
		return fmt.Errorf("%s leg: media stream did not start within %s", l.role, l.config.StartTimeout)
	}

	msg, err := EncodeMedia(l.StreamSID(), f.Payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(l.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	select {
	case <-l.done:
		return ErrLegClosed
	default:
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("%s leg write: %w", l.role, err)
	}
	l.framesOut.Add(1)
	return nil
}

// Close hangs the leg up and waits for its goroutines; safe to call more than once
func (l *MediaLeg) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = l.conn.Close()
		l.writeMu.Unlock()
		l.wg.Wait()
	})
	return err
}

// StreamSID returns the stream id announced by the start message
func (l *MediaLeg) StreamSID() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.streamSID
}

// CallSID returns the telephony call id announced by the start message
func (l *MediaLeg) CallSID() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.callSID
}

// GetStats returns current leg statistics
func (l *MediaLeg) GetStats() LegStats {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return LegStats{
		Role:          l.role,
		StreamSID:     l.streamSID,
		CallSID:       l.callSID,
		FramesIn:      l.framesIn.Load(),
		FramesOut:     l.framesOut.Load(),
		FramesDropped: l.framesDropped.Load(),
		BadMessages:   l.badMessages.Load(),
	}
}

func (l *MediaLeg) readLoop() {
	defer l.wg.Done()
	defer func() {
		close(l.frames)
		close(l.done)
		l.metrics.RecordLegDisconnected(l.role.String())
		l.logger.Info("Media stream ended",
			slog.Uint64("frames_in", l.framesIn.Load()),
			slog.Uint64("frames_out", l.framesOut.Load()),
			slog.Uint64("frames_dropped", l.framesDropped.Load()),
		)
	}()

	extend := func() error {
		return l.conn.SetReadDeadline(time.Now().Add(l.config.PongTimeout))
	}
	_ = extend()
	l.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug("Media stream read failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = extend()

		msg, err := ParseMessage(data)
		if err != nil {
			l.badMessages.Add(1)
			l.logger.Warn("Rejected media stream message", slog.String("error", err.Error()))
			continue
		}
		l.metrics.RecordTelephonyMessage(msg.Event)

		switch msg.Event {
		case EventConnected:
			l.logger.Debug("Media stream connected", slog.String("protocol", msg.Protocol))
		case EventStart:
			l.handleStart(msg.Start)
		case EventMedia:
			l.handleMedia(msg)
		case EventStop:
			l.logger.Info("Media stream stopped by the telephony provider")
			return
		default:
			l.logger.Debug("Ignoring media stream event", slog.String("event", msg.Event))
		}
	}
}

func (l *MediaLeg) handleStart(start *StartInfo) {
	select {
	case <-l.started:
		l.logger.Warn("Duplicate media stream start", slog.String("stream_sid", start.StreamSID))
		return
	default:
	}

	l.infoMu.Lock()
	l.streamSID = start.StreamSID
	l.callSID = start.CallSID
	l.infoMu.Unlock()
	close(l.started)

	l.logger.Info("Media stream started",
		slog.String("stream_sid", start.StreamSID),
		slog.String("call_sid", start.CallSID),
		slog.String("encoding", start.MediaFormat.Encoding),
		slog.Int("sample_rate", start.MediaFormat.SampleRate),
	)
}

func (l *MediaLeg) handleMedia(msg *Message) {
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return
	}
	payload, err := msg.Audio()
	if err != nil {
		l.badMessages.Add(1)
		l.logger.Warn("Rejected media payload", slog.String("error", err.Error()))
		return
	}

	seq := msg.ChunkNumber()
	if seq == 0 {
		l.nextSeq++
		seq = l.nextSeq
	}
	l.push(audio.Frame{Payload: payload, Encoding: audio.EncodingMulaw8k, Sequence: seq})
}

// push enqueues f, dropping the oldest buffered frame when full
func (l *MediaLeg) push(f audio.Frame) {
	l.framesIn.Add(1)
	select {
	case l.frames <- f:
		return
	default:
	}

	select {
	case <-l.frames:
		l.framesDropped.Add(1)
		l.metrics.RecordFrameDropped("inbound")
	default:
	}
	select {
	case l.frames <- f:
	default:
		l.framesDropped.Add(1)
		l.metrics.RecordFrameDropped("inbound")
	}
}

func (l *MediaLeg) pingLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.config.WriteTimeout))
			l.writeMu.Unlock()
			if err != nil {
				l.logger.Debug("Media stream ping failed", slog.String("error", err.Error()))
				_ = l.conn.Close()
				return
			}
		}
	}
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/call-translator/internal/audio"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
	"github.com/skypro1111/call-translator/internal/transcript"
	"github.com/skypro1111/call-translator/internal/translation"
)

// ErrAlreadyRunning is returned when Run is called twice on one bridge
var ErrAlreadyRunning = errors.New("bridge already running")

// TranslationStream is the session-level stream the bridge feeds and drains
type TranslationStream interface {
	Send(ctx context.Context, f translation.InputFrame) error
	Events() <-chan translation.Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Bridge routes audio for one bridged call.
// Speech of role R is sent for translation and the translated speech is
// played to R.Other(). Run is the single consumer of leg frames and
// translation events; per-leg state touched by Run is owned by it.
type Bridge struct {
	session   *call.Session
	stream    TranslationStream
	publisher transcript.Publisher
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	legs     map[call.Role]*legState // fixed after New
	uplink   chan translation.InputFrame
	failures chan error // first error of each writer

	uplinkDrops int // consecutive, owned by Run
	running     atomic.Bool

	// Statistics
	uplinkSent      atomic.Uint64
	transcriptsSent atomic.Uint64
}

type legState struct {
	role    call.Role
	leg     call.Leg
	tracker *audio.SequenceTracker
	meter   *audio.ActivityMeter

	// Speech of this role on its way back from translation; owned by Run
	framer    *audio.Framer
	originals [][]byte
	utterance utterance

	// Frames to play on this leg
	outbound       chan audio.Frame
	downlinkDrops  int // consecutive, owned by Run
	outboundClosed bool

	framesIn        atomic.Uint64
	framesOut       atomic.Uint64
	formatErrors    atomic.Uint64
	uplinkDropped   atomic.Uint64
	downlinkDropped atomic.Uint64
}

type utterance struct {
	id       string
	original string
	language string
}

// LegStats represents per-role bridge statistics
type LegStats struct {
	Role            call.Role           `json:"role"`
	FramesIn        uint64              `json:"frames_in"`
	FramesOut       uint64              `json:"frames_out"`
	FormatErrors    uint64              `json:"format_errors"`
	UplinkDropped   uint64              `json:"uplink_dropped"`
	DownlinkDropped uint64              `json:"downlink_dropped"`
	OutboundQueued  int                 `json:"outbound_queued"`
	Sequence        audio.SequenceStats `json:"sequence"`
	Activity        audio.ActivityStats `json:"activity"`
	Translated      audio.FramerStats   `json:"translated"`
}

// Stats represents bridge statistics
type Stats struct {
	SessionID       string     `json:"session_id"`
	UplinkQueued    int        `json:"uplink_queued"`
	UplinkSent      uint64     `json:"uplink_sent"`
	TranscriptsSent uint64     `json:"transcripts_sent"`
	Legs            []LegStats `json:"legs"`
}

// New creates a bridge for a session with both legs attached
func New(session *call.Session, stream TranslationStream, publisher transcript.Publisher, config Config, logger *slog.Logger, m *metrics.Metrics) (*Bridge, error) {
	if session == nil || stream == nil {
		return nil, fmt.Errorf("bridge needs a session and a translation stream")
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		session:   session,
		stream:    stream,
		publisher: publisher,
		config:    config,
		logger:    logger.With(slog.String("session_id", session.ID)),
		metrics:   m,
		legs:      make(map[call.Role]*legState, len(call.Roles)),
		uplink:    make(chan translation.InputFrame, config.UplinkQueue),
		failures:  make(chan error, len(call.Roles)+1),
	}

	for _, role := range call.Roles {
		leg, ok := session.Leg(role)
		if !ok {
			return nil, fmt.Errorf("bridge needs a %s leg", role)
		}
		meter, err := audio.NewActivityMeter(config.ActivityThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s activity meter: %w", role, err)
		}
		b.legs[role] = &legState{
			role:     role,
			leg:      leg,
			tracker:  audio.NewSequenceTracker(),
			meter:    meter,
			framer:   audio.NewFramer(audio.EncodingPCM24k),
			outbound: make(chan audio.Frame, config.DownlinkQueue),
		}
	}

	return b, nil
}

// Run bridges the call until ctx is cancelled or a fatal error occurs.
// Cancellation returns nil and discards pending writes. A fatal error moves
// the session to Closing, lets the legs flush for at most DrainTimeout and
// is returned.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	writerCtx, cancelWriters := context.WithCancel(ctx)
	defer cancelWriters()
	uplinkCtx, cancelUplink := context.WithCancel(writerCtx)
	defer cancelUplink()

	// Writers report failures to the loop instead of cancelling each other,
	// so the surviving leg can still be drained after the other hangs up
	var g errgroup.Group
	g.Go(func() error { return b.report(b.writeUplink(uplinkCtx)) })
	for _, ls := range b.legs {
		g.Go(func() error { return b.report(b.writeLeg(writerCtx, ls)) })
	}

	b.logger.Info("Bridge started",
		slog.String("source_language", b.session.SourceLanguage),
		slog.String("target_language", b.session.TargetLanguage),
		slog.Bool("mixing", b.config.Mixing.Enabled),
	)

	err := b.loop(ctx)

	if ctx.Err() != nil {
		cancelWriters()
		_ = g.Wait()
		b.logger.Info("Bridge released", slog.Uint64("uplink_sent", b.uplinkSent.Load()))
		return nil
	}

	b.beginClosing(err)
	b.drain(cancelUplink, cancelWriters, &g)
	return err
}

// report hands a writer's failure to the loop
func (b *Bridge) report(err error) error {
	if err != nil {
		select {
		case b.failures <- err:
		default:
		}
	}
	return err
}

// Stats returns a snapshot of the bridge statistics
func (b *Bridge) Stats() Stats {
	stats := Stats{
		SessionID:       b.session.ID,
		UplinkQueued:    len(b.uplink),
		UplinkSent:      b.uplinkSent.Load(),
		TranscriptsSent: b.transcriptsSent.Load(),
		Legs:            make([]LegStats, 0, len(b.legs)),
	}
	for _, role := range call.Roles {
		ls := b.legs[role]
		stats.Legs = append(stats.Legs, LegStats{
			Role:            role,
			FramesIn:        ls.framesIn.Load(),
			FramesOut:       ls.framesOut.Load(),
			FormatErrors:    ls.formatErrors.Load(),
			UplinkDropped:   ls.uplinkDropped.Load(),
			DownlinkDropped: ls.downlinkDropped.Load(),
			OutboundQueued:  len(ls.outbound),
			Sequence:        ls.tracker.GetStats(),
			Activity:        ls.meter.GetStats(),
			Translated:      ls.framer.GetStats(),
		})
	}
	return stats
}

// loop consumes translation events and leg frames, downlink first.
// It returns nil when ctx is done and the first fatal error otherwise.
func (b *Bridge) loop(ctx context.Context) error {
	clientFrames := b.legs[call.RoleClient].leg.Frames()
	operatorFrames := b.legs[call.RoleOperator].leg.Frames()
	events := b.stream.Events()

	for {
		select {
		case ev := <-events:
			if err := b.handleEvent(ctx, ev); err != nil {
				return b.loopError(ctx, err)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-b.failures:
			return err
		case <-b.stream.Done():
			return &StreamClosedError{Source: SourceTranslation, Err: b.stream.Err()}
		case ev := <-events:
			if err := b.handleEvent(ctx, ev); err != nil {
				return b.loopError(ctx, err)
			}
		case f, ok := <-clientFrames:
			if !ok {
				return &StreamClosedError{Source: SourceTelephony, Role: call.RoleClient, Err: errors.New("hung up")}
			}
			if err := b.handleLegFrame(b.legs[call.RoleClient], f); err != nil {
				return err
			}
		case f, ok := <-operatorFrames:
			if !ok {
				return &StreamClosedError{Source: SourceTelephony, Role: call.RoleOperator, Err: errors.New("hung up")}
			}
			if err := b.handleLegFrame(b.legs[call.RoleOperator], f); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) loopError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// handleLegFrame runs the uplink path for one frame spoken on ls
func (b *Bridge) handleLegFrame(ls *legState, f audio.Frame) error {
	role := ls.role.String()
	ls.framesIn.Add(1)
	b.metrics.RecordFrame("inbound", role)

	if f.Encoding != audio.EncodingMulaw8k {
		b.formatError(ls, "uplink", &audio.FormatError{Op: "uplink", Encoding: f.Encoding, Got: len(f.Payload), Want: audio.MulawFrameSize})
		return nil
	}

	gap, ok := ls.tracker.Observe(f.Sequence)
	if !ok {
		b.logger.Debug("Dropped stale frame",
			slog.String("role", role),
			slog.Uint64("sequence", uint64(f.Sequence)),
		)
		return nil
	}
	if gap > 0 {
		b.metrics.RecordFramesLost(role, int(gap))
		b.logger.Debug("Frame gap detected",
			slog.String("role", role),
			slog.Uint64("sequence", uint64(f.Sequence)),
			slog.Uint64("lost", uint64(gap)),
		)
	}

	decoded, err := audio.DecodeFrame(f)
	if err != nil {
		b.formatError(ls, "uplink", err)
		return nil
	}
	pcm := decoded.Payload

	if ls.meter.Process(pcm).HasVoice {
		b.metrics.RecordVoiceFrame(role)
	}
	if b.config.Mixing.Enabled {
		ls.originals = append(ls.originals, pcm)
		if len(ls.originals) > b.config.OriginalBacklog {
			ls.originals = ls.originals[len(ls.originals)-b.config.OriginalBacklog:]
		}
	}
	b.session.Touch()

	return b.enqueueUplink(ls, translation.InputFrame{Role: ls.role, Sequence: decoded.Sequence, PCM: pcm})
}

// enqueueUplink never blocks: a full queue loses its oldest frame
func (b *Bridge) enqueueUplink(ls *legState, f translation.InputFrame) error {
	select {
	case b.uplink <- f:
		b.uplinkDrops = 0
		return nil
	default:
	}

	select {
	case <-b.uplink:
	default:
	}
	select {
	case b.uplink <- f:
	default:
	}

	b.uplinkDrops++
	ls.uplinkDropped.Add(1)
	b.metrics.RecordFrameDropped(string(DirectionUplink))
	b.logger.Debug("Dropped oldest queued frame",
		slog.String("direction", string(DirectionUplink)),
		slog.String("role", ls.role.String()),
		slog.Int("consecutive_drops", b.uplinkDrops),
	)
	if b.uplinkDrops > b.config.DropThreshold {
		b.metrics.RecordBackpressureFailure(string(DirectionUplink))
		return &BackpressureError{Direction: DirectionUplink, Role: ls.role, Drops: b.uplinkDrops}
	}
	return nil
}

func (b *Bridge) handleEvent(ctx context.Context, ev translation.Event) error {
	switch e := ev.(type) {
	case translation.AudioEvent:
		return b.handleAudio(ctx, e)
	case translation.TextEvent:
		b.handleText(e)
	}
	return nil
}

// handleAudio runs the downlink path: speech translated for role R goes to R.Other()
func (b *Bridge) handleAudio(ctx context.Context, ev translation.AudioEvent) error {
	speaker, ok := b.legs[ev.Role]
	if !ok {
		b.logger.Warn("Translated audio for unknown role", slog.String("role", ev.Role.String()))
		return nil
	}
	dest := b.legs[ev.Role.Other()]

	for _, pf := range speaker.framer.Push(ev.PCM) {
		if b.config.Mixing.Enabled {
			mixed, err := audio.Mix(pf.Payload, speaker.nextOriginal(), b.config.Mixing.TranslatedGain, b.config.Mixing.OriginalGain)
			if err != nil {
				b.formatError(dest, "downlink", err)
				continue
			}
			pf.Payload = mixed
		}

		out, err := audio.EncodeFrame(pf)
		if err != nil {
			b.formatError(dest, "downlink", err)
			continue
		}

		if err := b.enqueueDownlink(ctx, dest, out); err != nil {
			return err
		}
	}
	return nil
}

// nextOriginal returns the oldest remembered original frame, or silence
func (ls *legState) nextOriginal() []byte {
	if len(ls.originals) == 0 {
		return audio.Silence(audio.EncodingPCM24k, 0).Payload
	}
	pcm := ls.originals[0]
	ls.originals = ls.originals[1:]
	return pcm
}

// enqueueDownlink waits at most SendTimeout for room, then drops the oldest frame
func (b *Bridge) enqueueDownlink(ctx context.Context, dest *legState, f audio.Frame) error {
	select {
	case dest.outbound <- f:
		dest.downlinkDrops = 0
		return nil
	default:
	}

	timer := time.NewTimer(b.config.SendTimeout)
	defer timer.Stop()

	select {
	case dest.outbound <- f:
		dest.downlinkDrops = 0
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	select {
	case <-dest.outbound:
	default:
	}
	select {
	case dest.outbound <- f:
	default:
	}

	dest.downlinkDrops++
	dest.downlinkDropped.Add(1)
	b.metrics.RecordFrameDropped(string(DirectionDownlink))
	b.logger.Debug("Dropped oldest queued frame",
		slog.String("direction", string(DirectionDownlink)),
		slog.String("role", dest.role.String()),
		slog.Int("consecutive_drops", dest.downlinkDrops),
	)
	if dest.downlinkDrops > b.config.DropThreshold {
		b.metrics.RecordBackpressureFailure(string(DirectionDownlink))
		return &BackpressureError{Direction: DirectionDownlink, Role: dest.role, Drops: dest.downlinkDrops}
	}
	return nil
}

// handleText turns recognized and translated text into transcript events
func (b *Bridge) handleText(ev translation.TextEvent) {
	if ev.Text == "" {
		return
	}
	ls, ok := b.legs[ev.Role]
	if !ok {
		return
	}
	u := &ls.utterance
	if u.id == "" {
		u.id = uuid.NewString()
	}

	event := transcript.Event{
		SessionID:       b.session.ID,
		TranscriptionID: u.id,
		Role:            ev.Role,
		Timestamp:       time.Now(),
	}

	switch ev.Kind {
	case translation.TextPartial, translation.TextValidated:
		u.original = ev.Text
		u.language = ev.Language
		if u.language == "" {
			u.language = b.session.Language(ev.Role)
		}
		event.Action = transcript.ActionPartial
		event.OriginalText = u.original
		event.OriginalLanguage = u.language

	case translation.TextTranslated:
		translated := ev.Text
		event.Action = transcript.ActionFinal
		event.OriginalText = u.original
		event.OriginalLanguage = u.language
		if event.OriginalLanguage == "" {
			event.OriginalLanguage = b.session.Language(ev.Role)
		}
		event.TranslatedText = &translated
		*u = utterance{}

	default:
		return
	}

	b.transcriptsSent.Add(1)
	if b.publisher != nil {
		b.publisher.Publish(event)
	}
}

func (b *Bridge) formatError(ls *legState, direction string, err error) {
	ls.formatErrors.Add(1)
	b.metrics.RecordFormatError(direction)
	b.logger.Warn("Skipped malformed frame",
		slog.String("role", ls.role.String()),
		slog.String("direction", direction),
		slog.String("error", err.Error()),
	)
}

func (b *Bridge) writeUplink(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-b.uplink:
			if err := b.stream.Send(ctx, f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &StreamClosedError{Source: SourceTranslation, Err: err}
			}
			b.uplinkSent.Add(1)
			b.metrics.RecordFrame(string(DirectionUplink), f.Role.String())
		}
	}
}

// writeLeg plays queued frames on one leg in enqueue order until the queue
// is closed or ctx is done
func (b *Bridge) writeLeg(ctx context.Context, ls *legState) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-ls.outbound:
			if !ok {
				return nil
			}
			if err := ls.leg.Send(ctx, f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &StreamClosedError{Source: SourceTelephony, Role: ls.role, Err: err}
			}
			ls.framesOut.Add(1)
			b.metrics.RecordFrame(string(DirectionDownlink), ls.role.String())
		}
	}
}

func (b *Bridge) beginClosing(err error) {
	if tErr := b.session.Transition(call.StateClosing, err.Error()); tErr != nil {
		b.logger.Debug("Session already leaving Bridging", slog.String("state", b.session.State().String()))
	}

	var bp *BackpressureError
	if errors.As(err, &bp) {
		b.logger.Error("Bridge closing on backpressure",
			slog.String("direction", string(bp.Direction)),
			slog.String("role", bp.Role.String()),
			slog.Int("drops", bp.Drops),
		)
		return
	}
	b.logger.Warn("Bridge closing", slog.String("reason", err.Error()))
}

// drain stops the uplink, lets the leg writers flush what is queued and
// cancels them after DrainTimeout
func (b *Bridge) drain(cancelUplink, cancelWriters context.CancelFunc, g *errgroup.Group) {
	cancelUplink()

	for _, ls := range b.legs {
		if frame, ok := ls.framer.Flush(); ok {
			if encoded, err := audio.EncodeFrame(frame); err == nil {
				select {
				case b.legs[ls.role.Other()].outbound <- encoded:
				default:
				}
			}
		}
	}
	for _, ls := range b.legs {
		if !ls.outboundClosed {
			ls.outboundClosed = true
			close(ls.outbound)
		}
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		b.logger.Warn("Drain timed out, discarding queued frames", slog.Duration("timeout", b.config.DrainTimeout))
		cancelWriters()
		<-done
	}
}

package bridge_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/call-translator/internal/audio"
	"github.com/skypro1111/call-translator/internal/bridge"
	"github.com/skypro1111/call-translator/internal/bridge/bridgetest"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
	"github.com/skypro1111/call-translator/internal/transcript"
	"github.com/skypro1111/call-translator/internal/translation"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testCall struct {
	session  *call.Session
	client   *bridgetest.Leg
	operator *bridgetest.Leg
	stream   *bridgetest.Stream
}

func newTestCall(t *testing.T, eventBuffer int) *testCall {
	t.Helper()
	tc := &testCall{
		session:  call.NewSession("+15550001", "+15550002", "en", "pl"),
		client:   bridgetest.NewLeg(1024),
		operator: bridgetest.NewLeg(1024),
		stream:   bridgetest.NewStream(eventBuffer),
	}
	require.NoError(t, tc.session.AttachLeg(call.RoleClient, tc.client))
	require.NoError(t, tc.session.AttachLeg(call.RoleOperator, tc.operator))
	require.NoError(t, tc.session.Transition(call.StateBridging, "operator answered"))
	return tc
}

func (tc *testCall) bridge(t *testing.T, cfg bridge.Config, pub transcript.Publisher) *bridge.Bridge {
	t.Helper()
	b, err := bridge.New(tc.session, tc.stream, pub, cfg, testLogger(), nil)
	require.NoError(t, err)
	return b
}

func start(t *testing.T, b *bridge.Bridge) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func mulawFrame(seq uint32, value byte) audio.Frame {
	return audio.Frame{Payload: bytes.Repeat([]byte{value}, audio.MulawFrameSize), Encoding: audio.EncodingMulaw8k, Sequence: seq}
}

func pcmConst(sample int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

func noMixing() bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.Mixing.Enabled = false
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []transcript.Event
	onPub  func()
}

func (r *recorder) Publish(e transcript.Event) {
	if r.onPub != nil {
		r.onPub()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []transcript.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcript.Event(nil), r.events...)
}

func legStats(b *bridge.Bridge, role call.Role) bridge.LegStats {
	for _, ls := range b.Stats().Legs {
		if ls.Role == role {
			return ls
		}
	}
	return bridge.LegStats{}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*bridge.Config)
		wantErr bool
	}{
		{"defaults", func(*bridge.Config) {}, false},
		{"gain above one", func(c *bridge.Config) { c.Mixing.TranslatedGain = 1.5 }, true},
		{"negative gain", func(c *bridge.Config) { c.Mixing.OriginalGain = -0.1 }, true},
		{"gains ignored without mixing", func(c *bridge.Config) { c.Mixing.Enabled = false; c.Mixing.OriginalGain = 7 }, false},
		{"zero threshold", func(c *bridge.Config) { c.DropThreshold = 0 }, true},
		{"zero queue", func(c *bridge.Config) { c.UplinkQueue = 0 }, true},
		{"negative drain", func(c *bridge.Config) { c.DrainTimeout = -time.Second }, true},
		{"activity out of range", func(c *bridge.Config) { c.ActivityThreshold = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := bridge.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := bridge.DefaultConfig()
	assert.True(t, cfg.Mixing.Enabled)
	assert.Equal(t, 0.3, cfg.Mixing.OriginalGain)
	assert.Equal(t, 0.7, cfg.Mixing.TranslatedGain)
	assert.Equal(t, 50, cfg.DropThreshold)
}

func TestNewRequiresBothLegs(t *testing.T) {
	session := call.NewSession("", "", "en", "pl")
	require.NoError(t, session.AttachLeg(call.RoleClient, bridgetest.NewLeg(1)))

	_, err := bridge.New(session, bridgetest.NewStream(1), nil, bridge.DefaultConfig(), testLogger(), nil)
	assert.Error(t, err)

	_, err = bridge.New(nil, bridgetest.NewStream(1), nil, bridge.DefaultConfig(), testLogger(), nil)
	assert.Error(t, err)
}

func TestRunTwice(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	cancel, errc := start(t, b)

	require.True(t, tc.client.Push(mulawFrame(1, 0xFF)))
	require.True(t, tc.stream.WaitSent(1, waitTimeout))
	assert.ErrorIs(t, b.Run(context.Background()), bridge.ErrAlreadyRunning)

	cancel()
	assert.NoError(t, waitRun(t, errc))
}

func TestUplinkForwardsDecodedFrames(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	start(t, b)

	for seq := uint32(1); seq <= 3; seq++ {
		require.True(t, tc.client.Push(mulawFrame(seq, 0x80)))
	}
	require.True(t, tc.operator.Push(mulawFrame(9, 0x00)))
	require.True(t, tc.stream.WaitSent(4, waitTimeout))

	var clientSeqs []uint32
	for _, f := range tc.stream.Sent() {
		assert.Len(t, f.PCM, audio.PCMFrameSize)
		if f.Role == call.RoleClient {
			clientSeqs = append(clientSeqs, f.Sequence)
			want, err := audio.Decode(mulawFrame(f.Sequence, 0x80).Payload)
			require.NoError(t, err)
			assert.Equal(t, want, f.PCM)
		} else {
			assert.Equal(t, call.RoleOperator, f.Role)
			assert.Equal(t, uint32(9), f.Sequence)
		}
	}
	assert.Equal(t, []uint32{1, 2, 3}, clientSeqs)
	assert.Equal(t, uint64(3), legStats(b, call.RoleClient).FramesIn)
}

func TestUplinkDropsStaleFrames(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	start(t, b)

	for _, seq := range []uint32{5, 6, 4, 9} {
		require.True(t, tc.client.Push(mulawFrame(seq, 0xFF)))
	}
	require.True(t, tc.stream.WaitSent(3, waitTimeout))

	var seqs []uint32
	for _, f := range tc.stream.Sent() {
		seqs = append(seqs, f.Sequence)
	}
	assert.Equal(t, []uint32{5, 6, 9}, seqs)

	stats := legStats(b, call.RoleClient)
	assert.Equal(t, uint32(1), stats.Sequence.StaleFrames)
	assert.Equal(t, uint32(2), stats.Sequence.LostFrames)
}

func TestDownlinkRoutesToOtherRole(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	start(t, b)

	clientSpeech := pcmConst(1000, 2*audio.PCMFrameSize/2)
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: clientSpeech}))
	require.True(t, tc.operator.WaitSent(2, waitTimeout))

	want := bytes.Repeat([]byte{audio.LinearToMulaw(1000)}, audio.MulawFrameSize)
	for _, f := range tc.operator.Sent() {
		assert.Equal(t, audio.EncodingMulaw8k, f.Encoding)
		assert.Equal(t, want, f.Payload)
	}
	assert.Empty(t, tc.client.Sent())

	operatorSpeech := pcmConst(-2000, audio.PCMFrameSize/2)
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: operatorSpeech}))
	require.True(t, tc.client.WaitSent(1, waitTimeout))
	assert.Equal(t, bytes.Repeat([]byte{audio.LinearToMulaw(-2000)}, audio.MulawFrameSize), tc.client.Sent()[0].Payload)
	assert.Len(t, tc.operator.Sent(), 2)
}

func TestDownlinkReframesUnalignedChunks(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	start(t, b)

	speech := pcmConst(500, audio.PCMFrameSize) // two frames worth
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: speech[:700]}))
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: speech[700:1500]}))
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: speech[1500:]}))

	require.True(t, tc.client.WaitSent(2, waitTimeout))
	sent := tc.client.Sent()
	assert.Equal(t, uint32(0), sent[0].Sequence)
	assert.Equal(t, uint32(1), sent[1].Sequence)
}

func TestDownlinkMixesOriginalSpeech(t *testing.T) {
	tc := newTestCall(t, 16)
	cfg := bridge.DefaultConfig()
	b := tc.bridge(t, cfg, nil)
	start(t, b)

	original := mulawFrame(1, 0x90)
	require.True(t, tc.client.Push(original))
	require.True(t, tc.stream.WaitSent(1, waitTimeout))

	translated := pcmConst(4000, audio.PCMFrameSize/2)
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: translated}))
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: translated}))
	require.True(t, tc.operator.WaitSent(2, waitTimeout))

	originalPCM, err := audio.Decode(original.Payload)
	require.NoError(t, err)
	mixed, err := audio.Mix(translated, originalPCM, 0.7, 0.3)
	require.NoError(t, err)
	want, err := audio.Encode(mixed)
	require.NoError(t, err)

	// Once the remembered original is used up the translation is mixed with silence
	alone, err := audio.Mix(translated, make([]byte, audio.PCMFrameSize), 0.7, 0.3)
	require.NoError(t, err)
	wantAlone, err := audio.Encode(alone)
	require.NoError(t, err)

	sent := tc.operator.Sent()
	assert.Equal(t, want, sent[0].Payload)
	assert.Equal(t, wantAlone, sent[1].Payload)
}

func TestDownlinkHasPriority(t *testing.T) {
	tc := newTestCall(t, 16)
	rec := &recorder{}
	b := tc.bridge(t, noMixing(), rec)

	var framesSeen []uint64
	rec.onPub = func() {
		framesSeen = append(framesSeen, legStats(b, call.RoleClient).FramesIn)
	}

	for seq := uint32(1); seq <= 5; seq++ {
		require.True(t, tc.client.Push(mulawFrame(seq, 0xFF)))
		require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleClient, Kind: translation.TextPartial, Text: "hi", Language: "en"}))
	}
	start(t, b)

	require.Eventually(t, func() bool { return len(rec.Events()) == 5 }, waitTimeout, 5*time.Millisecond)
	require.True(t, tc.stream.WaitSent(5, waitTimeout))
	assert.Equal(t, []uint64{0, 0, 0, 0, 0}, framesSeen)
}

func TestTranscriptPartialThenFinal(t *testing.T) {
	tc := newTestCall(t, 16)
	broadcaster := transcript.NewBroadcaster(transcript.DefaultConfig(), testLogger(), nil)
	defer broadcaster.Close()
	b := tc.bridge(t, noMixing(), broadcaster)
	start(t, b)

	require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleClient, Kind: translation.TextPartial, Text: "hello", Language: "en"}))
	require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleClient, Kind: translation.TextPartial, Text: "", Language: "en"}))
	require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleClient, Kind: translation.TextTranslated, Text: "cześć", Language: "pl"}))

	require.Eventually(t, func() bool { return len(broadcaster.Replay()) == 2 }, waitTimeout, 5*time.Millisecond)

	// An observer connecting after both events still sees them
	sub, replay, err := broadcaster.Subscribe()
	require.NoError(t, err)
	defer broadcaster.Unsubscribe(sub)
	require.Len(t, replay, 2)

	partial, final := replay[0], replay[1]
	assert.Equal(t, transcript.ActionPartial, partial.Action)
	assert.Equal(t, "hello", partial.OriginalText)
	assert.Nil(t, partial.TranslatedText)
	assert.Equal(t, "en", partial.OriginalLanguage)
	assert.Equal(t, tc.session.ID, partial.SessionID)
	assert.Equal(t, call.RoleClient, partial.Role)

	assert.Equal(t, transcript.ActionFinal, final.Action)
	assert.Equal(t, "hello", final.OriginalText)
	require.NotNil(t, final.TranslatedText)
	assert.Equal(t, "cześć", *final.TranslatedText)
	assert.Equal(t, partial.TranscriptionID, final.TranscriptionID)
	assert.NotEmpty(t, final.TranscriptionID)
}

func TestTranscriptNewUtteranceGetsNewID(t *testing.T) {
	tc := newTestCall(t, 16)
	rec := &recorder{}
	b := tc.bridge(t, noMixing(), rec)
	start(t, b)

	emit := func(kind translation.TextKind, text string) {
		require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleOperator, Kind: kind, Text: text}))
	}
	emit(translation.TextPartial, "dzień")
	emit(translation.TextValidated, "dzień dobry")
	emit(translation.TextTranslated, "good morning")
	emit(translation.TextPartial, "jak")

	require.Eventually(t, func() bool { return len(rec.Events()) == 4 }, waitTimeout, 5*time.Millisecond)
	events := rec.Events()

	assert.Equal(t, events[0].TranscriptionID, events[1].TranscriptionID)
	assert.Equal(t, events[0].TranscriptionID, events[2].TranscriptionID)
	assert.NotEqual(t, events[2].TranscriptionID, events[3].TranscriptionID)

	assert.Equal(t, "dzień dobry", events[2].OriginalText)
	assert.Equal(t, "pl", events[2].OriginalLanguage)
	assert.Equal(t, call.RoleOperator, events[3].Role)
}

func TestFormatErrorsAreSkipped(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	_, errc := start(t, b)

	require.True(t, tc.client.Push(audio.Frame{Payload: make([]byte, 100), Encoding: audio.EncodingMulaw8k, Sequence: 1}))
	require.True(t, tc.client.Push(audio.Frame{Payload: make([]byte, audio.PCMFrameSize), Encoding: audio.EncodingPCM24k, Sequence: 2}))
	require.True(t, tc.client.Push(mulawFrame(3, 0xFF)))

	require.True(t, tc.stream.WaitSent(1, waitTimeout))
	assert.Equal(t, uint32(3), tc.stream.Sent()[0].Sequence)
	assert.Equal(t, uint64(2), legStats(b, call.RoleClient).FormatErrors)

	select {
	case err := <-errc:
		t.Fatalf("bridge stopped on a malformed frame: %v", err)
	default:
	}
	assert.Equal(t, call.StateBridging, tc.session.State())
}

func TestBlockedLegClosesSession(t *testing.T) {
	tc := newTestCall(t, 512)
	cfg := noMixing()
	cfg.DownlinkQueue = 10
	cfg.SendTimeout = time.Millisecond
	cfg.DropThreshold = 50
	cfg.DrainTimeout = 50 * time.Millisecond
	b := tc.bridge(t, cfg, nil)

	tc.client.Block()
	for i := 0; i < 500; i++ {
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: pcmConst(100, audio.PCMFrameSize/2)}))
	}
	_, errc := start(t, b)

	err := waitRun(t, errc)
	var bp *bridge.BackpressureError
	require.True(t, errors.As(err, &bp), "got %v", err)
	assert.Equal(t, bridge.DirectionDownlink, bp.Direction)
	assert.Equal(t, call.RoleClient, bp.Role)
	assert.Greater(t, bp.Drops, 50)

	assert.Equal(t, call.StateClosing, tc.session.State())
	assert.NotEmpty(t, tc.session.CloseReason())
	assert.Greater(t, legStats(b, call.RoleClient).DownlinkDropped, uint64(50))
}

func TestUplinkBackpressure(t *testing.T) {
	tc := newTestCall(t, 16)
	cfg := noMixing()
	cfg.UplinkQueue = 1
	cfg.DropThreshold = 3

	// A stream that never accepts frames keeps the uplink queue full
	blocked := &stalledStream{Stream: tc.stream, release: make(chan struct{})}
	defer close(blocked.release)
	b, err := bridge.New(tc.session, blocked, nil, cfg, testLogger(), nil)
	require.NoError(t, err)

	for seq := uint32(1); seq <= 10; seq++ {
		require.True(t, tc.client.Push(mulawFrame(seq, 0xFF)))
	}
	_, errc := start(t, b)

	err = waitRun(t, errc)
	var bp *bridge.BackpressureError
	require.True(t, errors.As(err, &bp), "got %v", err)
	assert.Equal(t, bridge.DirectionUplink, bp.Direction)
	assert.Equal(t, call.RoleClient, bp.Role)
	assert.Equal(t, call.StateClosing, tc.session.State())
}

// stalledStream blocks every Send until released or cancelled
type stalledStream struct {
	*bridgetest.Stream
	release chan struct{}
}

func (s *stalledStream) Send(ctx context.Context, f translation.InputFrame) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestLegHangupClosesSession(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	_, errc := start(t, b)

	tc.operator.Hangup()

	err := waitRun(t, errc)
	var closed *bridge.StreamClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, bridge.SourceTelephony, closed.Source)
	assert.Equal(t, call.RoleOperator, closed.Role)
	assert.Equal(t, call.StateClosing, tc.session.State())
}

func TestTranslationFailureClosesSession(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	_, errc := start(t, b)

	boom := errors.New("service went away")
	tc.stream.Fail(boom)

	err := waitRun(t, errc)
	var closed *bridge.StreamClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, bridge.SourceTranslation, closed.Source)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, call.StateClosing, tc.session.State())
}

func TestLegWriteFailureClosesSession(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	_, errc := start(t, b)

	broken := errors.New("socket reset")
	tc.operator.FailSends(broken)
	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: pcmConst(1, audio.PCMFrameSize/2)}))

	err := waitRun(t, errc)
	var closed *bridge.StreamClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, bridge.SourceTelephony, closed.Source)
	assert.Equal(t, call.RoleOperator, closed.Role)
	assert.ErrorIs(t, err, broken)
}

func TestDrainFlushesQueuedFrames(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)

	for i := 0; i < 3; i++ {
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: pcmConst(300, audio.PCMFrameSize/2)}))
	}
	tc.client.Hangup()
	_, errc := start(t, b)

	err := waitRun(t, errc)
	var closed *bridge.StreamClosedError
	require.True(t, errors.As(err, &closed))
	assert.Len(t, tc.operator.Sent(), 3)
}

func TestDrainFlushesSurvivingLegAfterHangup(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)

	// Three frames for each leg, then the client hangs up before any are played
	for i := 0; i < 3; i++ {
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: pcmConst(200, audio.PCMFrameSize/2)}))
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: pcmConst(300, audio.PCMFrameSize/2)}))
	}
	tc.client.Hangup()
	_, errc := start(t, b)

	err := waitRun(t, errc)
	var closed *bridge.StreamClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, bridge.SourceTelephony, closed.Source)
	assert.Equal(t, call.RoleClient, closed.Role)
	assert.Equal(t, call.StateClosing, tc.session.State())

	sent := tc.operator.Sent()
	require.Len(t, sent, 3)
	for i, f := range sent {
		assert.Equal(t, uint32(i), f.Sequence)
		assert.Equal(t, audio.EncodingMulaw8k, f.Encoding)
	}
	assert.Empty(t, tc.client.Sent())
}

func TestDrainFlushesSurvivingLegAfterWriteFailure(t *testing.T) {
	tc := newTestCall(t, 16)
	cfg := noMixing()
	cfg.DrainTimeout = time.Second
	b := tc.bridge(t, cfg, nil)

	broken := errors.New("socket reset")
	tc.client.FailSends(broken)
	for i := 0; i < 4; i++ {
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleOperator, PCM: pcmConst(200, audio.PCMFrameSize/2)}))
		require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: pcmConst(300, audio.PCMFrameSize/2)}))
	}
	_, errc := start(t, b)

	err := waitRun(t, errc)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, call.StateClosing, tc.session.State())
	assert.Len(t, tc.operator.Sent(), 4)
}

func TestTranscriptCountedOnce(t *testing.T) {
	tc := newTestCall(t, 16)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	broadcaster := transcript.NewBroadcaster(transcript.DefaultConfig(), testLogger(), m)
	defer broadcaster.Close()
	b, err := bridge.New(tc.session, tc.stream, broadcaster, noMixing(), testLogger(), m)
	require.NoError(t, err)
	start(t, b)

	require.True(t, tc.stream.Emit(translation.TextEvent{Role: call.RoleClient, Kind: translation.TextPartial, Text: "hello", Language: "en"}))
	require.Eventually(t, func() bool { return len(broadcaster.Replay()) == 1 }, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptEvents.WithLabelValues("partial")))
	assert.Equal(t, uint64(1), b.Stats().TranscriptsSent)
}

// syncBuffer is a log sink shared by the bridge goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestDroppedFramesAreLogged(t *testing.T) {
	tc := newTestCall(t, 16)
	cfg := noMixing()
	cfg.UplinkQueue = 1
	cfg.DropThreshold = 3

	blocked := &stalledStream{Stream: tc.stream, release: make(chan struct{})}
	defer close(blocked.release)
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b, err := bridge.New(tc.session, blocked, nil, cfg, logger, nil)
	require.NoError(t, err)

	for seq := uint32(1); seq <= 10; seq++ {
		require.True(t, tc.client.Push(mulawFrame(seq, 0xFF)))
	}
	_, errc := start(t, b)
	waitRun(t, errc)

	out := logs.String()
	assert.Contains(t, out, "Dropped oldest queued frame")
	assert.Contains(t, out, "direction=uplink")
	assert.Contains(t, out, "role=client")
	assert.Contains(t, out, "consecutive_drops=1")
	assert.Contains(t, out, "consecutive_drops=4")
}

func TestCancelReleasesWithoutError(t *testing.T) {
	tc := newTestCall(t, 16)
	b := tc.bridge(t, noMixing(), nil)
	tc.operator.Block()
	cancel, errc := start(t, b)

	require.True(t, tc.stream.Emit(translation.AudioEvent{Role: call.RoleClient, PCM: pcmConst(1, audio.PCMFrameSize/2)}))
	require.True(t, tc.client.Push(mulawFrame(1, 0xFF)))
	require.True(t, tc.stream.WaitSent(1, waitTimeout))

	cancel()
	assert.NoError(t, waitRun(t, errc))
	assert.Equal(t, call.StateBridging, tc.session.State())
	assert.Empty(t, tc.operator.Sent())
}

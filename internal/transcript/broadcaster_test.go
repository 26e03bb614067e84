package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/call-translator/internal/call"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(session, id string, action Action, text string) Event {
	return Event{
		SessionID:        session,
		TranscriptionID:  id,
		Role:             call.RoleClient,
		Action:           action,
		OriginalText:     text,
		OriginalLanguage: "en",
		Timestamp:        time.Now(),
	}
}

func TestEventWireFormat(t *testing.T) {
	e := event("s1", "u1", ActionPartial, "hello")
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "transcription", raw["type"])
	assert.Equal(t, "partial", raw["action"])
	assert.Equal(t, "u1", raw["transcription_id"])
	assert.Equal(t, "s1", raw["session_id"])
	assert.Equal(t, "client", raw["role"])
	assert.Equal(t, "hello", raw["original_text"])
	assert.Equal(t, "en", raw["original_language"])
	v, present := raw["translated_text"]
	assert.True(t, present)
	assert.Nil(t, v)

	translated := "cześć"
	e.Action = ActionFinal
	e.TranslatedText = &translated
	data, err = json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ActionFinal, decoded.Action)
	require.NotNil(t, decoded.TranslatedText)
	assert.Equal(t, "cześć", *decoded.TranslatedText)
	assert.Equal(t, call.RoleClient, decoded.Role)
}

func TestBroadcasterReplayRing(t *testing.T) {
	b := NewBroadcaster(Config{ReplaySize: 3, SubscriberBuffer: 4}, testLogger(), nil)
	for i := 0; i < 5; i++ {
		b.Publish(event("s1", fmt.Sprintf("u%d", i), ActionPartial, "x"))
	}

	replay := b.Replay()
	require.Len(t, replay, 3)
	assert.Equal(t, "u2", replay[0].TranscriptionID)
	assert.Equal(t, "u4", replay[2].TranscriptionID)
	assert.Equal(t, uint64(5), b.GetStats().Published)
}

func TestBroadcasterLateSubscriberGetsReplayThenLive(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), testLogger(), nil)

	translated := "cześć"
	b.Publish(event("s1", "u1", ActionPartial, "hello"))
	final := event("s1", "u1", ActionFinal, "hello")
	final.TranslatedText = &translated
	b.Publish(final)

	sub, replay, err := b.Subscribe()
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Equal(t, ActionPartial, replay[0].Action)
	assert.Nil(t, replay[0].TranslatedText)
	assert.Equal(t, ActionFinal, replay[1].Action)
	assert.Equal(t, "cześć", *replay[1].TranslatedText)

	b.Publish(event("s1", "u2", ActionPartial, "bye"))
	select {
	case e := <-sub.Events():
		assert.Equal(t, "u2", e.TranscriptionID)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}

	// Nothing replayed is delivered twice
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected duplicate event %+v", e)
	default:
	}
}

func TestBroadcasterSessionFilter(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), testLogger(), nil)
	b.Publish(event("s1", "a", ActionPartial, "one"))
	b.Publish(event("s2", "b", ActionPartial, "two"))

	sub, replay, err := b.Subscribe(WithSession("s2"))
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, "s2", replay[0].SessionID)
	assert.Equal(t, "s2", sub.SessionID())

	b.Publish(event("s1", "c", ActionPartial, "three"))
	b.Publish(event("s2", "d", ActionPartial, "four"))

	e := <-sub.Events()
	assert.Equal(t, "d", e.TranscriptionID)
	assert.Len(t, b.ReplaySession("s1"), 2)
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(Config{ReplaySize: 10, SubscriberBuffer: 2}, testLogger(), nil)

	slow, _, err := b.Subscribe()
	require.NoError(t, err)
	fast, _, err := b.Subscribe()
	require.NoError(t, err)

	var received []Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.Events() {
			received = append(received, e)
		}
	}()

	for i := 0; i < 5; i++ {
		b.Publish(event("s1", fmt.Sprintf("u%d", i), ActionPartial, "x"))
		// Give the fast reader a chance to keep up
		time.Sleep(5 * time.Millisecond)
	}

	// The slow subscriber's channel is closed after its buffer filled
	count := 0
	for range slow.Events() {
		count++
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, b.SubscriberCount())
	assert.Equal(t, uint64(1), b.GetStats().DroppedSubscribers)

	b.Close()
	wg.Wait()
	assert.Len(t, received, 5)
}

func TestBroadcasterUnsubscribeAndClose(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), testLogger(), nil)
	sub, _, err := b.Subscribe()
	require.NoError(t, err)

	assert.True(t, b.Unsubscribe(sub))
	assert.False(t, b.Unsubscribe(sub))
	_, open := <-sub.Events()
	assert.False(t, open)

	other, _, err := b.Subscribe()
	require.NoError(t, err)
	b.Close()
	_, open = <-other.Events()
	assert.False(t, open)

	_, _, err = b.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)

	// Publishing after close is ignored
	b.Publish(event("s1", "late", ActionPartial, "x"))
	assert.Empty(t, b.Replay())
}

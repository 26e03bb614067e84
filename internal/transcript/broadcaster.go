package transcript

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/call-translator/internal/metrics"
)

// ErrClosed is returned when subscribing to a closed broadcaster
var ErrClosed = errors.New("broadcaster closed")

// Config controls replay depth and per-subscriber buffering
type Config struct {
	ReplaySize       int
	SubscriberBuffer int
}

// DefaultConfig returns the default broadcaster configuration
func DefaultConfig() Config {
	return Config{
		ReplaySize:       100,
		SubscriberBuffer: 64,
	}
}

// Subscriber receives live events on a buffered channel.
// The channel is closed when the subscriber is removed.
type Subscriber struct {
	id        string
	sessionID string
	events    chan Event
}

// SubscribeOption configures a Subscriber
type SubscribeOption func(*Subscriber)

// WithSession restricts a subscriber (and its replay) to one call session
func WithSession(sessionID string) SubscribeOption {
	return func(s *Subscriber) {
		s.sessionID = sessionID
	}
}

// ID returns the subscriber's unique identifier
func (s *Subscriber) ID() string {
	return s.id
}

// SessionID returns the session filter, empty for all sessions
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Events returns the channel for receiving events
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

func (s *Subscriber) wants(e Event) bool {
	return s.sessionID == "" || s.sessionID == e.SessionID
}

// Broadcaster fans transcript events out to observers.
// Publishing never blocks: a subscriber whose buffer is full is dropped.
type Broadcaster struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	ring []Event
	head int // index of the oldest event
	size int

	subscribers map[string]*Subscriber
	closed      bool

	published uint64
	dropped   uint64

	mu sync.Mutex
}

// Stats represents broadcaster statistics
type Stats struct {
	Published          uint64 `json:"published"`
	Subscribers        int    `json:"subscribers"`
	DroppedSubscribers uint64 `json:"dropped_subscribers"`
	Buffered           int    `json:"buffered"`
	ReplaySize         int    `json:"replay_size"`
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	def := DefaultConfig()
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = def.ReplaySize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		ring:        make([]Event, cfg.ReplaySize),
		subscribers: make(map[string]*Subscriber),
	}
}

// Publish records the event in the replay buffer and delivers it to every
// matching subscriber without blocking
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.append(e)
	b.published++
	b.metrics.RecordTranscriptEvent(e.Action.String())

	for id, sub := range b.subscribers {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.events <- e:
		default:
			delete(b.subscribers, id)
			close(sub.events)
			b.dropped++
			b.metrics.RecordSubscriberDropped()
			b.logger.Warn("Dropping slow transcript subscriber",
				slog.String("subscriber_id", id),
				slog.Int("buffer", b.cfg.SubscriberBuffer),
			)
		}
	}
	b.metrics.SetSubscribers(len(b.subscribers))
}

// Subscribe registers a subscriber and returns the replay snapshot taken
// atomically with registration, so no event is missed or seen twice
func (b *Broadcaster) Subscribe(opts ...SubscribeOption) (*Subscriber, []Event, error) {
	sub := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan Event, b.cfg.SubscriberBuffer),
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}

	replay := b.snapshot(sub.wants)
	b.subscribers[sub.id] = sub
	b.metrics.SetSubscribers(len(b.subscribers))

	b.logger.Debug("Transcript subscriber registered",
		slog.String("subscriber_id", sub.id),
		slog.String("session_id", sub.sessionID),
		slog.Int("replay", len(replay)),
		slog.Int("total_subscribers", len(b.subscribers)),
	)

	return sub, replay, nil
}

// Unsubscribe removes a subscriber and closes its channel.
// It returns false if the subscriber was already removed.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.id]; !ok {
		return false
	}
	delete(b.subscribers, sub.id)
	close(sub.events)
	b.metrics.SetSubscribers(len(b.subscribers))
	return true
}

// Replay returns the buffered events, oldest first
func (b *Broadcaster) Replay() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(nil)
}

// ReplaySession returns the buffered events of one session, oldest first
func (b *Broadcaster) ReplaySession(sessionID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(func(e Event) bool { return e.SessionID == sessionID })
}

// SubscriberCount returns the number of live subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// GetStats returns current broadcaster statistics
func (b *Broadcaster) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Published:          b.published,
		Subscribers:        len(b.subscribers),
		DroppedSubscribers: b.dropped,
		Buffered:           b.size,
		ReplaySize:         b.cfg.ReplaySize,
	}
}

// Close removes every subscriber; later publishes are ignored
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.events)
		delete(b.subscribers, id)
	}
	b.metrics.SetSubscribers(0)
	b.logger.Debug("Transcript broadcaster closed")
}

func (b *Broadcaster) append(e Event) {
	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.head+b.size)%capacity] = e
		b.size++
		return
	}
	b.ring[b.head] = e
	b.head = (b.head + 1) % capacity
}

func (b *Broadcaster) snapshot(keep func(Event) bool) []Event {
	out := make([]Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		e := b.ring[(b.head+i)%len(b.ring)]
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}

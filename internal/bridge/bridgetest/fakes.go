// Package bridgetest provides in-memory legs and translation streams for
// exercising the bridge and the worker manager without a network.
package bridgetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skypro1111/call-translator/internal/audio"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/translation"
)

// ErrHungUp is returned by Send on a leg that was closed
var ErrHungUp = errors.New("leg hung up")

// Leg is an in-memory call.Leg
type Leg struct {
	frames chan audio.Frame
	done   chan struct{}

	sent    []audio.Frame
	closed  bool
	closes  int
	blocked chan struct{} // non-nil while Send blocks
	sendErr error

	mu sync.Mutex
}

// NewLeg creates a leg whose inbound channel holds buffer frames
func NewLeg(buffer int) *Leg {
	return &Leg{
		frames: make(chan audio.Frame, buffer),
		done:   make(chan struct{}),
	}
}

// Frames implements call.Leg
func (l *Leg) Frames() <-chan audio.Frame {
	return l.frames
}

// Send implements call.Leg; it records f unless the leg is blocked or failing
func (l *Leg) Send(ctx context.Context, f audio.Frame) error {
	l.mu.Lock()
	blocked, sendErr, closed := l.blocked, l.sendErr, l.closed
	l.mu.Unlock()

	if closed {
		return ErrHungUp
	}
	if sendErr != nil {
		return sendErr
	}
	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrHungUp
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, f)
	return nil
}

// Done implements call.Leg
func (l *Leg) Done() <-chan struct{} {
	return l.done
}

// Close implements call.Leg; it hangs the leg up
func (l *Leg) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.frames)
	close(l.done)
	return nil
}

// Hangup simulates the remote party ending the call
func (l *Leg) Hangup() {
	l.Close()
}

// Push delivers an inbound frame; it returns false if the leg is closed or full
func (l *Leg) Push(f audio.Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.frames <- f:
		return true
	default:
		return false
	}
}

// Block makes Send wait until Unblock, cancellation or hangup
func (l *Leg) Block() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked == nil {
		l.blocked = make(chan struct{})
	}
}

// Unblock releases blocked senders
func (l *Leg) Unblock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked != nil {
		close(l.blocked)
		l.blocked = nil
	}
}

// FailSends makes every following Send return err
func (l *Leg) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Sent returns the frames played on the leg
func (l *Leg) Sent() []audio.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audio.Frame(nil), l.sent...)
}

// CloseCount returns how many times Close was called
func (l *Leg) CloseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// WaitSent polls until at least n frames were played
func (l *Leg) WaitSent(n int, timeout time.Duration) bool {
	return poll(timeout, func() bool { return len(l.Sent()) >= n })
}

// Stream is an in-memory translation stream
type Stream struct {
	SessionID string

	events chan translation.Event
	done   chan struct{}

	sent       []translation.InputFrame
	err        error
	closeCalls int
	sendErr    error

	doneOnce sync.Once
	mu       sync.Mutex
}

// NewStream creates a stream whose event channel holds buffer events
func NewStream(buffer int) *Stream {
	return &Stream{
		events: make(chan translation.Event, buffer),
		done:   make(chan struct{}),
	}
}

// Send records a frame sent for translation
func (s *Stream) Send(ctx context.Context, f translation.InputFrame) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, f)
	return nil
}

// Events returns the event channel
func (s *Stream) Events() <-chan translation.Event {
	return s.events
}

// Done returns a channel closed when the stream terminates
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the termination reason
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the stream with translation.ErrStreamClosed
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.terminate(translation.ErrStreamClosed)
	return nil
}

// Emit delivers an event as if the service had sent it
func (s *Stream) Emit(ev translation.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Fail terminates the stream with err
func (s *Stream) Fail(err error) {
	s.terminate(err)
}

// FailSends makes every following Send return err
func (s *Stream) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sent returns the frames sent for translation
func (s *Stream) Sent() []translation.InputFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]translation.InputFrame(nil), s.sent...)
}

// CloseCalls returns how many times Close was called
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// WaitSent polls until at least n frames were sent
func (s *Stream) WaitSent(n int, timeout time.Duration) bool {
	return poll(timeout, func() bool { return len(s.Sent()) >= n })
}

func (s *Stream) terminate(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Opener hands out fake streams and records them
type Opener struct {
	Err     error
	Streams []*Stream

	mu sync.Mutex
}

// Open returns a new fake stream for session, or o.Err
func (o *Opener) Open(ctx context.Context, session *call.Session) (*Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	s := NewStream(256)
	s.SessionID = session.ID
	o.Streams = append(o.Streams, s)
	return s, nil
}

// Last returns the most recently opened stream
func (o *Opener) Last() *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Streams) == 0 {
		return nil
	}
	return o.Streams[len(o.Streams)-1]
}

func poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/suscart-data/freshrelay/internal/monitoring"
)

// SubscriberState tracks a subscriber session through its lifecycle.
type SubscriberState int32

const (
	// StateConnecting: registration and snapshot seeding in progress.
	StateConnecting SubscriberState = iota
	// StateActive: steady-state drain loop running.
	StateActive
	// StateDraining: close requested; flush already-queued items, then close.
	StateDraining
	// StateClosed: terminal. Queues discarded, session unregistered.
	StateClosed
)

func (s SubscriberState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MessageWriter delivers drained items to a subscriber's outbound connection.
// Write errors are terminal for the session; the dashboard is expected to
// reconnect and receive a fresh snapshot.
type MessageWriter interface {
	WriteFrame(*Frame) error
	WriteEvent(*StateEvent) error
}

// Subscriber owns one outbound dashboard connection: a bounded frame ring, a
// capped event queue, and a cursor per stream. The hub enqueues; the session's
// own Run loop drains and writes. No other goroutine performs I/O for it.
type Subscriber struct {
	ID string

	hub    *Hub
	frames *frameRing
	events *eventQueue
	wake   chan struct{}

	state atomic.Int32

	mu       sync.Mutex
	closeErr error

	frameCursor atomic.Uint64
	eventCursor atomic.Uint64
}

func newSubscriber(id string, hub *Hub, frameCap, eventCap int) *Subscriber {
	return &Subscriber{
		ID:     id,
		hub:    hub,
		frames: newFrameRing(frameCap),
		events: newEventQueue(eventCap),
		wake:   make(chan struct{}, 1),
	}
}

// State returns the session's current lifecycle state.
func (s *Subscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

// Cursors returns the last delivered sequence number per stream
// (frames, events).
func (s *Subscriber) Cursors() (uint64, uint64) {
	return s.frameCursor.Load(), s.eventCursor.Load()
}

// FramesDropped returns how many buffered frames this subscriber evicted
// under backpressure.
func (s *Subscriber) FramesDropped() uint64 {
	return s.frames.evictions()
}

// Err returns the terminal error for a closed session, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueueFrame is called by the hub with the registry read lock held. It is a
// bounded-time memory operation and never blocks. It reports whether an older
// frame was evicted to make room.
func (s *Subscriber) enqueueFrame(f *Frame) bool {
	if st := s.State(); st == StateDraining || st == StateClosed {
		return false
	}
	dropped := s.frames.push(f)
	s.signal()
	return dropped
}

// enqueueEvent is called by the hub with the registry read lock held. Events
// are not droppable: overflow marks the session closed with ErrSlowConsumer
// so its own Run loop tears the connection down. The hub is never blocked or
// failed by one slow subscriber.
func (s *Subscriber) enqueueEvent(e *StateEvent) {
	if st := s.State(); st == StateDraining || st == StateClosed {
		return
	}
	if err := s.events.push(e); err != nil {
		s.fail(err)
		return
	}
	s.signal()
}

// fail marks the session closed with err. Idempotent; the first error wins.
func (s *Subscriber) fail(err error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	s.signal()
}

// Drain requests a graceful close: already-queued items are flushed by the
// Run loop, then the session closes cleanly.
func (s *Subscriber) Drain() {
	s.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateDraining))
	s.signal()
}

// Run drains the session's queues and writes to w until the session closes.
// Events are flushed before frames on each wakeup; cross-stream interleaving
// is otherwise unspecified. Run returns nil after a requested drain or
// context cancellation, or the terminal error otherwise. The session is
// always unregistered from the hub before Run returns.
func (s *Subscriber) Run(ctx context.Context, w MessageWriter) error {
	defer func() {
		s.state.Store(int32(StateClosed))
		s.hub.remove(s.ID)
	}()

	for {
		for {
			e, ok := s.events.pop()
			if !ok {
				break
			}
			if err := w.WriteEvent(e); err != nil {
				s.fail(err)
				return err
			}
			if !e.Snapshot {
				s.eventCursor.Store(e.Sequence)
			}
		}

		for {
			f, ok := s.frames.pop()
			if !ok {
				break
			}
			if err := w.WriteFrame(f); err != nil {
				s.fail(err)
				return err
			}
			s.frameCursor.Store(f.Sequence)
		}

		switch s.State() {
		case StateClosed:
			err := s.Err()
			if err != nil {
				monitoring.Logf("[relay] subscriber %s closed: %v", s.ID, err)
			}
			return err
		case StateDraining:
			if s.events.len() == 0 && s.frames.len() == 0 {
				return nil
			}
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

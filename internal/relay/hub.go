package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/suscart-data/freshrelay/internal/monitoring"
	"github.com/suscart-data/freshrelay/internal/timeutil"
)

// Config holds the hub's recognized options.
type Config struct {
	// FrameQueueCapacity is the per-subscriber frame ring size.
	FrameQueueCapacity int

	// EventQueueCapacity caps the per-subscriber event queue. Overflow is a
	// SlowConsumer disconnect, never a silent drop.
	EventQueueCapacity int

	// IdleTimeout is how long the producer may go without a frame or ping
	// before its slot is freed. Zero disables the watchdog.
	IdleTimeout time.Duration

	// ProcessingTimeout bounds each detection pipeline invocation.
	ProcessingTimeout time.Duration

	// Token, when set, is the shared secret a producer handshake must carry.
	Token string

	// Processor augments raw frames. Nil means frames propagate unprocessed.
	Processor Processor

	// Snapshots seeds late-joining subscribers with current inventory state.
	// Nil means subscribers start from the live stream only.
	Snapshots SnapshotSource

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the design-default relay configuration.
func DefaultConfig() Config {
	return Config{
		FrameQueueCapacity: 8,
		EventQueueCapacity: 1000,
		IdleTimeout:        10 * time.Second,
		ProcessingTimeout:  2 * time.Second,
	}
}

// Hub is the central fan-out point between the producer session and all
// subscriber sessions. It is the only shared-mutation point in the relay: the
// subscriber registry is guarded by one lock, held read-side during publish
// and write-side for register/unregister. Enqueueing onto a subscriber queue
// is a bounded-time memory operation; the hub never performs network I/O
// while holding the lock, and never fails or blocks because of one bad
// session.
type Hub struct {
	cfg   Config
	clock timeutil.Clock

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	prodMu   sync.Mutex
	producer *ProducerSession

	// evMu serializes event sequence allocation with fan-out so two
	// concurrent PublishEvent calls cannot enqueue out of sequence order.
	evMu sync.Mutex

	frameSeq Sequencer
	eventSeq Sequencer

	framesPublished atomic.Uint64
	framesDropped   atomic.Uint64
	eventsPublished atomic.Uint64
	slowConsumers   atomic.Uint64
}

// NewHub creates a hub. Call Shutdown to release all sessions.
func NewHub(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.FrameQueueCapacity <= 0 {
		cfg.FrameQueueCapacity = def.FrameQueueCapacity
	}
	if cfg.EventQueueCapacity <= 0 {
		cfg.EventQueueCapacity = def.EventQueueCapacity
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = def.ProcessingTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		cfg:         cfg,
		clock:       clock,
		subscribers: make(map[string]*Subscriber),
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// PublishFrame fans f out to every registered subscriber. Enqueue never
// blocks: a full frame ring evicts its oldest frame. Publishing to a
// subscriber that was concurrently removed is a no-op.
func (h *Hub) PublishFrame(f *Frame) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for _, s := range h.subscribers {
		if s.enqueueFrame(f) {
			h.framesDropped.Add(1)
		}
	}
	h.mu.RUnlock()
	h.framesPublished.Add(1)
}

// PublishEvent sequences one inventory state change and fans it out. This is
// the relay's event publisher: events share the ordering discipline of frames
// but are never dropped; a subscriber that cannot absorb them is closed with
// SlowConsumer by its own session. Sequence allocation and enqueueing happen
// under one lock so concurrent publishers cannot interleave out of sequence
// order. Returns the issued sequence number.
func (h *Hub) PublishEvent(kind EventKind, subjectID int64, payload json.RawMessage) uint64 {
	h.evMu.Lock()
	defer h.evMu.Unlock()

	e := &StateEvent{
		Sequence:  h.eventSeq.Next(),
		Kind:      kind,
		SubjectID: subjectID,
		Payload:   payload,
		EmittedAt: h.clock.Now(),
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return e.Sequence
	}
	for _, s := range h.subscribers {
		before := s.State()
		s.enqueueEvent(e)
		if before != StateClosed && s.State() == StateClosed {
			h.slowConsumers.Add(1)
		}
	}
	h.mu.RUnlock()
	h.eventsPublished.Add(1)
	return e.Sequence
}

// Register creates a subscriber session, seeds it with a snapshot of current
// inventory state, and adds it to the registry. The snapshot prologue is
// synthesized as item_added-style events numbered 0..n-1 with Snapshot set, so
// the late joiner converges without a verbatim history replay. Prologue
// numbering is local to the prologue: when the hub starts against an existing
// database its sequences can overlap live ones, so consumers must order by
// delivery and use the Snapshot flag to tell the prologue apart. Live
// publishes continue from the watermark captured under the registry lock.
func (h *Hub) Register() (*Subscriber, error) {
	s := newSubscriber(uuid.NewString(), h, h.cfg.FrameQueueCapacity, h.cfg.EventQueueCapacity)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	if h.cfg.Snapshots != nil {
		items, err := h.cfg.Snapshots.Snapshot()
		if err != nil {
			return nil, err
		}
		now := h.clock.Now()
		for i, it := range items {
			ev := &StateEvent{
				Sequence:  uint64(i),
				Kind:      EventItemAdded,
				SubjectID: it.SubjectID,
				Payload:   it.Payload,
				EmittedAt: now,
				Snapshot:  true,
			}
			if err := s.events.push(ev); err != nil {
				return nil, err
			}
		}
	}
	s.eventCursor.Store(h.eventSeq.Current())

	s.state.Store(int32(StateActive))
	h.subscribers[s.ID] = s
	monitoring.Logf("[relay] subscriber %s joined (total: %d)", s.ID, len(h.subscribers))
	return s, nil
}

// Unregister requests a graceful close for the identified subscriber and
// removes it from the registry. Unknown IDs are a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	remaining := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		s.Drain()
		monitoring.Logf("[relay] subscriber %s left (remaining: %d)", id, remaining)
	}
}

// remove drops a subscriber from the registry without a drain request. Called
// by the session's own Run loop on exit.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
}

func (h *Hub) detachProducer(s *ProducerSession) {
	h.prodMu.Lock()
	if h.producer == s {
		h.producer = nil
	}
	h.prodMu.Unlock()
}

// ProducerActive reports whether a producer session currently holds the slot.
func (h *Hub) ProducerActive() bool {
	h.prodMu.Lock()
	defer h.prodMu.Unlock()
	return h.producer != nil
}

// Shutdown transitions every subscriber to draining and forcibly closes the
// producer connection. Further registrations and publishes are rejected.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.Drain()
	}

	h.prodMu.Lock()
	p := h.producer
	h.producer = nil
	h.prodMu.Unlock()
	if p != nil {
		p.close(ErrHubClosed)
	}

	monitoring.Logf("[relay] hub shut down (%d subscribers drained)", len(subs))
}

// Stats is a point-in-time snapshot of relay counters.
type Stats struct {
	FramesPublished uint64 `json:"frames_published"`
	FramesDropped   uint64 `json:"frames_dropped"`
	EventsPublished uint64 `json:"events_published"`
	SlowConsumers   uint64 `json:"slow_consumers"`
	Subscribers     int    `json:"subscribers"`
	ProducerActive  bool   `json:"producer_active"`
	FrameWatermark  uint64 `json:"frame_watermark"`
	EventWatermark  uint64 `json:"event_watermark"`
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subscribers)
	h.mu.RUnlock()

	return Stats{
		FramesPublished: h.framesPublished.Load(),
		FramesDropped:   h.framesDropped.Load(),
		EventsPublished: h.eventsPublished.Load(),
		SlowConsumers:   h.slowConsumers.Load(),
		Subscribers:     n,
		ProducerActive:  h.ProducerActive(),
		FrameWatermark:  h.frameSeq.Current(),
		EventWatermark:  h.eventSeq.Current(),
	}
}

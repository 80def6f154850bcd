package relay

import "sync"

// frameRing is a fixed-capacity ring buffer of frames. When full, push evicts
// the oldest buffered frame rather than rejecting the newest: for live video,
// freshness matters more than completeness. Single producer (the hub),
// single consumer (the owning subscriber session).
type frameRing struct {
	mu      sync.Mutex
	buf     []*Frame
	head    int // index of oldest buffered frame
	count   int
	evicted uint64
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{buf: make([]*Frame, capacity)}
}

// push appends f, evicting the oldest frame if the ring is full. It reports
// whether an eviction occurred. push never blocks.
func (r *frameRing) push(f *Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.evicted++
		dropped = true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = f
	r.count++
	return dropped
}

// pop removes and returns the oldest buffered frame.
func (r *frameRing) pop() (*Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}
	f := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return f, true
}

func (r *frameRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *frameRing) evictions() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// eventQueue is a capped FIFO of state events. Unlike frames, events are not
// droppable: push fails with ErrSlowConsumer when the cap is reached, and the
// caller is expected to disconnect the subscriber rather than lose an event.
type eventQueue struct {
	mu    sync.Mutex
	items []*StateEvent
	limit int
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{limit: limit}
}

func (q *eventQueue) push(e *StateEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		return ErrSlowConsumer
	}
	q.items = append(q.items, e)
	return nil
}

func (q *eventQueue) pop() (*StateEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

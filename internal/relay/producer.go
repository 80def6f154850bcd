package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suscart-data/freshrelay/internal/monitoring"
	"github.com/suscart-data/freshrelay/internal/timeutil"
)

// ProtocolVersion is the producer handshake version this relay accepts.
const ProtocolVersion = 1

// ProducerSession owns the single active camera connection. At most one
// session is alive at any instant; a newer successful handshake preempts the
// old session, which fails fast on its next operation rather than racing.
type ProducerSession struct {
	ID string

	hub       *Hub
	processor Processor
	timeout   time.Duration

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	closeErr error
	closeFn  func()

	done chan struct{}
}

// Accept validates a producer handshake and installs a new producer session,
// forcibly closing any previous one. The camera side owns reconnection; the
// hub never retries on its behalf.
func (h *Hub) Accept(hs Handshake) (*ProducerSession, error) {
	if hs.ProtocolVersion != ProtocolVersion {
		return nil, ErrHandshakeRejected
	}
	if h.cfg.Token != "" && hs.Token != h.cfg.Token {
		return nil, ErrHandshakeRejected
	}

	s := &ProducerSession{
		ID:        uuid.NewString(),
		hub:       h,
		processor: h.cfg.Processor,
		timeout:   h.cfg.ProcessingTimeout,
		lastSeen:  h.clock.Now(),
		done:      make(chan struct{}),
	}

	h.prodMu.Lock()
	if h.isClosed() {
		h.prodMu.Unlock()
		return nil, ErrHubClosed
	}
	old := h.producer
	h.producer = s
	h.prodMu.Unlock()

	if old != nil {
		old.close(ErrSessionPreempted)
	}

	if idle := h.cfg.IdleTimeout; idle > 0 {
		interval := idle / 2
		if interval <= 0 {
			interval = idle
		}
		// Create the ticker before the watchdog goroutine starts so the
		// liveness clock is armed by the time Accept returns.
		ticker := h.clock.NewTicker(interval)
		go s.watchLiveness(idle, ticker)
	}

	monitoring.Logf("[relay] producer %s connected", s.ID)
	return s, nil
}

// SetCloseFunc installs a hook invoked exactly once when the session closes,
// typically to tear down the underlying connection. If the session is already
// closed the hook runs immediately.
func (s *ProducerSession) SetCloseFunc(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closeFn = fn
	s.mu.Unlock()
}

// OnFrame ingests one raw camera frame: assigns the next frame sequence,
// invokes the detection pipeline, and hands the result to the hub for
// fan-out. A pipeline failure never drops the frame; it propagates with an
// error metadata field instead, so subscribers can distinguish "no
// detections" from "detector unavailable".
func (s *ProducerSession) OnFrame(payload []byte, capturedAt time.Time) (uint64, error) {
	if err := s.touch(); err != nil {
		return 0, err
	}

	seq := s.hub.frameSeq.Next()
	frame := &Frame{
		Sequence:   seq,
		CapturedAt: capturedAt,
		Payload:    payload,
	}

	md, err := runPipeline(s.processor, s.timeout, payload)
	if err != nil {
		frame.Metadata = &FrameMetadata{Error: err.Error()}
	} else {
		frame.Metadata = md
	}

	// The session may have been preempted or closed while the frame was in
	// the pipeline. Publishing now would deliver this frame after the
	// successor's, so discard it instead.
	if err := s.touch(); err != nil {
		return 0, err
	}

	s.hub.PublishFrame(frame)
	return seq, nil
}

// Heartbeat records producer liveness for an explicit ping. Producers must
// send frames or pings at least every idle timeout.
func (s *ProducerSession) Heartbeat() error {
	return s.touch()
}

// Close tears the session down with cause err. Transport errors are terminal;
// the remote producer owns reconnection.
func (s *ProducerSession) Close(err error) {
	s.close(err)
}

// Err returns the session's terminal error, if any.
func (s *ProducerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Done is closed when the session ends.
func (s *ProducerSession) Done() <-chan struct{} {
	return s.done
}

func (s *ProducerSession) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.closeErr != nil {
			return s.closeErr
		}
		return ErrHubClosed
	}
	s.lastSeen = s.hub.clock.Now()
	return nil
}

func (s *ProducerSession) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.clock.Since(s.lastSeen)
}

func (s *ProducerSession) close(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = cause
	fn := s.closeFn
	s.mu.Unlock()

	close(s.done)
	if fn != nil {
		fn()
	}
	s.hub.detachProducer(s)

	if cause != nil {
		monitoring.Logf("[relay] producer %s closed: %v", s.ID, cause)
	} else {
		monitoring.Logf("[relay] producer %s disconnected", s.ID)
	}
}

// watchLiveness frees the producer slot when the session exceeds its idle
// timeout without a frame or ping.
func (s *ProducerSession) watchLiveness(idle time.Duration, ticker timeutil.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C():
			if s.idleFor() > idle {
				s.close(ErrProducerStale)
				return
			}
		}
	}
}

package relay

import "sync/atomic"

// Sequencer issues monotonically increasing sequence numbers for one logical
// stream. The zero value is ready to use; the first issued sequence is 1.
type Sequencer struct {
	n atomic.Uint64
}

// Next issues the next sequence number. Each number is issued exactly once.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the most recently issued sequence number, or 0 if none has
// been issued. This is the stream's watermark.
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}

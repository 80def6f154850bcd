package relay

import "errors"

var (
	// ErrHandshakeRejected is returned by Accept for a malformed or
	// unauthorized producer connect attempt.
	ErrHandshakeRejected = errors.New("relay: handshake rejected")

	// ErrSessionPreempted terminates a producer session when a newer producer
	// connection completes its handshake. The new connection wins.
	ErrSessionPreempted = errors.New("relay: producer session preempted")

	// ErrProducerStale terminates a producer session that has not sent a
	// frame or ping within the idle timeout.
	ErrProducerStale = errors.New("relay: producer idle timeout")

	// ErrSlowConsumer terminates a subscriber whose event queue overflowed.
	// Events are never dropped; the subscriber is disconnected and must
	// reconnect for a fresh snapshot.
	ErrSlowConsumer = errors.New("relay: subscriber cannot keep up with event stream")

	// ErrHubClosed is returned once the hub has been shut down.
	ErrHubClosed = errors.New("relay: hub closed")

	// ErrProcessingTimeout reports that the detection pipeline exceeded its
	// per-frame deadline. The raw frame still propagates.
	ErrProcessingTimeout = errors.New("relay: processing timeout")

	// ErrProcessingUnavailable reports that the detection pipeline could not
	// be reached. The raw frame still propagates.
	ErrProcessingUnavailable = errors.New("relay: processing unavailable")
)

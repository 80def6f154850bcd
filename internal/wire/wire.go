// Package wire defines the message schemas exchanged over the relay's two
// persistent connections.
//
// The camera side speaks compact binary CBOR: a hello, then a stream of frame
// and ping messages. The dashboard side receives JSON envelopes, a tagged
// union with exactly the two tags "frame" and "event".
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/suscart-data/freshrelay/internal/relay"
)

// Producer message types.
const (
	TypeFrame = "frame"
	TypePing  = "ping"
	TypeEvent = "event"
)

// ProducerHello is the first message a camera must send on connect.
type ProducerHello struct {
	Version int    `cbor:"v"`
	Token   string `cbor:"token,omitempty"`
}

// ProducerMessage is one camera message after the hello: a raw frame or an
// explicit liveness ping.
type ProducerMessage struct {
	Type       string `cbor:"type"`
	Payload    []byte `cbor:"payload,omitempty"`
	CapturedAt int64  `cbor:"captured_at,omitempty"` // unix nanoseconds
}

// EncodeHello marshals a producer hello.
func EncodeHello(h ProducerHello) ([]byte, error) {
	return cbor.Marshal(h)
}

// DecodeHello unmarshals and sanity-checks a producer hello.
func DecodeHello(data []byte) (ProducerHello, error) {
	var h ProducerHello
	if err := cbor.Unmarshal(data, &h); err != nil {
		return ProducerHello{}, fmt.Errorf("decode hello: %w", err)
	}
	return h, nil
}

// EncodeProducerMessage marshals a frame or ping message.
func EncodeProducerMessage(m ProducerMessage) ([]byte, error) {
	return cbor.Marshal(m)
}

// DecodeProducerMessage unmarshals a frame or ping message, rejecting
// unknown message types.
func DecodeProducerMessage(data []byte) (ProducerMessage, error) {
	var m ProducerMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return ProducerMessage{}, fmt.Errorf("decode producer message: %w", err)
	}
	switch m.Type {
	case TypeFrame, TypePing:
		return m, nil
	default:
		return ProducerMessage{}, fmt.Errorf("unknown producer message type %q", m.Type)
	}
}

// NewFrameMessage builds a frame message from raw capture bytes.
func NewFrameMessage(payload []byte, capturedAt time.Time) ProducerMessage {
	return ProducerMessage{
		Type:       TypeFrame,
		Payload:    payload,
		CapturedAt: capturedAt.UnixNano(),
	}
}

// NewPingMessage builds a liveness ping.
func NewPingMessage() ProducerMessage {
	return ProducerMessage{Type: TypePing}
}

// Envelope is one outbound dashboard message. Type is always "frame" or
// "event"; only the fields for that tag are populated. Constructing an
// Envelope by hand is discouraged; use FrameEnvelope and EventEnvelope so
// the union invariant holds.
type Envelope struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`

	// Frame fields.
	CapturedAt *time.Time           `json:"captured_at,omitempty"`
	Payload    []byte               `json:"payload,omitempty"`
	Metadata   *relay.FrameMetadata `json:"metadata,omitempty"`

	// Event fields.
	Kind      relay.EventKind `json:"kind,omitempty"`
	SubjectID int64           `json:"subject_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	EmittedAt *time.Time      `json:"emitted_at,omitempty"`
	Snapshot  bool            `json:"snapshot,omitempty"`
}

// FrameEnvelope wraps a frame for the dashboard stream.
func FrameEnvelope(f *relay.Frame) Envelope {
	captured := f.CapturedAt
	return Envelope{
		Type:       TypeFrame,
		Sequence:   f.Sequence,
		CapturedAt: &captured,
		Payload:    f.Payload,
		Metadata:   f.Metadata,
	}
}

// EventEnvelope wraps a state event for the dashboard stream.
func EventEnvelope(e *relay.StateEvent) Envelope {
	emitted := e.EmittedAt
	return Envelope{
		Type:      TypeEvent,
		Sequence:  e.Sequence,
		Kind:      e.Kind,
		SubjectID: e.SubjectID,
		Event:     e.Payload,
		EmittedAt: &emitted,
		Snapshot:  e.Snapshot,
	}
}

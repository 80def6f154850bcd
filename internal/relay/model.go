// Package relay implements the real-time fan-out hub between a single produce
// camera and any number of dashboard subscribers.
//
// One producer session feeds raw frames in; each frame is augmented by a
// detection pipeline and broadcast, alongside discrete inventory state-change
// events, to every subscriber's bounded queue. Frames are droppable under
// backpressure (oldest first); events are not: a subscriber that cannot keep
// up with the event stream is disconnected instead.
package relay

import (
	"encoding/json"
	"time"
)

// Frame is one camera capture plus optional detector-produced metadata,
// tagged with a monotonic sequence number. A Frame is immutable once
// published; subscribers share the same value and must not modify it.
type Frame struct {
	Sequence   uint64
	CapturedAt time.Time
	Payload    []byte
	Metadata   *FrameMetadata
}

// FrameMetadata carries the detection pipeline's output for one frame. When
// the pipeline failed, Error is set and the remaining fields are zero so
// consumers can distinguish "no detections" from "detector unavailable".
type FrameMetadata struct {
	Detections []Detection      `json:"detections,omitempty"`
	Freshness  []FreshnessScore `json:"freshness,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Detection is a single detected object within a frame.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Bounds     [4]float64 `json:"bbox"`
}

// FreshnessScore grades one detected produce item.
type FreshnessScore struct {
	SubjectID int64    `json:"subject_id,omitempty"`
	Score     float64  `json:"score"`
	Labels    []string `json:"labels,omitempty"`
}

// EventKind enumerates the inventory state changes the relay broadcasts.
type EventKind string

const (
	EventQuantityChanged  EventKind = "quantity_changed"
	EventFreshnessUpdated EventKind = "freshness_updated"
	EventItemAdded        EventKind = "item_added"
	EventItemUpdated      EventKind = "item_updated"
	EventItemDeleted      EventKind = "item_deleted"
)

// StateEvent is a discrete, ordered notification that one inventory record
// changed. Events for the same SubjectID are delivered to every subscriber in
// publication order, with no drops. Snapshot marks synthetic events seeded to
// a late joiner in place of historical replay.
type StateEvent struct {
	Sequence  uint64
	Kind      EventKind
	SubjectID int64
	Payload   json.RawMessage
	EmittedAt time.Time
	Snapshot  bool
}

// Handshake is the first message a producer must present before frames are
// accepted.
type Handshake struct {
	ProtocolVersion int
	Token           string
}

// SnapshotItem is one current inventory state handed to a late-joining
// subscriber by the inventory collaborator.
type SnapshotItem struct {
	SubjectID int64
	Payload   json.RawMessage
}

// SnapshotSource synthesizes the current state of every tracked item, in a
// stable order, so a late joiner converges without replaying event history.
type SnapshotSource interface {
	Snapshot() ([]SnapshotItem, error)
}

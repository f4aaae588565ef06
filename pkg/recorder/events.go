package recorder

import (
	"time"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// EventType says which read an event records.
type EventType int

const (
	// ValueRead records a Read: Payload is the CBOR encoded value
	ValueRead EventType = iota
	// ElementRead records an Index: Payload is the CBOR encoded element
	ElementRead
	// BytesRead records a ReadBytes: Payload holds the raw bytes
	BytesRead
	// ReadFault records a read the target could not satisfy; Of says which
	ReadFault
	// SnapshotEvent carries the materialized image as of the previous event
	SnapshotEvent
)

// Event is one recorded read of target memory.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	Session   string      `json:"session,omitempty"`
	Addr      memory.Addr `json:"addr,omitempty"`
	TypeName  string      `json:"type_name,omitempty"` // requested type or element type
	Index     int         `json:"index,omitempty"`     // element index or byte count
	Of        EventType   `json:"of,omitempty"`        // ReadFault only
	Payload   []byte      `json:"payload,omitempty"`
	Details   string      `json:"details,omitempty"` // fault message or snapshot id
}

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case ValueRead:
		return "ValueRead"
	case ElementRead:
		return "ElementRead"
	case BytesRead:
		return "BytesRead"
	case ReadFault:
		return "ReadFault"
	case SnapshotEvent:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

// CurrentTime returns the timestamp given to new events.
func CurrentTime() time.Time {
	return time.Now()
}

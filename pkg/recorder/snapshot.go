package recorder

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// SnapshotInterval is the number of events between two snapshots written by
// the file recorders. Zero disables snapshots.
var SnapshotInterval = 1000

// Snapshot is the target memory as seen by a session after its first
// EventIdx events.
type Snapshot struct {
	ID       string
	EventIdx int
	Image    *memory.Image
}

// Apply replays one event into img. Faults make the address unreadable again,
// as it was when the target freed or unmapped it.
func Apply(img *memory.Image, e Event) error {
	switch e.Type {
	case ValueRead, ElementRead:
		v, err := DecodeValue(e.Payload)
		if err != nil {
			return fmt.Errorf("event %d: %w", e.ID, err)
		}
		if e.Type == ValueRead {
			img.Put(e.Addr, v)
		} else {
			img.PutElem(e.Addr, e.Index, v)
		}
	case BytesRead:
		img.PutBytes(e.Addr, e.Payload)
	case ReadFault:
		if e.Of == ElementRead {
			img.RemoveElem(e.Addr, e.Index)
		} else {
			img.Remove(e.Addr)
		}
	case SnapshotEvent:
	default:
		return fmt.Errorf("event %d: unknown event type %d", e.ID, int(e.Type))
	}
	return nil
}

// CreateSnapshot materializes the first n events. It starts from the last
// snapshot event among them when there is one.
func CreateSnapshot(events []Event, n int) (Snapshot, error) {
	if n < 0 || n > len(events) {
		return Snapshot{}, fmt.Errorf("snapshot at %d out of range [0, %d]", n, len(events))
	}
	img := memory.NewImage()
	from := 0
	for i := n - 1; i >= 0; i-- {
		if events[i].Type != SnapshotEvent {
			continue
		}
		restored, err := DecodeImage(events[i].Payload)
		if err != nil {
			log.Warningf("ignoring unreadable snapshot at event %d: %s", events[i].ID, err)
			continue
		}
		img, from = restored, i+1
		break
	}
	for _, e := range events[from:n] {
		if err := Apply(img, e); err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{ID: uuid.NewString(), EventIdx: n, Image: img}, nil
}

// NewSnapshotEvent builds the event carrying img.
func NewSnapshotEvent(id int64, session string, img *memory.Image) (Event, error) {
	payload, err := EncodeImage(img)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id,
		Timestamp: CurrentTime(),
		Type:      SnapshotEvent,
		Session:   session,
		Payload:   payload,
		Details:   uuid.NewString(),
	}, nil
}

package recorder

import (
	"fmt"
	"time"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// Checkpoint is a frozen copy of a replayed image, taken after the first
// EventIdx events were applied. Replaying backward restarts from the closest
// checkpoint instead of from the beginning of the recording.
type Checkpoint struct {
	Snapshot Snapshot
	EventIdx int
	Taken    time.Time
}

// NewCheckpoint freezes snapshot as the state after eventIdx events. The
// snapshot image must not be modified afterwards.
func NewCheckpoint(snapshot Snapshot, eventIdx int) *Checkpoint {
	return &Checkpoint{Snapshot: snapshot, EventIdx: eventIdx, Taken: CurrentTime()}
}

// Restore returns a copy of the checkpointed image that the caller may
// keep replaying into.
func (c *Checkpoint) Restore() *memory.Image {
	return c.Snapshot.Image.Clone()
}

func (c *Checkpoint) String() string {
	return fmt.Sprintf("checkpoint after %d events (%d addresses)", c.EventIdx, c.Snapshot.Image.Len())
}

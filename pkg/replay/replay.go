// Package replay serves a recorded session as target memory.
//
// A replayer is positioned on an event of the recording. As a memory.Reader
// it answers with what the target held once that event had happened: values
// read up to that point are readable, and addresses that were never read or
// that faulted are not.
package replay

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"

	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/recorder"
)

var log = commonlog.GetLogger("pdscope.replay")

// ErrOutOfRange is returned when moving to an event the recording does not have.
var ErrOutOfRange = errors.New("event index out of range")

// Defaults for Options.
const (
	DefaultCheckpointInterval = 256
	DefaultCacheSize          = 16
)

// Replayer interface defines methods for replaying recorded events
type Replayer interface {
	memory.Reader

	// LoadEvents loads recorded events into the replayer
	LoadEvents([]recorder.Event) error

	// ReplayForward replays all events from the current position
	ReplayForward() error

	// ReplayUntilBreakpoint replays events until one satisfies the check
	ReplayUntilBreakpoint(breakpointCheck func(event recorder.Event) bool) error

	// ReplayToEventIndex moves to the specified index, forward or backward
	ReplayToEventIndex(idx int) error

	// StepBackward steps backward from the current index
	// returns the new index after stepping back
	StepBackward(currentIdx int) (int, error)

	// CurrentIndex returns the current event index, -1 before the first event
	CurrentIndex() int

	// Events returns all loaded events
	Events() []recorder.Event
}

// Options tune checkpointing.
type Options struct {
	// CheckpointInterval is the number of events between two in-memory
	// checkpoints taken while replaying forward
	CheckpointInterval int
	// CacheSize is the number of checkpoints kept
	CacheSize int
}

// BasicReplayer implements the Replayer interface
type BasicReplayer struct {
	events      []recorder.Event
	currentIdx  int
	img         *memory.Image
	interval    int
	checkpoints *lru.Cache // applied event count -> *recorder.Checkpoint
}

// NewBasicReplayer creates a new BasicReplayer with default options
func NewBasicReplayer() *BasicReplayer {
	return NewBasicReplayerWithOptions(Options{})
}

// NewBasicReplayerWithOptions creates a new BasicReplayer
func NewBasicReplayerWithOptions(opts Options) *BasicReplayer {
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, _ := lru.New(opts.CacheSize)
	return &BasicReplayer{
		events:      []recorder.Event{},
		currentIdx:  -1,
		img:         memory.NewImage(),
		interval:    opts.CheckpointInterval,
		checkpoints: cache,
	}
}

// LoadFile loads a recording written with the given options. Recordings with
// any security feature enabled were written by a SecureFileRecorder.
func LoadFile(path string, options recorder.SecureFileRecorderOptions) (*BasicReplayer, error) {
	var events []recorder.Event
	var err error
	so := options.SecurityOptions
	if so.EnableEncryption || so.EnableIntegrityCheck || so.EnableRedaction {
		events, err = recorder.ReadSecureFile(path, options)
	} else {
		events, err = recorder.ReadFile(path, options.CompressionType)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	r := NewBasicReplayer()
	if err := r.LoadEvents(events); err != nil {
		return nil, err
	}
	log.Infof("loaded %d events from %s", len(events), path)
	return r, nil
}

// LoadEvents loads the given events into the replayer, positioned before the
// first one
func (r *BasicReplayer) LoadEvents(events []recorder.Event) error {
	r.events = events
	r.currentIdx = -1
	r.img = memory.NewImage()
	r.checkpoints.Purge()
	return nil
}

// ReplayForward replays all events from current position to the end
func (r *BasicReplayer) ReplayForward() error {
	return r.ReplayToEventIndex(len(r.events) - 1)
}

// ReplayUntilBreakpoint replays events until breakpointCheck holds for one,
// stopping on it. If breakpointCheck is nil or never holds, it replays to
// the end.
func (r *BasicReplayer) ReplayUntilBreakpoint(breakpointCheck func(event recorder.Event) bool) error {
	for i := r.currentIdx + 1; i < len(r.events); i++ {
		if err := r.seek(i + 1); err != nil {
			return err
		}
		r.currentIdx = i
		if breakpointCheck != nil && breakpointCheck(r.events[i]) {
			log.Debugf("breakpoint hit at event %d", i)
			return nil
		}
	}
	return nil
}

// ReplayToEventIndex moves to the specified index. -1 is the state before
// the first event.
func (r *BasicReplayer) ReplayToEventIndex(idx int) error {
	if idx < -1 || idx >= len(r.events) {
		return fmt.Errorf("%w: %d not in [-1, %d]", ErrOutOfRange, idx, len(r.events)-1)
	}
	if err := r.seek(idx + 1); err != nil {
		return err
	}
	r.currentIdx = idx
	return nil
}

// StepBackward moves one step backward in the event log
func (r *BasicReplayer) StepBackward(currentIdx int) (int, error) {
	if currentIdx <= 0 {
		return 0, fmt.Errorf("already at the beginning")
	}
	newIdx := currentIdx - 1
	if err := r.ReplayToEventIndex(newIdx); err != nil {
		return currentIdx, err
	}
	return newIdx, nil
}

// CurrentIndex returns the current event index
func (r *BasicReplayer) CurrentIndex() int {
	return r.currentIdx
}

// Events returns all loaded events
func (r *BasicReplayer) Events() []recorder.Event {
	return r.events
}

// Checkpoints returns the number of cached checkpoints.
func (r *BasicReplayer) Checkpoints() int {
	return r.checkpoints.Len()
}

// seek makes the image reflect the first n events.
func (r *BasicReplayer) seek(n int) error {
	applied := r.currentIdx + 1
	if n < applied {
		if err := r.rebuild(n); err != nil {
			return err
		}
		applied = r.currentIdx + 1
	}
	for i := applied; i < n; i++ {
		if err := recorder.Apply(r.img, r.events[i]); err != nil {
			return err
		}
		r.currentIdx = i
		if (i+1)%r.interval == 0 && !r.checkpoints.Contains(i+1) {
			snap := recorder.Snapshot{EventIdx: i + 1, Image: r.img.Clone()}
			r.checkpoints.Add(i+1, recorder.NewCheckpoint(snap, i+1))
		}
	}
	return nil
}

// rebuild moves back to at most n applied events from the closest cached
// checkpoint, or from a snapshot in the recording.
func (r *BasicReplayer) rebuild(n int) error {
	for c := n - n%r.interval; c > 0; c -= r.interval {
		v, ok := r.checkpoints.Get(c)
		if !ok {
			continue
		}
		cp := v.(*recorder.Checkpoint)
		if r.snapshotIn(c, n) {
			break
		}
		log.Debugf("rewinding from %s", cp)
		r.img = cp.Restore()
		r.currentIdx = c - 1
		return nil
	}
	snap, err := recorder.CreateSnapshot(r.events, n)
	if err != nil {
		return err
	}
	r.img = snap.Image
	r.currentIdx = n - 1
	return nil
}

// snapshotIn reports whether a recorded snapshot lies in events[from:to].
func (r *BasicReplayer) snapshotIn(from, to int) bool {
	for _, e := range r.events[from:to] {
		if e.Type == recorder.SnapshotEvent {
			return true
		}
	}
	return false
}

// Read implements memory.Reader.
func (r *BasicReplayer) Read(ctx context.Context, addr memory.Addr, typeName string) (memory.Value, error) {
	return r.img.Read(ctx, addr, typeName)
}

// Index implements memory.Reader.
func (r *BasicReplayer) Index(ctx context.Context, base memory.Addr, elemType string, i int) (memory.Value, error) {
	return r.img.Index(ctx, base, elemType, i)
}

// ReadBytes implements memory.Reader.
func (r *BasicReplayer) ReadBytes(ctx context.Context, addr memory.Addr, n int) ([]byte, error) {
	return r.img.ReadBytes(ctx, addr, n)
}

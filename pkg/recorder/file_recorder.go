package recorder

import (
	"encoding/json"
	"sync"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// FileRecorder records events to a file of JSON lines with optional
// compression. Every SnapshotInterval events it also writes a snapshot of the
// memory seen so far, so replay does not have to start from the beginning.
type FileRecorder struct {
	mu         sync.Mutex
	j          *journal
	img        *memory.Image
	eventCount int
}

// FileRecorderOptions contains options for creating a file recorder
type FileRecorderOptions struct {
	CompressionType CompressionType
}

// DefaultFileRecorderOptions returns default options for file recorder
func DefaultFileRecorderOptions() FileRecorderOptions {
	return FileRecorderOptions{
		CompressionType: DefaultCompression,
	}
}

// NewFileRecorder creates a new file recorder with default options
func NewFileRecorder(path string) (*FileRecorder, error) {
	return NewFileRecorderWithOptions(path, DefaultFileRecorderOptions())
}

// NewFileRecorderWithOptions creates a new file recorder with the given options
func NewFileRecorderWithOptions(path string, options FileRecorderOptions) (*FileRecorder, error) {
	j, err := openJournal(path, options.CompressionType)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{j: j, img: memory.NewImage()}, nil
}

// RecordEvent appends an event to the file
func (fr *FileRecorder) RecordEvent(e Event) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := fr.j.append(e); err != nil {
		return err
	}
	fr.eventCount++
	return fr.maybeSnapshot(e, func(s Event) error { return fr.j.append(s) })
}

// maybeSnapshot tracks e and writes a snapshot event through write when the
// interval is reached.
func (fr *FileRecorder) maybeSnapshot(e Event, write func(Event) error) error {
	if SnapshotInterval <= 0 {
		return nil
	}
	if err := Apply(fr.img, e); err != nil {
		log.Warningf("snapshot state: %s", err)
	}
	if fr.eventCount%SnapshotInterval != 0 {
		return nil
	}
	s, err := NewSnapshotEvent(e.ID, e.Session, fr.img)
	if err != nil {
		return err
	}
	return write(s)
}

// GetEvents reads all events back from the file
func (fr *FileRecorder) GetEvents() []Event {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := fr.j.sync(); err != nil {
		log.Warningf("syncing %s: %s", fr.j.path, err)
	}
	var events []Event
	err := fr.j.lines(func(line []byte) bool {
		var event Event
		if err := json.Unmarshal(line, &event); err == nil {
			events = append(events, event)
		}
		return true
	})
	if err != nil {
		log.Warningf("reading %s: %s", fr.j.path, err)
	}
	return events
}

// Clear truncates the file and resets the recorder
func (fr *FileRecorder) Clear() {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := fr.j.truncate(); err != nil {
		log.Warningf("truncating %s: %s", fr.j.path, err)
	}
	fr.img = memory.NewImage()
	fr.eventCount = 0
}

// Close flushes and closes the file
func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.j.close()
}

// ReadFile loads the events of a recording written by a FileRecorder.
func ReadFile(path string, compressionType CompressionType) ([]Event, error) {
	var events []Event
	var decodeErr error
	err := scanFile(path, compressionType, func(line []byte) bool {
		var event Event
		if decodeErr = json.Unmarshal(line, &event); decodeErr != nil {
			return false
		}
		events = append(events, event)
		return true
	})
	if err != nil {
		return events, err
	}
	return events, decodeErr
}

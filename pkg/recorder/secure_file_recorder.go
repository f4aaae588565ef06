package recorder

import (
	"encoding/json"
	"regexp"
	"sync"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// SecureFileRecorder records events to a file with security features
type SecureFileRecorder struct {
	mu           sync.Mutex
	fr           FileRecorder
	securityOpts SecurityOptions
	patterns     []*regexp.Regexp
}

// SecureFileRecorderOptions contains options for creating a secure file recorder
type SecureFileRecorderOptions struct {
	SecurityOptions SecurityOptions
	CompressionType CompressionType
}

// DefaultSecureFileRecorderOptions returns default options for secure file recorder
func DefaultSecureFileRecorderOptions() SecureFileRecorderOptions {
	return SecureFileRecorderOptions{
		SecurityOptions: DefaultSecurityOptions(),
		CompressionType: DefaultCompression,
	}
}

// NewSecureFileRecorder creates a new secure file recorder with default options
func NewSecureFileRecorder(path string) (*SecureFileRecorder, error) {
	return NewSecureFileRecorderWithOptions(path, DefaultSecureFileRecorderOptions())
}

// NewSecureFileRecorderWithOptions creates a new secure file recorder with the given options
func NewSecureFileRecorderWithOptions(path string, options SecureFileRecorderOptions) (*SecureFileRecorder, error) {
	var patterns []*regexp.Regexp
	if options.SecurityOptions.EnableRedaction {
		var err error
		if patterns, err = CompilePatterns(options.SecurityOptions.RedactionPatterns); err != nil {
			return nil, err
		}
	}
	j, err := openJournal(path, options.CompressionType)
	if err != nil {
		return nil, err
	}
	return &SecureFileRecorder{
		fr:           FileRecorder{j: j, img: memory.NewImage()},
		securityOpts: options.SecurityOptions,
		patterns:     patterns,
	}, nil
}

// RecordEvent applies security features and writes an event to the file.
// Snapshots are built from the redacted events, so they never hold more than
// the recording itself.
func (sfr *SecureFileRecorder) RecordEvent(e Event) error {
	sfr.mu.Lock()
	defer sfr.mu.Unlock()

	se, err := sfr.secure(e)
	if err != nil {
		return err
	}
	if err := sfr.fr.j.append(se); err != nil {
		return err
	}
	sfr.fr.eventCount++

	if se.IsRedacted {
		e.Payload = RedactData(e.Payload, sfr.patterns, sfr.securityOpts.RedactionMask)
	}
	return sfr.fr.maybeSnapshot(e, func(s Event) error {
		ss, err := sfr.secure(s)
		if err != nil {
			return err
		}
		return sfr.fr.j.append(ss)
	})
}

func (sfr *SecureFileRecorder) secure(e Event) (SecureEvent, error) {
	return SecureEventFromEvent(e, sfr.securityOpts, sfr.patterns)
}

// GetEvents reads all events from the file, applying security features in
// reverse. Events that fail verification or decryption are skipped.
func (sfr *SecureFileRecorder) GetEvents() []Event {
	sfr.mu.Lock()
	defer sfr.mu.Unlock()

	if err := sfr.fr.j.sync(); err != nil {
		log.Warningf("syncing %s: %s", sfr.fr.j.path, err)
	}
	var events []Event
	err := sfr.fr.j.lines(func(line []byte) bool {
		var se SecureEvent
		if err := json.Unmarshal(line, &se); err != nil {
			return true
		}
		event, err := se.GetOriginalEvent(sfr.securityOpts)
		if err != nil {
			log.Warningf("skipping event %d: %s", se.Event.ID, err)
			return true
		}
		events = append(events, event)
		return true
	})
	if err != nil {
		log.Warningf("reading %s: %s", sfr.fr.j.path, err)
	}
	return events
}

// Clear truncates the file and resets the recorder
func (sfr *SecureFileRecorder) Clear() {
	sfr.mu.Lock()
	defer sfr.mu.Unlock()
	sfr.fr.Clear()
}

// Close flushes and closes the file
func (sfr *SecureFileRecorder) Close() error {
	sfr.mu.Lock()
	defer sfr.mu.Unlock()
	return sfr.fr.Close()
}

// DetectTampering checks the file for any signs of tampering. Without an
// integrity key nothing can be detected and it reports false.
func (sfr *SecureFileRecorder) DetectTampering() (bool, error) {
	sfr.mu.Lock()
	defer sfr.mu.Unlock()

	if !sfr.securityOpts.EnableIntegrityCheck {
		return false, nil
	}
	if err := sfr.fr.j.sync(); err != nil {
		return false, err
	}
	tampered := false
	var lineErr error
	err := sfr.fr.j.lines(func(line []byte) bool {
		var se SecureEvent
		if lineErr = json.Unmarshal(line, &se); lineErr != nil {
			// Corrupted JSON is considered tampering
			tampered = true
			return false
		}
		if se.Verify(sfr.securityOpts) != nil {
			tampered = true
			return false
		}
		return true
	})
	if err != nil {
		return true, err
	}
	return tampered, lineErr
}

// ReadSecureFile loads the events of a recording written by a
// SecureFileRecorder. The first event failing verification or decryption
// ends the load with an error.
func ReadSecureFile(path string, options SecureFileRecorderOptions) ([]Event, error) {
	var events []Event
	var loadErr error
	err := scanFile(path, options.CompressionType, func(line []byte) bool {
		var se SecureEvent
		if loadErr = json.Unmarshal(line, &se); loadErr != nil {
			return false
		}
		var e Event
		if e, loadErr = se.GetOriginalEvent(options.SecurityOptions); loadErr != nil {
			return false
		}
		events = append(events, e)
		return true
	})
	if err != nil {
		return events, err
	}
	return events, loadErr
}

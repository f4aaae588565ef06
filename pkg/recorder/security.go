package recorder

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// ErrTampered is returned when an event fails HMAC verification.
var ErrTampered = errors.New("HMAC verification failed: data may have been tampered with")

// SecurityOptions configures security features for event recording
type SecurityOptions struct {
	// Encryption settings
	EnableEncryption bool
	EncryptionKey    []byte // Should be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256

	// Redaction of text read from the target. Matches are masked byte for
	// byte so recorded lengths stay consistent with the pdcrt_texto headers
	EnableRedaction   bool
	RedactionPatterns []string // Regular expressions
	RedactionMask     byte

	// Integrity verification settings
	EnableIntegrityCheck bool
	IntegrityKey         []byte // Key for HMAC
}

// DefaultSecurityOptions returns the default security options (no security features enabled)
func DefaultSecurityOptions() SecurityOptions {
	return SecurityOptions{
		RedactionPatterns: []string{`(?i)(password|passwd|token|secret|credential|api[_-]?key)\s*[:=]\s*\S+`},
		RedactionMask:     '*',
	}
}

// WithEncryption enables encryption with the given key
func WithEncryption(key []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableEncryption = true
		opts.EncryptionKey = key
	}
}

// WithRedaction enables redaction with the given patterns. Nil patterns keep
// the defaults.
func WithRedaction(patterns []string) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableRedaction = true
		if patterns != nil {
			opts.RedactionPatterns = patterns
		}
	}
}

// WithIntegrityCheck enables integrity checks with the given key
func WithIntegrityCheck(key []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = key
	}
}

// NewSecurityOptions applies opts over the defaults.
func NewSecurityOptions(opts ...func(*SecurityOptions)) SecurityOptions {
	o := DefaultSecurityOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EncryptData encrypts data using AES-GCM
func EncryptData(data []byte, key []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("encryption key must be 16, 24, or 32 bytes long")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Nonce first, then ciphertext
	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// DecryptData decrypts data using AES-GCM
func DecryptData(data []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < aesGCM.NonceSize() {
		return nil, errors.New("encrypted data too short")
	}
	nonce, ciphertext := data[:aesGCM.NonceSize()], data[aesGCM.NonceSize():]
	return aesGCM.Open(nil, nonce, ciphertext, nil)
}

// CompilePatterns compiles redaction patterns.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		r, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RedactData masks every match of patterns in data with mask. The result has
// the same length as data.
func RedactData(data []byte, patterns []*regexp.Regexp, mask byte) []byte {
	out := append([]byte(nil), data...)
	for _, r := range patterns {
		for _, loc := range r.FindAllIndex(out, -1) {
			for i := loc[0]; i < loc[1]; i++ {
				out[i] = mask
			}
		}
	}
	return out
}

// CalculateHMAC generates an HMAC for the given data
func CalculateHMAC(data []byte, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks if the HMAC for the given data matches the expected value
func VerifyHMAC(data []byte, key []byte, expectedHMAC string) bool {
	return hmac.Equal([]byte(CalculateHMAC(data, key)), []byte(expectedHMAC))
}

// SecureEvent represents an event with security features
type SecureEvent struct {
	Event      Event  `json:"event"`       // Original event, or a shell around its ciphertext
	Encrypted  bool   `json:"encrypted"`   // Whether the event is encrypted
	HMAC       string `json:"hmac"`        // HMAC for integrity verification
	IsRedacted bool   `json:"is_redacted"` // Whether the event is redacted
}

// SecureEventFromEvent creates a SecureEvent from an Event with the given
// security options. patterns are the compiled RedactionPatterns.
func SecureEventFromEvent(event Event, opts SecurityOptions, patterns []*regexp.Regexp) (SecureEvent, error) {
	secureEvent := SecureEvent{Event: event}

	// Only raw bytes can hold text; values hold addresses and numbers
	if opts.EnableRedaction && event.Type == BytesRead && len(patterns) > 0 {
		secureEvent.Event.Payload = RedactData(event.Payload, patterns, opts.RedactionMask)
		secureEvent.IsRedacted = true
	}

	if opts.EnableEncryption {
		plain, err := json.Marshal(secureEvent.Event)
		if err != nil {
			return secureEvent, err
		}
		sealed, err := EncryptData(plain, opts.EncryptionKey)
		if err != nil {
			return secureEvent, err
		}
		// Addresses and types stay out of the plaintext shell
		secureEvent.Event = Event{
			ID:        event.ID,
			Timestamp: event.Timestamp,
			Type:      event.Type,
			Session:   event.Session,
			Payload:   sealed,
		}
		secureEvent.Encrypted = true
	}

	if opts.EnableIntegrityCheck {
		data, err := json.Marshal(secureEvent.Event)
		if err != nil {
			return secureEvent, err
		}
		secureEvent.HMAC = CalculateHMAC(data, opts.IntegrityKey)
	}
	return secureEvent, nil
}

// Verify checks the HMAC of se. Events without one pass.
func (se SecureEvent) Verify(opts SecurityOptions) error {
	if !opts.EnableIntegrityCheck || se.HMAC == "" {
		return nil
	}
	data, err := json.Marshal(se.Event)
	if err != nil {
		return err
	}
	if !VerifyHMAC(data, opts.IntegrityKey, se.HMAC) {
		return ErrTampered
	}
	return nil
}

// GetOriginalEvent verifies se and retrieves the recorded event.
func (se SecureEvent) GetOriginalEvent(opts SecurityOptions) (Event, error) {
	if err := se.Verify(opts); err != nil {
		return Event{}, err
	}
	if !se.Encrypted {
		return se.Event, nil
	}

	plain, err := DecryptData(se.Event.Payload, opts.EncryptionKey)
	if err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(plain, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

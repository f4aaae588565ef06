// Package config loads pdscope settings from a pdscope.toml file and
// PDSCOPE_* environment variables. Environment variables override the file,
// and command line flags override both.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/willibrandon/pdscope/pkg/inspect"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/recorder"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "pdscope.toml"

// Options stores the pdscope configuration
type Options struct {
	// Revision selects a built-in layout: "rev1" or "rev2"
	Revision string `toml:"revision"`
	// LayoutFile is a YAML layout contract; it takes precedence over Revision
	LayoutFile string `toml:"layout_file"`

	MaxChain  int `toml:"max_chain"`
	MaxDepth  int `toml:"max_depth"`
	TreeDepth int `toml:"tree_depth"`

	// RecordFile starts recording every read when set
	RecordFile  string `toml:"record_file"`
	Compression string `toml:"compression"`
	// IntegrityKey signs each recorded event with HMAC-SHA256
	IntegrityKey string `toml:"integrity_key"`
	// EncryptionKey is a hex AES key of 16, 24 or 32 bytes
	EncryptionKey  string   `toml:"encryption_key"`
	Redact         bool     `toml:"redact"`
	RedactPatterns []string `toml:"redact_patterns"`

	DlvPath    string `toml:"dlv_path"`
	TypePrefix string `toml:"type_prefix"`

	LogFile   string `toml:"log_file"`
	Verbosity int    `toml:"verbosity"`
}

// DefaultOptions returns the default configuration
func DefaultOptions() Options {
	return Options{
		Revision:    layout.Rev2.String(),
		Compression: recorder.DefaultCompression.String(),
		TreeDepth:   1,
		DlvPath:     "dlv",
		Verbosity:   0,
	}
}

// Load reads the configuration file at path over the defaults and applies
// environment overrides. An empty path loads FileName from the working
// directory when it exists.
func Load(path string) (Options, error) {
	o := DefaultOptions()

	optional := path == ""
	if optional {
		path = FileName
	}
	md, err := toml.DecodeFile(path, &o)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return o, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return o, fmt.Errorf("cannot load %s: %w", path, err)
	}

	if err := o.applyEnvironment(os.Getenv); err != nil {
		return o, err
	}
	return o, o.Validate()
}

// applyEnvironment loads overrides from PDSCOPE_* variables
func (o *Options) applyEnvironment(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
		return nil
	}

	str("PDSCOPE_REVISION", &o.Revision)
	str("PDSCOPE_LAYOUT_FILE", &o.LayoutFile)
	str("PDSCOPE_RECORD_FILE", &o.RecordFile)
	str("PDSCOPE_COMPRESSION", &o.Compression)
	str("PDSCOPE_INTEGRITY_KEY", &o.IntegrityKey)
	str("PDSCOPE_ENCRYPTION_KEY", &o.EncryptionKey)
	str("PDSCOPE_DLV_PATH", &o.DlvPath)
	str("PDSCOPE_TYPE_PREFIX", &o.TypePrefix)
	str("PDSCOPE_LOG_FILE", &o.LogFile)

	for name, dst := range map[string]*int{
		"PDSCOPE_MAX_CHAIN":  &o.MaxChain,
		"PDSCOPE_MAX_DEPTH":  &o.MaxDepth,
		"PDSCOPE_TREE_DEPTH": &o.TreeDepth,
		"PDSCOPE_VERBOSITY":  &o.Verbosity,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	// PDSCOPE_REDACT turns redaction on or off
	if v := getenv("PDSCOPE_REDACT"); v != "" {
		o.Redact = v == "1" || v == "true" || v == "yes"
	}

	// PDSCOPE_REDACT_PATTERNS is a comma separated list of expressions
	if v := getenv("PDSCOPE_REDACT_PATTERNS"); v != "" {
		o.RedactPatterns = strings.Split(v, ",")
		for i, p := range o.RedactPatterns {
			o.RedactPatterns[i] = strings.TrimSpace(p)
		}
	}
	return nil
}

// Validate checks the values that have a fixed range.
func (o Options) Validate() error {
	if o.MaxChain < 0 || o.MaxDepth < 0 || o.TreeDepth < 0 {
		return errors.New("max_chain, max_depth and tree_depth must not be negative")
	}
	if o.LayoutFile == "" {
		if _, err := layout.ParseRevision(o.Revision); err != nil {
			return err
		}
	}
	if _, err := recorder.ParseCompression(o.Compression); err != nil {
		return err
	}
	if _, err := o.encryptionKey(); err != nil {
		return err
	}
	return nil
}

// Contract returns the layout the target was built with.
func (o Options) Contract() (*layout.Contract, error) {
	if o.LayoutFile != "" {
		return layout.LoadFile(o.LayoutFile)
	}
	rev, err := layout.ParseRevision(o.Revision)
	if err != nil {
		return nil, err
	}
	return layout.For(rev)
}

// Inspect returns the inspector limits.
func (o Options) Inspect() inspect.Options {
	return inspect.Options{MaxChain: o.MaxChain, MaxDepth: o.MaxDepth}
}

// Recording returns the options recordings are written and read with.
func (o Options) Recording() (recorder.SecureFileRecorderOptions, error) {
	ct, err := recorder.ParseCompression(o.Compression)
	if err != nil {
		return recorder.SecureFileRecorderOptions{}, err
	}
	var opts []func(*recorder.SecurityOptions)
	if o.IntegrityKey != "" {
		opts = append(opts, recorder.WithIntegrityCheck([]byte(o.IntegrityKey)))
	}
	key, err := o.encryptionKey()
	if err != nil {
		return recorder.SecureFileRecorderOptions{}, err
	}
	if key != nil {
		opts = append(opts, recorder.WithEncryption(key))
	}
	if o.Redact {
		opts = append(opts, recorder.WithRedaction(o.RedactPatterns))
	}
	return recorder.SecureFileRecorderOptions{
		SecurityOptions: recorder.NewSecurityOptions(opts...),
		CompressionType: ct,
	}, nil
}

func (o Options) encryptionKey() ([]byte, error) {
	if o.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(o.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("encryption_key must be 16, 24 or 32 bytes, got %d", len(key))
}

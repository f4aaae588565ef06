package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/recorder"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if err := o.Validate(); err != nil {
		t.Fatalf("Expected the defaults to be valid, got %v", err)
	}
	c, err := o.Contract()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Revision != layout.Rev2 {
		t.Errorf("Expected rev2 by default, got %s", c.Revision)
	}
	rec, err := o.Recording()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec.CompressionType != recorder.DefaultCompression {
		t.Errorf("Expected default compression, got %s", rec.CompressionType)
	}
	so := rec.SecurityOptions
	if so.EnableEncryption || so.EnableIntegrityCheck || so.EnableRedaction {
		t.Errorf("Expected no security features by default, got %+v", so)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
revision = "rev1"
max_chain = 64
max_depth = 3
compression = "none"
integrity_key = "k"
redact = true
redact_patterns = ["secreto=\\S+"]
dlv_path = "/opt/dlv"
verbosity = 2
`)
	o, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if o.Revision != "rev1" || o.MaxChain != 64 || o.MaxDepth != 3 || o.DlvPath != "/opt/dlv" || o.Verbosity != 2 {
		t.Errorf("Unexpected options %+v", o)
	}
	// Keys missing from the file keep their defaults
	if o.TreeDepth != 1 {
		t.Errorf("Expected the default tree depth, got %d", o.TreeDepth)
	}

	if in := o.Inspect(); in.MaxChain != 64 || in.MaxDepth != 3 {
		t.Errorf("Unexpected inspector options %+v", in)
	}
	rec, err := o.Recording()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec.CompressionType != recorder.NoCompression {
		t.Errorf("Expected no compression, got %s", rec.CompressionType)
	}
	so := rec.SecurityOptions
	if !so.EnableIntegrityCheck || string(so.IntegrityKey) != "k" {
		t.Errorf("Expected the integrity check with key k, got %+v", so)
	}
	if !so.EnableRedaction || len(so.RedactionPatterns) != 1 || so.RedactionPatterns[0] != `secreto=\S+` {
		t.Errorf("Expected the configured redaction pattern, got %v", so.RedactionPatterns)
	}
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", `colour = "blue"`, "unknown key colour"},
		{"syntax", `revision = `, "cannot load"},
		{"revision", `revision = "rev9"`, "unknown layout revision"},
		{"compression", `compression = "lz4"`, "lz4"},
		{"short key", `encryption_key = "00ff"`, "must be 16, 24 or 32 bytes"},
		{"bad hex", `encryption_key = "zz"`, "encryption_key"},
		{"negative", `max_chain = -1`, "must not be negative"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected an error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected an error for an explicit missing file")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	o, err := Load("")
	if err != nil {
		t.Fatalf("Expected the missing default file to be ignored, got %v", err)
	}
	if o.Revision != DefaultOptions().Revision {
		t.Errorf("Expected the defaults, got %+v", o)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, `
revision = "rev1"
max_chain = 64
redact = true
`)
	key := strings.Repeat("ab", 16)
	t.Setenv("PDSCOPE_REVISION", "2")
	t.Setenv("PDSCOPE_MAX_CHAIN", "10")
	t.Setenv("PDSCOPE_REDACT", "0")
	t.Setenv("PDSCOPE_REDACT_PATTERNS", "uno, dos ,tres")
	t.Setenv("PDSCOPE_ENCRYPTION_KEY", key)
	t.Setenv("PDSCOPE_LOG_FILE", "/tmp/pdscope.log")

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if o.Revision != "2" || o.MaxChain != 10 || o.Redact || o.LogFile != "/tmp/pdscope.log" {
		t.Errorf("Expected the environment to win, got %+v", o)
	}
	want := []string{"uno", "dos", "tres"}
	if len(o.RedactPatterns) != len(want) {
		t.Fatalf("Expected %d patterns, got %v", len(want), o.RedactPatterns)
	}
	for i, p := range want {
		if o.RedactPatterns[i] != p {
			t.Errorf("Expected pattern %d to be %q, got %q", i, p, o.RedactPatterns[i])
		}
	}

	rec, err := o.Recording()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !rec.SecurityOptions.EnableEncryption || len(rec.SecurityOptions.EncryptionKey) != 16 {
		t.Errorf("Expected a 16 byte encryption key, got %+v", rec.SecurityOptions)
	}

	t.Setenv("PDSCOPE_VERBOSITY", "loud")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "PDSCOPE_VERBOSITY") {
		t.Errorf("Expected a malformed number to be reported, got %v", err)
	}
}

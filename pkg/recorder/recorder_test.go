package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// image builds a small target: a struct at 0x100, a two element array at
// 0x200 and text bytes at 0x300.
func image() *memory.Image {
	img := memory.NewImage()
	img.Put(0x100, memory.MakeStruct("pdcrt_texto", 0x100,
		memory.F("contenido", memory.Ptr("char", 0x300)),
		memory.F("longitud", memory.MakeUint("size_t", 4)),
	))
	img.PutArray(0x200, memory.MakeInt("int", 7), memory.MakeEnum("pdcrt_tipo_de_objeto", 7, "PDCRT_TOBJ_NULO"))
	img.PutBytes(0x300, []byte("hola"))
	return img
}

func readAll(t *testing.T, r memory.Reader) {
	t.Helper()
	ctx := context.Background()
	if _, err := r.Read(ctx, 0x100, "pdcrt_texto"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := r.Index(ctx, 0x200, "int", 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := r.ReadBytes(ctx, 0x300, 4); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := r.Read(ctx, 0xdead, "pdcrt_marco"); !memory.IsAccess(err) {
		t.Fatalf("Expected an access error, got %v", err)
	}
}

func TestInMemoryRecorder(t *testing.T) {
	rec := NewInMemoryRecorder()
	if events := rec.GetEvents(); len(events) != 0 {
		t.Errorf("Expected 0 events initially, got %d", len(events))
	}

	for i := int64(1); i <= 3; i++ {
		if err := rec.RecordEvent(Event{ID: i, Type: ValueRead}); err != nil {
			t.Errorf("Unexpected error recording event: %v", err)
		}
	}
	events := rec.GetEvents()
	if len(events) != 3 || events[2].ID != 3 {
		t.Errorf("Expected 3 events in order, got %+v", events)
	}

	// GetEvents hands out a copy
	events[0].ID = 42
	if rec.GetEvents()[0].ID != 1 {
		t.Errorf("Expected the recorder to keep its own events")
	}

	rec.Clear()
	if n := len(rec.GetEvents()); n != 0 {
		t.Errorf("Expected 0 events after Clear, got %d", n)
	}
}

func TestRecordingReader(t *testing.T) {
	rec := NewInMemoryRecorder()
	rr := NewReader(image(), rec)
	readAll(t, rr)

	events := rec.GetEvents()
	wantTypes := []EventType{ValueRead, ElementRead, BytesRead, ReadFault}
	if len(events) != len(wantTypes) {
		t.Fatalf("Expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, e := range events {
		if e.Type != wantTypes[i] {
			t.Errorf("Event %d: expected %s, got %s", i, wantTypes[i], e.Type)
		}
		if e.ID != int64(i+1) {
			t.Errorf("Event %d: expected ID %d, got %d", i, i+1, e.ID)
		}
		if e.Session != rr.Session() || e.Session == "" {
			t.Errorf("Event %d: expected session %q, got %q", i, rr.Session(), e.Session)
		}
	}

	v, err := DecodeValue(events[0].Payload)
	if err != nil || v.Type != "pdcrt_texto" || len(v.Fields) != 2 {
		t.Errorf("Unexpected recorded value %+v (%v)", v, err)
	}
	elem, err := DecodeValue(events[1].Payload)
	if err != nil || elem.Symbol != "PDCRT_TOBJ_NULO" || events[1].Index != 1 {
		t.Errorf("Unexpected recorded element %+v at %d (%v)", elem, events[1].Index, err)
	}
	if string(events[2].Payload) != "hola" {
		t.Errorf("Expected the raw bytes, got %q", events[2].Payload)
	}
	if events[3].Of != ValueRead || events[3].Addr != 0xdead || events[3].Details == "" {
		t.Errorf("Unexpected fault event %+v", events[3])
	}
}

func TestRecordingReaderSkipsCancellation(t *testing.T) {
	rec := NewInMemoryRecorder()
	rr := NewReader(image(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rr.Read(ctx, 0x100, "pdcrt_texto"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if n := len(rec.GetEvents()); n != 0 {
		t.Errorf("Expected canceled reads to go unrecorded, got %d events", n)
	}
}

func TestFileRecorder(t *testing.T) {
	orig := SnapshotInterval
	SnapshotInterval = 0
	defer func() { SnapshotInterval = orig }()

	for _, ct := range []CompressionType{NoCompression, ZstdCompression} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session.jsonl")
			fr, err := NewFileRecorderWithOptions(path, FileRecorderOptions{CompressionType: ct})
			if err != nil {
				t.Fatalf("Failed to create file recorder: %v", err)
			}
			readAll(t, NewReader(image(), fr))

			// Reading back mid-session keeps the file appendable
			if n := len(fr.GetEvents()); n != 4 {
				t.Fatalf("Expected 4 events, got %d", n)
			}
			fr.RecordEvent(Event{ID: 5, Type: BytesRead, Addr: 0x400, Payload: []byte("x")})
			if err := fr.Close(); err != nil {
				t.Fatalf("Failed to close recorder: %v", err)
			}

			events, err := ReadFile(path, ct)
			if err != nil {
				t.Fatalf("Failed to read recording: %v", err)
			}
			if len(events) != 5 {
				t.Fatalf("Expected 5 events, got %d", len(events))
			}
			if events[2].Type != BytesRead || string(events[2].Payload) != "hola" {
				t.Errorf("Unexpected bytes event %+v", events[2])
			}
			if events[4].ID != 5 {
				t.Errorf("Expected the appended event last, got ID %d", events[4].ID)
			}
		})
	}
}

func TestFileRecorderClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl.zst")
	fr, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("Failed to create file recorder: %v", err)
	}
	defer fr.Close()

	fr.RecordEvent(Event{ID: 1, Type: ReadFault, Of: ElementRead})
	fr.Clear()
	fr.RecordEvent(Event{ID: 2, Type: ReadFault, Of: BytesRead})

	events := fr.GetEvents()
	if len(events) != 1 || events[0].ID != 2 {
		t.Errorf("Expected only the event recorded after Clear, got %+v", events)
	}
}

func TestFileRecorderSnapshots(t *testing.T) {
	orig := SnapshotInterval
	SnapshotInterval = 2
	defer func() { SnapshotInterval = orig }()

	path := filepath.Join(t.TempDir(), "session.jsonl.zst")
	fr, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("Failed to create file recorder: %v", err)
	}
	readAll(t, NewReader(image(), fr))
	fr.Close()

	events, err := ReadFile(path, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to read recording: %v", err)
	}
	// Four reads, a snapshot after the second and the fourth
	wantTypes := []EventType{ValueRead, ElementRead, SnapshotEvent, BytesRead, ReadFault, SnapshotEvent}
	if len(events) != len(wantTypes) {
		t.Fatalf("Expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, e := range events {
		if e.Type != wantTypes[i] {
			t.Errorf("Event %d: expected %s, got %s", i, wantTypes[i], e.Type)
		}
	}

	img, err := DecodeImage(events[5].Payload)
	if err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	b, err := img.ReadBytes(context.Background(), 0x300, 4)
	if err != nil || string(b) != "hola" {
		t.Errorf("Expected the snapshot to hold the text bytes, got %q (%v)", b, err)
	}
}

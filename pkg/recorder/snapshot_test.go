package recorder

import (
	"context"
	"testing"

	"github.com/willibrandon/pdscope/pkg/memory"
)

func TestApplyFaults(t *testing.T) {
	ctx := context.Background()
	rec := NewInMemoryRecorder()
	readAll(t, NewReader(image(), rec))
	events := rec.GetEvents()

	snap, err := CreateSnapshot(events, len(events))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	img := snap.Image
	if _, err := img.Index(ctx, 0x200, "int", 1); err != nil {
		t.Errorf("Expected element 1 in the snapshot, got %v", err)
	}
	if _, err := img.Index(ctx, 0x200, "int", 0); !memory.IsAccess(err) {
		t.Errorf("Expected unread element 0 to stay unknown, got %v", err)
	}

	// The target freed the text afterwards
	Apply(img, Event{Type: ReadFault, Of: ValueRead, Addr: 0x100})
	Apply(img, Event{Type: ReadFault, Of: ElementRead, Addr: 0x200, Index: 1})
	if _, err := img.Read(ctx, 0x100, "pdcrt_texto"); !memory.IsAccess(err) {
		t.Errorf("Expected the faulted address to be unreadable, got %v", err)
	}
	if _, err := img.Index(ctx, 0x200, "int", 1); !memory.IsAccess(err) {
		t.Errorf("Expected the faulted element to be unreadable, got %v", err)
	}

	if err := Apply(img, Event{ID: 9, Type: ValueRead, Payload: []byte{0xff}}); err == nil {
		t.Errorf("Expected a corrupt payload to fail")
	}
}

func TestCreateSnapshotFromSnapshotEvent(t *testing.T) {
	ctx := context.Background()
	base := memory.NewImage()
	base.PutBytes(0x900, []byte("antes"))
	s, err := NewSnapshotEvent(1, "s", base)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	payload, _ := EncodeValue(memory.MakeInt("int", 3))
	events := []Event{
		// Only in the snapshot's past: superseded by it
		{ID: 0, Type: BytesRead, Addr: 0x800, Payload: []byte("x")},
		s,
		{ID: 2, Type: ValueRead, Addr: 0x10, TypeName: "int", Payload: payload},
	}

	snap, err := CreateSnapshot(events, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap.EventIdx != 3 || snap.ID == "" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if b, err := snap.Image.ReadBytes(ctx, 0x900, 5); err != nil || string(b) != "antes" {
		t.Errorf("Expected the restored bytes, got %q (%v)", b, err)
	}
	if _, err := snap.Image.ReadBytes(ctx, 0x800, 1); err == nil {
		t.Errorf("Expected events before the snapshot to come from the snapshot only")
	}
	if v, err := snap.Image.Read(ctx, 0x10, "int"); err != nil || v.Int != 3 {
		t.Errorf("Expected the later read applied, got %+v (%v)", v, err)
	}

	if _, err := CreateSnapshot(events, 4); err == nil {
		t.Errorf("Expected an out of range snapshot to fail")
	}
	cp := NewCheckpoint(snap, 3)
	if cp.String() != "checkpoint after 3 events (2 addresses)" {
		t.Errorf("Unexpected checkpoint %s", cp)
	}
	restored := cp.Restore()
	restored.Remove(0x10)
	if _, err := cp.Snapshot.Image.Read(ctx, 0x10, "int"); err != nil {
		t.Errorf("Expected Restore to return a copy, got %v", err)
	}
}

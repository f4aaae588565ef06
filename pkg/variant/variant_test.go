package variant

import (
	"testing"

	"github.com/willibrandon/pdscope/pkg/memory"
)

func TestValueTable(t *testing.T) {
	testCases := []struct {
		disc  int64
		want  Case
		field string
		deref bool
	}{
		{0, Integer, "i", false},
		{1, Float, "f", false},
		{2, StackMark, "", false},
		{3, Closure, "c", false},
		{4, Text, "t", true},
		{5, Object, "o", false},
		{6, Boolean, "b", false},
		{7, Null, "", false},
		{8, Array, "a", true},
		{9, ClosureCopy, "c", false},
		{10, ExtendedObject, "o", false},
	}

	for _, tc := range testCases {
		t.Run(tc.want.String(), func(t *testing.T) {
			v := ValueRev2.Variant(tc.disc)
			if v.Case != tc.want {
				t.Errorf("Expected case %s, got %s", tc.want, v.Case)
			}
			if v.Field != tc.field {
				t.Errorf("Expected field %q, got %q", tc.field, v.Field)
			}
			if v.Deref != tc.deref {
				t.Errorf("Expected deref %v, got %v", tc.deref, v.Deref)
			}
			if tc.disc <= 7 {
				if old := ValueRev1.Variant(tc.disc); old != v {
					t.Errorf("Expected revisions to agree on %d, got %+v and %+v", tc.disc, old, v)
				}
			}
		})
	}
}

func TestUnknownDiscriminants(t *testing.T) {
	testCases := []struct {
		name  string
		table *Table
		disc  int64
	}{
		{"rev1 array tag", ValueRev1, 8},
		{"rev1 extended object", ValueRev1, 10},
		{"rev2 past the end", ValueRev2, 11},
		{"negative", ValueRev2, -1},
		{"continuation past the end", Continuation, 6},
		{"large", Continuation, 1 << 40},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := tc.table.Variant(tc.disc)
			if v.Case != Unrecognized {
				t.Errorf("Expected Unrecognized, got %s", v.Case)
			}
			if v.HasPayload() {
				t.Error("Expected no payload")
			}
			if v.Disc != tc.disc {
				t.Errorf("Expected discriminant %d to be kept, got %d", tc.disc, v.Disc)
			}

			p, ok, err := tc.table.Decode(tc.disc, "value", memory.MakeStruct("", 0))
			if err != nil || ok {
				t.Errorf("Expected no payload and no error, got ok=%v err=%v", ok, err)
			}
			if p.Variant.Case != Unrecognized {
				t.Errorf("Expected Unrecognized payload variant, got %s", p.Variant.Case)
			}
		})
	}
}

func TestContinuationTable(t *testing.T) {
	want := map[int64]string{
		0: "iniciar",
		1: "continuar",
		2: "",
		3: "enviar_mensaje",
		4: "tail_iniciar",
		5: "tail_enviar_mensaje",
	}
	for disc, field := range want {
		v := Continuation.Variant(disc)
		if v.Field != field {
			t.Errorf("Discriminant %d: expected field %q, got %q", disc, field, v.Field)
		}
		if v.Deref {
			t.Errorf("Discriminant %d: expected no dereference", disc)
		}
	}
	if got := Continuation.Variant(2).Case; got != Return {
		t.Errorf("Expected devolver at 2, got %s", got)
	}
}

func TestDecode(t *testing.T) {
	union := memory.MakeStruct("", 0x40,
		memory.F("i", memory.MakeInt("int64_t", 42)),
		memory.F("t", memory.Ptr("pdcrt_texto", 0x80)),
	)

	p, ok, err := ValueRev2.Decode(0, "value", union)
	if err != nil || !ok {
		t.Fatalf("Expected payload, got ok=%v err=%v", ok, err)
	}
	if p.Label != "value.i" || p.Value.Int != 42 {
		t.Errorf("Expected value.i = 42, got %s = %d", p.Label, p.Value.Int)
	}

	p, ok, err = ValueRev2.Decode(4, "value", union)
	if err != nil || !ok {
		t.Fatalf("Expected payload, got ok=%v err=%v", ok, err)
	}
	if !p.Variant.Deref || p.Value.Addr != 0x80 {
		t.Errorf("Expected dereferenceable pointer to 0x80, got %+v", p)
	}

	if _, ok, err := ValueRev2.Decode(7, "value", union); ok || err != nil {
		t.Errorf("Expected Null to carry no payload, got ok=%v err=%v", ok, err)
	}

	// Float member is absent from the union
	if _, _, err := ValueRev2.Decode(1, "value", union); err == nil {
		t.Error("Expected an error for a missing union member")
	}
}

func TestNewTable(t *testing.T) {
	if _, err := NewTable("t", Variant{Disc: 0, Case: Integer, Field: "i"}, Variant{Disc: 0, Case: Float, Field: "f"}); err == nil {
		t.Error("Expected duplicate discriminant to fail")
	}
	if _, err := NewTable("t", Variant{Disc: 0, Field: "i"}); err == nil {
		t.Error("Expected a row without case to fail")
	}
	if _, err := NewTable("t", Variant{Disc: 0, Case: Text, Deref: true}); err == nil {
		t.Error("Expected a dereferencing row without field to fail")
	}

	tbl, err := NewTable("t", Variant{Disc: 5, Case: Object, Field: "o"}, Variant{Disc: 1, Case: Float, Field: "f"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := tbl.Discriminants()
	if len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Errorf("Expected [1 5], got %v", got)
	}
	if v, ok := tbl.Lookup(Object); !ok || v.Disc != 5 {
		t.Errorf("Expected Object at 5, got %+v %v", v, ok)
	}
}

func TestParseCase(t *testing.T) {
	for c := range caseNames {
		got, err := ParseCase(c.String())
		if err != nil {
			t.Errorf("ParseCase(%q): %v", c.String(), err)
			continue
		}
		if got != c {
			t.Errorf("ParseCase(%q): expected %s, got %s", c.String(), c, got)
		}
	}
	if _, err := ParseCase("bogus"); err == nil {
		t.Error("Expected an error for an unknown case name")
	}
}

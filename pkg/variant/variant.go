// Package variant decodes the tagged unions of the pdcrt runtime.
//
// A Table maps a discriminant to a Variant: the case it selects, the union
// member that is active for that case, and whether the member holds the
// payload itself or a pointer that must be followed once more. Discriminants
// missing from a table decode to the Unrecognized case, which carries no
// payload and is not an error.
package variant

import (
	"fmt"
	"sort"
	"strings"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// Case identifies one variant of a runtime union.
type Case int

const (
	// Unrecognized is the case of every discriminant absent from a table
	Unrecognized Case = iota

	// pdcrt_objeto cases
	Integer
	Float
	StackMark
	Closure
	Text
	Object
	Boolean
	Null
	Array
	ClosureCopy
	ExtendedObject

	// pdcrt_continuacion cases
	Start
	Resume
	Return
	SendMessage
	TailStart
	TailSendMessage
)

var caseNames = map[Case]string{
	Unrecognized:    "unrecognized",
	Integer:         "integer",
	Float:           "float",
	StackMark:       "stack_mark",
	Closure:         "closure",
	Text:            "text",
	Object:          "object",
	Boolean:         "boolean",
	Null:            "null",
	Array:           "array",
	ClosureCopy:     "closure_copy",
	ExtendedObject:  "extended_object",
	Start:           "iniciar",
	Resume:          "continuar",
	Return:          "devolver",
	SendMessage:     "enviar_mensaje",
	TailStart:       "tail_iniciar",
	TailSendMessage: "tail_enviar_mensaje",
}

func (c Case) String() string {
	if name, ok := caseNames[c]; ok {
		return name
	}
	return fmt.Sprintf("case(%d)", int(c))
}

// ParseCase returns the case called name, as written by String.
func ParseCase(name string) (Case, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range caseNames {
		if n == name {
			return c, nil
		}
	}
	return Unrecognized, fmt.Errorf("unknown variant case %q", name)
}

// Variant is the decoded meaning of one discriminant.
type Variant struct {
	Disc  int64
	Case  Case
	Field string // active union member, empty when the case has no payload
	Deref bool   // the member is a pointer to the payload
}

// HasPayload reports whether the variant selects a union member.
func (v Variant) HasPayload() bool {
	return v.Field != ""
}

// Table is an immutable discriminant table for one union kind.
type Table struct {
	name  string
	byTag map[int64]Variant
}

// NewTable builds a table named after the union it describes. Rows must have
// distinct discriminants and must not use the Unrecognized case.
func NewTable(name string, rows ...Variant) (*Table, error) {
	t := &Table{name: name, byTag: make(map[int64]Variant, len(rows))}
	for _, row := range rows {
		if row.Case == Unrecognized {
			return nil, fmt.Errorf("%s: discriminant %d has no case", name, row.Disc)
		}
		if _, dup := t.byTag[row.Disc]; dup {
			return nil, fmt.Errorf("%s: duplicate discriminant %d", name, row.Disc)
		}
		if row.Deref && row.Field == "" {
			return nil, fmt.Errorf("%s: discriminant %d needs a field to dereference", name, row.Disc)
		}
		t.byTag[row.Disc] = row
	}
	return t, nil
}

func mustTable(name string, rows ...Variant) *Table {
	t, err := NewTable(name, rows...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the union type the table describes.
func (t *Table) Name() string {
	return t.name
}

// Variant decodes disc. Unknown discriminants yield the Unrecognized case.
func (t *Table) Variant(disc int64) Variant {
	if v, ok := t.byTag[disc]; ok {
		return v
	}
	return Variant{Disc: disc, Case: Unrecognized}
}

// Lookup returns the row for c, if the table has one.
func (t *Table) Lookup(c Case) (Variant, bool) {
	for _, v := range t.byTag {
		if v.Case == c {
			return v, true
		}
	}
	return Variant{}, false
}

// Discriminants returns the known discriminants in ascending order.
func (t *Table) Discriminants() []int64 {
	out := make([]int64, 0, len(t.byTag))
	for d := range t.byTag {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rows returns every row ordered by discriminant.
func (t *Table) Rows() []Variant {
	out := make([]Variant, 0, len(t.byTag))
	for _, d := range t.Discriminants() {
		out = append(out, t.byTag[d])
	}
	return out
}

// Payload is the active member of a decoded union.
type Payload struct {
	Variant Variant
	Label   string       // "value.t", "valor.iniciar"
	Value   memory.Value // the member as stored in the union
}

// Decode selects the active member of union for disc. prefix is the name of
// the union member in the enclosing struct ("value" or "valor"). ok is false
// for cases without payload and for unrecognized discriminants. A row whose
// member is missing from union is a layout mismatch and is reported as an
// error.
func (t *Table) Decode(disc int64, prefix string, union memory.Value) (Payload, bool, error) {
	v := t.Variant(disc)
	if !v.HasPayload() {
		return Payload{Variant: v}, false, nil
	}
	member, ok := union.Field(v.Field)
	if !ok {
		return Payload{Variant: v}, false, fmt.Errorf("%s: union %s has no member %q for discriminant %d",
			t.name, prefix, v.Field, disc)
	}
	return Payload{Variant: v, Label: prefix + "." + v.Field, Value: member}, true, nil
}

// ValueRev1 is the pdcrt_objeto table of the first runtime revision.
var ValueRev1 = mustTable("pdcrt_objeto",
	Variant{Disc: 0, Case: Integer, Field: "i"},
	Variant{Disc: 1, Case: Float, Field: "f"},
	Variant{Disc: 2, Case: StackMark},
	Variant{Disc: 3, Case: Closure, Field: "c"},
	Variant{Disc: 4, Case: Text, Field: "t", Deref: true},
	Variant{Disc: 5, Case: Object, Field: "o"},
	Variant{Disc: 6, Case: Boolean, Field: "b"},
	Variant{Disc: 7, Case: Null},
)

// ValueRev2 adds runtime arrays, closure copies and extended objects.
var ValueRev2 = mustTable("pdcrt_objeto",
	Variant{Disc: 0, Case: Integer, Field: "i"},
	Variant{Disc: 1, Case: Float, Field: "f"},
	Variant{Disc: 2, Case: StackMark},
	Variant{Disc: 3, Case: Closure, Field: "c"},
	Variant{Disc: 4, Case: Text, Field: "t", Deref: true},
	Variant{Disc: 5, Case: Object, Field: "o"},
	Variant{Disc: 6, Case: Boolean, Field: "b"},
	Variant{Disc: 7, Case: Null},
	Variant{Disc: 8, Case: Array, Field: "a", Deref: true},
	Variant{Disc: 9, Case: ClosureCopy, Field: "c"},
	Variant{Disc: 10, Case: ExtendedObject, Field: "o"},
)

// Continuation is the pdcrt_continuacion table. Discriminant 2 (devolver)
// carries no payload.
var Continuation = mustTable("pdcrt_continuacion",
	Variant{Disc: 0, Case: Start, Field: "iniciar"},
	Variant{Disc: 1, Case: Resume, Field: "continuar"},
	Variant{Disc: 2, Case: Return},
	Variant{Disc: 3, Case: SendMessage, Field: "enviar_mensaje"},
	Variant{Disc: 4, Case: TailStart, Field: "tail_iniciar"},
	Variant{Disc: 5, Case: TailSendMessage, Field: "tail_enviar_mensaje"},
)

// Package layout holds the binary layout contract pdscope assumes for a
// pdcrt runtime build: structure type names, member names and the
// discriminant tables of the runtime unions.
//
// A contract is picked once per target build (Rev1, Rev2 or a YAML file) and
// never inferred from the target. If it disagrees with the real ABI, reads
// come back garbled or fail; nothing here can detect that.
package layout

import (
	"fmt"
	"strings"

	"github.com/willibrandon/pdscope/pkg/variant"
)

// NumReservedSlots is the number of leading bookkeeping slots in every
// environment and in every frame's locals array.
const NumReservedSlots = 2

// ReservedSlotNames labels the reserved slots, in order: the enclosing scope
// and the active scope.
var ReservedSlotNames = [NumReservedSlots]string{"ESUP", "EACT"}

// Revision identifies a runtime build generation.
type Revision int

const (
	// Rev1 is the original runtime: eight value tags, no arrays or namespaces
	Rev1 Revision = 1
	// Rev2 adds runtime arrays, closure copies, extended objects, named
	// frames with return arity, and the global namespace
	Rev2 Revision = 2
)

func (r Revision) String() string {
	return fmt.Sprintf("rev%d", int(r))
}

// ParseRevision accepts "1", "rev1", "2" or "rev2".
func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "rev1":
		return Rev1, nil
	case "2", "rev2", "":
		return Rev2, nil
	}
	return 0, fmt.Errorf("unknown layout revision %q", s)
}

// Kind is the structural type of a runtime object.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindValue
	KindContinuation
	KindEnv
	KindFrame
	KindStack
	KindArray
	KindNamespace
	KindNamespaceEntry
	KindClosure
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindText:           "text",
	KindValue:          "value",
	KindContinuation:   "continuation",
	KindEnv:            "environment",
	KindFrame:          "frame",
	KindStack:          "stack",
	KindArray:          "array",
	KindNamespace:      "namespace",
	KindNamespaceEntry: "namespace entry",
	KindClosure:        "closure",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Text is the layout of pdcrt_texto.
type Text struct {
	Type   string `yaml:"type"`
	Data   string `yaml:"data"`
	Length string `yaml:"length"`
}

// Value is the layout of pdcrt_objeto.
type Value struct {
	Type  string `yaml:"type"`
	Tag   string `yaml:"tag"`
	Union string `yaml:"union"`
	Recv  string `yaml:"recv"`
}

// Continuation is the layout of pdcrt_continuacion.
type Continuation struct {
	Type  string `yaml:"type"`
	Tag   string `yaml:"tag"`
	Union string `yaml:"union"`
}

// Closure is the layout of pdcrt_closure.
type Closure struct {
	Type string `yaml:"type"`
	Proc string `yaml:"proc"`
	Env  string `yaml:"env"`
}

// Env is the layout of pdcrt_env. Size counts the reserved slots.
type Env struct {
	Type  string `yaml:"type"`
	Size  string `yaml:"size"`
	Slots string `yaml:"slots"`
}

// Frame is the layout of pdcrt_marco. NumLocals excludes the reserved slots.
// Returns and Name are empty on builds that do not record them.
type Frame struct {
	Type      string `yaml:"type"`
	Context   string `yaml:"context"`
	Previous  string `yaml:"previous"`
	Returns   string `yaml:"returns"`
	Name      string `yaml:"name"`
	Locals    string `yaml:"locals"`
	NumLocals string `yaml:"num_locals"`
}

// Vector is the layout shared by pdcrt_pila and pdcrt_arreglo.
type Vector struct {
	Type     string `yaml:"type"`
	Elements string `yaml:"elements"`
	Count    string `yaml:"count"`
	Capacity string `yaml:"capacity"`
}

// Namespace is the layout of pdcrt_espacio_de_nombres.
type Namespace struct {
	Type        string `yaml:"type"`
	Entries     string `yaml:"entries"`
	Count       string `yaml:"count"`
	LastCreated string `yaml:"last_created"`
}

// NamespaceEntry is the layout of pdcrt_nombre.
type NamespaceEntry struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	AutoExec string `yaml:"auto_exec"`
	Value    string `yaml:"value"`
}

// Contract is one complete layout. A structure whose Type is empty does not
// exist in that build.
type Contract struct {
	Name         string         `yaml:"name"`
	Revision     Revision       `yaml:"revision"`
	Text         Text           `yaml:"text"`
	Value        Value          `yaml:"value"`
	Continuation Continuation   `yaml:"continuation"`
	Closure      Closure        `yaml:"closure"`
	Env          Env            `yaml:"env"`
	Frame        Frame          `yaml:"frame"`
	Stack        Vector         `yaml:"stack"`
	Array        Vector         `yaml:"array"`
	Namespace    Namespace      `yaml:"namespace"`
	Entry        NamespaceEntry `yaml:"entry"`

	ValueTags        []TagRow `yaml:"value_tags"`
	ContinuationTags []TagRow `yaml:"continuation_tags"`

	valueTable *variant.Table
	contTable  *variant.Table
	kinds      map[string]Kind
}

// TagRow is one discriminant table row as written in a contract file.
type TagRow struct {
	Disc  int64  `yaml:"disc"`
	Case  string `yaml:"case"`
	Field string `yaml:"field,omitempty"`
	Deref bool   `yaml:"deref,omitempty"`
}

// ValueTable returns the pdcrt_objeto discriminant table.
func (c *Contract) ValueTable() *variant.Table {
	return c.valueTable
}

// ContinuationTable returns the pdcrt_continuacion discriminant table.
func (c *Contract) ContinuationTable() *variant.Table {
	return c.contTable
}

// KindOf maps a type tag reported by a reader to its structural kind. The
// mapping is fixed when the contract is built.
func (c *Contract) KindOf(typeName string) Kind {
	return c.kinds[NormalizeType(typeName)]
}

// Has reports whether the build has structures of kind k.
func (c *Contract) Has(k Kind) bool {
	for _, kind := range c.kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// NormalizeType strips C qualifiers and tags from a type name so that
// "struct pdcrt_marco" and "const pdcrt_marco" compare equal to "pdcrt_marco".
func NormalizeType(typeName string) string {
	t := strings.TrimSpace(typeName)
	for _, prefix := range []string{"const ", "volatile ", "struct ", "union "} {
		for strings.HasPrefix(t, prefix) {
			t = strings.TrimSpace(strings.TrimPrefix(t, prefix))
		}
	}
	return t
}

// For returns the built-in contract of a revision.
func For(rev Revision) (*Contract, error) {
	switch rev {
	case Rev1:
		return rev1(), nil
	case Rev2:
		return rev2(), nil
	}
	return nil, fmt.Errorf("no built-in layout for %s", rev)
}

func rev1() *Contract {
	c := &Contract{
		Name:         "pdcrt rev1",
		Revision:     Rev1,
		Text:         Text{Type: "pdcrt_texto", Data: "contenido", Length: "longitud"},
		Value:        Value{Type: "pdcrt_objeto", Tag: "tag", Union: "value", Recv: "recv"},
		Continuation: Continuation{Type: "pdcrt_continuacion", Tag: "tipo", Union: "valor"},
		Closure:      Closure{Type: "pdcrt_closure", Proc: "proc", Env: "env"},
		Env:          Env{Type: "pdcrt_env", Size: "env_size", Slots: "env"},
		Frame: Frame{Type: "pdcrt_marco", Context: "contexto", Previous: "marco_anterior",
			Locals: "locales", NumLocals: "num_locales"},
		Stack:            Vector{Type: "pdcrt_pila", Elements: "elementos", Count: "num_elementos", Capacity: "capacidad"},
		ValueTags:        rowsOf(variant.ValueRev1),
		ContinuationTags: rowsOf(variant.Continuation),
	}
	c.valueTable = variant.ValueRev1
	c.contTable = variant.Continuation
	c.index()
	return c
}

func rev2() *Contract {
	c := rev1()
	c.Name = "pdcrt rev2"
	c.Revision = Rev2
	c.Frame.Returns = "num_valores_a_devolver"
	c.Frame.Name = "nombre"
	c.Array = Vector{Type: "pdcrt_arreglo", Elements: "valores", Count: "longitud", Capacity: "capacidad"}
	c.Namespace = Namespace{Type: "pdcrt_espacio_de_nombres", Entries: "nombres", Count: "num_nombres",
		LastCreated: "ultimo_nombre_creado"}
	c.Entry = NamespaceEntry{Type: "pdcrt_nombre", Name: "nombre", AutoExec: "es_autoejecutable", Value: "valor"}
	c.ValueTags = rowsOf(variant.ValueRev2)
	c.valueTable = variant.ValueRev2
	c.index()
	return c
}

func rowsOf(t *variant.Table) []TagRow {
	var rows []TagRow
	for _, v := range t.Rows() {
		rows = append(rows, TagRow{Disc: v.Disc, Case: v.Case.String(), Field: v.Field, Deref: v.Deref})
	}
	return rows
}

func (c *Contract) index() {
	c.kinds = make(map[string]Kind)
	add := func(typeName string, k Kind) {
		if typeName != "" {
			c.kinds[NormalizeType(typeName)] = k
		}
	}
	add(c.Text.Type, KindText)
	add(c.Value.Type, KindValue)
	add(c.Continuation.Type, KindContinuation)
	add(c.Closure.Type, KindClosure)
	add(c.Env.Type, KindEnv)
	add(c.Frame.Type, KindFrame)
	add(c.Stack.Type, KindStack)
	add(c.Array.Type, KindArray)
	add(c.Namespace.Type, KindNamespace)
	add(c.Entry.Type, KindNamespaceEntry)
}

// Package memory describes the read-only view pdscope has of a target's memory.
//
// The target (a live process behind a debugger, a recorded session, or a
// synthetic image built in tests) is reached only through the Reader
// interface. Every value handed out is a copy: nothing in this package owns or
// mutates target memory, and a Value may be stale as soon as it is returned.
package memory

import (
	"fmt"
	"strings"
)

// Addr is an address in the target's address space.
type Addr uint64

// String returns the address in the usual 0x form.
func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Kind classifies a Value.
type Kind int

const (
	// Invalid is the zero Kind
	Invalid Kind = iota
	// Int is a signed integer or an enumerator
	Int
	// Uint is an unsigned integer (size_t counters, etc.)
	Uint
	// Float is a floating point number
	Float
	// Bool is a C99 bool
	Bool
	// Pointer is a data pointer; Addr is the pointee address
	Pointer
	// Func is a function pointer; Addr is the entry address
	Func
	// Array is an inline array; Addr is the address of element 0
	Array
	// Struct is a struct or union with named fields
	Struct
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Pointer:
		return "pointer"
	case Func:
		return "func"
	case Array:
		return "array"
	case Struct:
		return "struct"
	default:
		return "invalid"
	}
}

// Value is a typed copy of something read from the target.
//
// Type is the type tag reported by the reader: a bare struct tag such as
// "pdcrt_marco" for structs, "pdcrt_marco*" for pointers and "pdcrt_objeto[]"
// for inline arrays. Dispatch on structural types uses Type only.
type Value struct {
	Kind   Kind    `cbor:"k"`
	Type   string  `cbor:"t,omitempty"`
	Int    int64   `cbor:"i,omitempty"`
	Uint   uint64  `cbor:"u,omitempty"`
	Float  float64 `cbor:"f,omitempty"`
	Bool   bool    `cbor:"b,omitempty"`
	Addr   Addr    `cbor:"a,omitempty"`
	Symbol string  `cbor:"s,omitempty"` // enumerator or function name, when known
	Fields []Field `cbor:"fs,omitempty"`
}

// Field is one named member of a Struct value.
type Field struct {
	Name  string `cbor:"n"`
	Value Value  `cbor:"v"`
}

// Field returns the member called name.
func (v Value) Field(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Path follows a chain of member names, e.g. Path("value", "c", "env").
func (v Value) Path(names ...string) (Value, bool) {
	cur := v
	for _, name := range names {
		next, ok := cur.Field(name)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// IsNull reports whether v is a null data or function pointer.
func (v Value) IsNull() bool {
	return (v.Kind == Pointer || v.Kind == Func) && v.Addr == 0
}

// Integer returns v as an int64 when it holds an integral quantity.
func (v Value) Integer() (int64, bool) {
	switch v.Kind {
	case Int:
		return v.Int, true
	case Uint:
		return int64(v.Uint), true
	case Bool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Truth returns v as a boolean when it holds a bool or an integer flag.
func (v Value) Truth() (bool, bool) {
	if v.Kind == Bool {
		return v.Bool, true
	}
	n, ok := v.Integer()
	return n != 0, ok
}

// ElemType returns the element type of a pointer or array type tag:
// "pdcrt_marco*" and "pdcrt_marco[]" both yield "pdcrt_marco".
func ElemType(typeName string) string {
	t := strings.TrimSpace(typeName)
	switch {
	case strings.HasSuffix(t, "[]"):
		return strings.TrimSpace(strings.TrimSuffix(t, "[]"))
	case strings.HasSuffix(t, "*"):
		return strings.TrimSpace(strings.TrimSuffix(t, "*"))
	}
	return t
}

// PointerTo returns the pointer type tag for typeName.
func PointerTo(typeName string) string {
	return typeName + "*"
}

// Ptr builds a pointer value to an object of type elem.
func Ptr(elem string, addr Addr) Value {
	return Value{Kind: Pointer, Type: PointerTo(elem), Addr: addr}
}

// MakeStruct builds a struct value of the given type located at addr.
func MakeStruct(typeName string, addr Addr, fields ...Field) Value {
	return Value{Kind: Struct, Type: typeName, Addr: addr, Fields: fields}
}

// F is shorthand for a Field literal.
func F(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// MakeInt builds a signed integer value.
func MakeInt(typeName string, n int64) Value {
	return Value{Kind: Int, Type: typeName, Int: n}
}

// MakeUint builds an unsigned integer value.
func MakeUint(typeName string, n uint64) Value {
	return Value{Kind: Uint, Type: typeName, Uint: n}
}

// MakeEnum builds an enumerator value carrying its symbolic name.
func MakeEnum(typeName string, n int64, symbol string) Value {
	return Value{Kind: Int, Type: typeName, Int: n, Symbol: symbol}
}

// MakeFunc builds a function pointer value.
func MakeFunc(typeName string, addr Addr, symbol string) Value {
	return Value{Kind: Func, Type: typeName, Addr: addr, Symbol: symbol}
}

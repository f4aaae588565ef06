package memory

import (
	"context"
	"fmt"
	"sort"
)

// Image is an in-memory, offline memory image. It backs synthetic targets in
// tests and snapshots materialized from recorded sessions.
//
// Objects are keyed by address. When several objects were stored at the same
// address (a struct and its first member, say), Read prefers the one whose
// type matches the request and otherwise returns the first one stored: the
// type tag of the returned value always tells the truth about what is there.
type Image struct {
	objects map[Addr][]Value
	arrays  map[Addr]map[int]Value
	bytes   map[Addr][]byte
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{
		objects: make(map[Addr][]Value),
		arrays:  make(map[Addr]map[int]Value),
		bytes:   make(map[Addr][]byte),
	}
}

// Put stores v at addr.
func (m *Image) Put(addr Addr, v Value) {
	vals := m.objects[addr]
	for i := range vals {
		if vals[i].Type == v.Type {
			vals[i] = v
			return
		}
	}
	m.objects[addr] = append(vals, v)
}

// PutElem stores element i of the array starting at base.
func (m *Image) PutElem(base Addr, i int, v Value) {
	elems, ok := m.arrays[base]
	if !ok {
		elems = make(map[int]Value)
		m.arrays[base] = elems
	}
	elems[i] = v
}

// PutArray stores elems as the array starting at base.
func (m *Image) PutArray(base Addr, elems ...Value) {
	for i, v := range elems {
		m.PutElem(base, i, v)
	}
}

// PutBytes stores raw bytes at addr.
func (m *Image) PutBytes(addr Addr, b []byte) {
	m.bytes[addr] = append([]byte(nil), b...)
}

// Remove forgets everything stored at addr, as if it had been unmapped.
func (m *Image) Remove(addr Addr) {
	delete(m.objects, addr)
	delete(m.arrays, addr)
	delete(m.bytes, addr)
}

// RemoveElem forgets element i of the array starting at base.
func (m *Image) RemoveElem(base Addr, i int) {
	delete(m.arrays[base], i)
}

// Len returns the number of distinct addresses holding data.
func (m *Image) Len() int {
	seen := make(map[Addr]struct{})
	for a := range m.objects {
		seen[a] = struct{}{}
	}
	for a := range m.arrays {
		seen[a] = struct{}{}
	}
	for a := range m.bytes {
		seen[a] = struct{}{}
	}
	return len(seen)
}

// Addrs returns the addresses holding objects, in ascending order.
func (m *Image) Addrs() []Addr {
	out := make([]Addr, 0, len(m.objects))
	for a := range m.objects {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Read implements Reader.
func (m *Image) Read(ctx context.Context, addr Addr, typeName string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	vals := m.objects[addr]
	if len(vals) == 0 {
		return Value{}, &AccessError{Addr: addr, Type: typeName}
	}
	for _, v := range vals {
		if v.Type == typeName {
			return v, nil
		}
	}
	return vals[0], nil
}

// Index implements Reader.
func (m *Image) Index(ctx context.Context, base Addr, elemType string, i int) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	if i < 0 {
		return Value{}, &AccessError{Addr: base, Type: elemType, Err: fmt.Errorf("negative index %d", i)}
	}
	v, ok := m.arrays[base][i]
	if !ok {
		return Value{}, &AccessError{Addr: base, Type: elemType, Err: fmt.Errorf("no element %d", i)}
	}
	return v, nil
}

// ReadBytes implements Reader.
func (m *Image) ReadBytes(ctx context.Context, addr Addr, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := m.bytes[addr]
	if !ok || n < 0 || len(b) < n {
		return nil, &AccessError{Addr: addr, Err: fmt.Errorf("cannot read %d bytes", n)}
	}
	return append([]byte(nil), b[:n]...), nil
}

// Placed is a value stored at an address, or at an index of the array
// starting there.
type Placed struct {
	Addr  Addr  `cbor:"a"`
	Index int   `cbor:"i,omitempty"`
	Value Value `cbor:"v"`
}

// Chunk is a run of raw bytes.
type Chunk struct {
	Addr Addr   `cbor:"a"`
	Data []byte `cbor:"d"`
}

// Dump is the serializable contents of an Image, in address order.
type Dump struct {
	Objects  []Placed `cbor:"o,omitempty"`
	Elements []Placed `cbor:"e,omitempty"`
	Bytes    []Chunk  `cbor:"b,omitempty"`
}

// Dump returns the contents of m.
func (m *Image) Dump() Dump {
	var d Dump
	for _, a := range m.Addrs() {
		for _, v := range m.objects[a] {
			d.Objects = append(d.Objects, Placed{Addr: a, Value: v})
		}
	}
	bases := make([]Addr, 0, len(m.arrays))
	for a := range m.arrays {
		bases = append(bases, a)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	for _, a := range bases {
		idx := make([]int, 0, len(m.arrays[a]))
		for i := range m.arrays[a] {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			d.Elements = append(d.Elements, Placed{Addr: a, Index: i, Value: m.arrays[a][i]})
		}
	}
	addrs := make([]Addr, 0, len(m.bytes))
	for a := range m.bytes {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, a := range addrs {
		d.Bytes = append(d.Bytes, Chunk{Addr: a, Data: m.bytes[a]})
	}
	return d
}

// Restore builds an image holding the contents of d.
func Restore(d Dump) *Image {
	m := NewImage()
	for _, p := range d.Objects {
		m.objects[p.Addr] = append(m.objects[p.Addr], p.Value)
	}
	for _, p := range d.Elements {
		m.PutElem(p.Addr, p.Index, p.Value)
	}
	for _, c := range d.Bytes {
		m.PutBytes(c.Addr, c.Data)
	}
	return m
}

// Clone returns an independent copy of m.
func (m *Image) Clone() *Image {
	return Restore(m.Dump())
}

package fixture

import (
	"context"
	"fmt"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// Access is one read observed by a Spy.
type Access struct {
	Op   string // "read", "index" or "bytes"
	Addr memory.Addr
	Type string
	N    int // element index or byte count
}

func (a Access) String() string {
	switch a.Op {
	case "index":
		return fmt.Sprintf("index %s[%d] (%s)", a.Addr, a.N, a.Type)
	case "bytes":
		return fmt.Sprintf("bytes %s+%d", a.Addr, a.N)
	}
	return fmt.Sprintf("read %s (%s)", a.Addr, a.Type)
}

// Spy is a memory.Reader that records every access before delegating. Fail
// makes reads of the listed addresses fail as if they were unmapped.
type Spy struct {
	R        memory.Reader
	Accesses []Access
	Fail     map[memory.Addr]bool
}

// NewSpy wraps r.
func NewSpy(r memory.Reader) *Spy {
	return &Spy{R: r, Fail: make(map[memory.Addr]bool)}
}

func (s *Spy) Read(ctx context.Context, addr memory.Addr, typeName string) (memory.Value, error) {
	s.Accesses = append(s.Accesses, Access{Op: "read", Addr: addr, Type: typeName})
	if s.Fail[addr] {
		return memory.Value{}, &memory.AccessError{Addr: addr, Type: typeName}
	}
	return s.R.Read(ctx, addr, typeName)
}

func (s *Spy) Index(ctx context.Context, base memory.Addr, elemType string, i int) (memory.Value, error) {
	s.Accesses = append(s.Accesses, Access{Op: "index", Addr: base, Type: elemType, N: i})
	if s.Fail[base] {
		return memory.Value{}, &memory.AccessError{Addr: base, Type: elemType}
	}
	return s.R.Index(ctx, base, elemType, i)
}

func (s *Spy) ReadBytes(ctx context.Context, addr memory.Addr, n int) ([]byte, error) {
	s.Accesses = append(s.Accesses, Access{Op: "bytes", Addr: addr, N: n})
	if s.Fail[addr] {
		return nil, &memory.AccessError{Addr: addr}
	}
	return s.R.ReadBytes(ctx, addr, n)
}

// Indexed returns the element indices read from the array at base.
func (s *Spy) Indexed(base memory.Addr) []int {
	var out []int
	for _, a := range s.Accesses {
		if a.Op == "index" && a.Addr == base {
			out = append(out, a.N)
		}
	}
	return out
}

// Reset forgets the recorded accesses.
func (s *Spy) Reset() {
	s.Accesses = nil
}

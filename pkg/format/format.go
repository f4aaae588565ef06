// Package format renders pdcrt runtime structures.
//
// Every structural type has a Formatter producing a one-line summary and an
// ordered, lazily read list of labeled children. The Registry picks the
// formatter from the type tag of a value using the layout contract; the set
// of structural types is fixed, so there is no way to register new ones.
package format

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
)

// ErrLayout is returned when a value lacks a member the layout contract
// promises. It means the contract does not match the target build.
var ErrLayout = errors.New("layout mismatch")

// Defaults for Registry limits.
const (
	DefaultMaxDepth    = 3
	DefaultMaxElements = 200
	MaxTextLength      = 1 << 20
)

// Child is one labeled member of a structure.
type Child struct {
	Label string
	Value memory.Value
}

// Formatter renders one structural type.
type Formatter interface {
	// Summary returns the one-line description of v.
	Summary(ctx context.Context, v memory.Value) (string, error)

	// Children lists the members of v: structural fields first, then indexed
	// elements. Bounds are re-read from v on every iteration. An error ends
	// the sequence.
	Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error]
}

// Registry maps structural types to formatters for one target.
type Registry struct {
	r          memory.Reader
	c          *layout.Contract
	formatters map[layout.Kind]Formatter

	// MaxDepth bounds nesting in Line; deeper structures render as {...}
	MaxDepth int
	// MaxElements bounds the number of children Line renders per structure
	MaxElements int
}

// NewRegistry returns the registry for a target read through r and laid
// out as c.
func NewRegistry(r memory.Reader, c *layout.Contract) *Registry {
	g := &Registry{r: r, c: c, MaxDepth: DefaultMaxDepth, MaxElements: DefaultMaxElements}
	g.formatters = map[layout.Kind]Formatter{
		layout.KindText:           textFormatter{g},
		layout.KindValue:          valueFormatter{g},
		layout.KindContinuation:   continuationFormatter{g},
		layout.KindEnv:            envFormatter{g},
		layout.KindFrame:          frameFormatter{g},
		layout.KindStack:          vectorFormatter{g, c.Stack},
		layout.KindArray:          vectorFormatter{g, c.Array},
		layout.KindNamespace:      namespaceFormatter{g},
		layout.KindNamespaceEntry: entryFormatter{g},
	}
	return g
}

// Reader returns the reader the registry formats from.
func (g *Registry) Reader() memory.Reader {
	return g.r
}

// Contract returns the layout contract in use.
func (g *Registry) Contract() *layout.Contract {
	return g.c
}

// Kind returns the structural kind of v, KindUnknown for anything that is
// not a pdcrt struct.
func (g *Registry) Kind(v memory.Value) layout.Kind {
	if v.Kind != memory.Struct {
		return layout.KindUnknown
	}
	return g.c.KindOf(v.Type)
}

// Lookup returns the formatter for v's structural type.
func (g *Registry) Lookup(v memory.Value) (Formatter, bool) {
	f, ok := g.formatters[g.Kind(v)]
	return f, ok
}

// Line renders v on one line, descending at most depth levels into nested
// structures. Read and decode failures are rendered in place.
func (g *Registry) Line(ctx context.Context, v memory.Value, depth int) string {
	var sb strings.Builder
	g.line(ctx, &sb, v, depth)
	return sb.String()
}

func (g *Registry) line(ctx context.Context, sb *strings.Builder, v memory.Value, depth int) {
	switch v.Kind {
	case memory.Int:
		if v.Symbol != "" {
			sb.WriteString(v.Symbol)
		} else {
			sb.WriteString(strconv.FormatInt(v.Int, 10))
		}
	case memory.Uint:
		sb.WriteString(strconv.FormatUint(v.Uint, 10))
	case memory.Float:
		sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case memory.Bool:
		sb.WriteString(strconv.FormatBool(v.Bool))
	case memory.Func:
		sb.WriteString(v.Addr.String())
		if v.Symbol != "" {
			sb.WriteString(" <" + v.Symbol + ">")
		}
	case memory.Pointer:
		sb.WriteString(v.Addr.String())
		if v.Addr != 0 && g.c.KindOf(memory.ElemType(v.Type)) == layout.KindText {
			s, err := g.Text(ctx, v)
			sb.WriteByte(' ')
			if err != nil {
				sb.WriteString(ErrorText(err))
			} else {
				sb.WriteString(strconv.Quote(s))
			}
		}
	case memory.Array:
		sb.WriteString("(" + v.Type + ") " + v.Addr.String())
	case memory.Struct:
		g.structLine(ctx, sb, v, depth)
	default:
		sb.WriteString("<invalid>")
	}
}

func (g *Registry) structLine(ctx context.Context, sb *strings.Builder, v memory.Value, depth int) {
	f, ok := g.Lookup(v)
	if ok {
		if g.Kind(v) == layout.KindText {
			s, err := f.Summary(ctx, v)
			if err != nil {
				sb.WriteString(ErrorText(err))
			} else {
				sb.WriteString(strconv.Quote(s))
			}
			return
		}
		summary, err := f.Summary(ctx, v)
		if err != nil {
			sb.WriteString(ErrorText(err))
			return
		}
		sb.WriteString(summary)
		sb.WriteByte(' ')
	}
	if depth <= 0 {
		sb.WriteString("{...}")
		return
	}

	sb.WriteByte('{')
	n := 0
	emit := func(label string, child memory.Value, err error) bool {
		if n > 0 {
			sb.WriteString(", ")
		}
		if n >= g.MaxElements {
			sb.WriteString("...")
			return false
		}
		n++
		sb.WriteString(label + " = ")
		if err != nil {
			sb.WriteString(ErrorText(err))
			return false
		}
		g.line(ctx, sb, child, depth-1)
		return true
	}
	if ok {
		for c, err := range f.Children(ctx, v) {
			if !emit(c.Label, c.Value, err) {
				break
			}
		}
	} else {
		for _, fd := range v.Fields {
			if !emit(fd.Name, fd.Value, nil) {
				break
			}
		}
	}
	sb.WriteByte('}')
}

// ErrorText renders a read or decode failure the way listings show it.
func ErrorText(err error) string {
	var de *DecodeError
	switch {
	case errors.As(err, &de):
		return "<" + de.Error() + ">"
	case memory.IsAccess(err):
		return "<" + err.Error() + ">"
	}
	return "<error: " + err.Error() + ">"
}

// SlotLabel labels element i of a slot array (env or locales): the reserved
// slots by name, the rest by logical index.
func SlotLabel(array string, i int) string {
	if i < layout.NumReservedSlots {
		return fmt.Sprintf("[%s: %s[%d]]", layout.ReservedSlotNames[i], array, i)
	}
	return fmt.Sprintf("[%d: %s[%d]]", i-layout.NumReservedSlots, array, i)
}

// member returns the member name of v or an ErrLayout error.
func member(v memory.Value, name string) (memory.Value, error) {
	if name == "" {
		return memory.Value{}, fmt.Errorf("%w: %s has no such member in this layout", ErrLayout, v.Type)
	}
	m, ok := v.Field(name)
	if !ok {
		return memory.Value{}, fmt.Errorf("%w: %s has no member %s", ErrLayout, v.Type, name)
	}
	return m, nil
}

// count reads an integral counter member.
func count(v memory.Value, name string) (int64, error) {
	m, err := member(v, name)
	if err != nil {
		return 0, err
	}
	n, ok := m.Integer()
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is not an integer", ErrLayout, v.Type, name)
	}
	return n, nil
}

// elements yields count elements of the array member name of v, labeling
// each with label(i).
func (g *Registry) elements(ctx context.Context, v memory.Value, name string, n int64, label func(int) string, yield func(Child, error) bool) {
	arr, err := member(v, name)
	if err != nil {
		yield(Child{}, err)
		return
	}
	base, elemType, ok := memory.Elements(arr)
	if !ok {
		yield(Child{}, fmt.Errorf("%w: %s.%s is not an array", ErrLayout, v.Type, name))
		return
	}
	for i := 0; int64(i) < n; i++ {
		if err := ctx.Err(); err != nil {
			yield(Child{Label: label(i)}, err)
			return
		}
		e, err := g.r.Index(ctx, base, elemType, i)
		if err != nil {
			yield(Child{Label: label(i)}, err)
			return
		}
		if !yield(Child{Label: label(i), Value: e}, nil) {
			return
		}
	}
}

func fields(v memory.Value, yield func(Child, error) bool, names ...string) bool {
	for _, name := range names {
		if name == "" {
			continue
		}
		m, err := member(v, name)
		if err != nil {
			yield(Child{Label: name}, err)
			return false
		}
		if !yield(Child{Label: name, Value: m}, nil) {
			return false
		}
	}
	return true
}

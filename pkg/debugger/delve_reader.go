package debugger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-delve/delve/service/api"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
)

// ErrClosed is returned by readers whose debugger session has ended.
var ErrClosed = errors.New("debugger session closed")

// maxExamine is the largest block one ExamineMemory call returns.
const maxExamine = 1000

// loadConfig loads whole structs, unions included, without chasing pointers:
// the walkers decide what to dereference.
var loadConfig = api.LoadConfig{
	FollowPointers:     false,
	MaxVariableRecurse: 4,
	MaxStringLen:       0,
	MaxArrayValues:     0,
	MaxStructFields:    -1,
}

// DelveReader serves the memory of a halted target through Delve. Objects are
// read by evaluating casts of raw addresses, like *(*pdcrt_marco)(0xc0000a2000),
// in the scope of the current goroutine.
type DelveReader struct {
	d *DelveDebugger
}

func (dr *DelveReader) Read(ctx context.Context, addr memory.Addr, typeName string) (memory.Value, error) {
	expr := fmt.Sprintf("*(*%s)(%#x)", dr.typeExpr(typeName), uint64(addr))
	return dr.load(ctx, addr, typeName, expr)
}

func (dr *DelveReader) Index(ctx context.Context, base memory.Addr, elemType string, i int) (memory.Value, error) {
	if i < 0 {
		return memory.Value{}, &memory.AccessError{Addr: base, Type: elemType, Err: fmt.Errorf("negative index %d", i)}
	}
	// An array type just long enough to hold element i
	expr := fmt.Sprintf("(*(*[%d]%s)(%#x))[%d]", i+1, dr.typeExpr(elemType), uint64(base), i)
	return dr.load(ctx, base, elemType, expr)
}

func (dr *DelveReader) ReadBytes(ctx context.Context, addr memory.Addr, n int) ([]byte, error) {
	if n < 0 {
		return nil, &memory.AccessError{Addr: addr, Err: fmt.Errorf("negative length %d", n)}
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if dr.d.client == nil {
			return nil, ErrClosed
		}
		at := uint64(addr) + uint64(len(out))
		chunk, _, err := dr.d.client.ExamineMemory(at, min(maxExamine, n-len(out)))
		if err != nil {
			return nil, &memory.AccessError{Addr: memory.Addr(at), Err: err}
		}
		if len(chunk) == 0 {
			return nil, &memory.AccessError{Addr: memory.Addr(at), Err: errors.New("short read")}
		}
		out = append(out, chunk...)
	}
	return out[:n], nil
}

// Eval evaluates a source expression, such as a global or a local of the
// current frame, in the scope of the current goroutine.
func (dr *DelveReader) Eval(ctx context.Context, expr string) (memory.Value, error) {
	if err := ctx.Err(); err != nil {
		return memory.Value{}, err
	}
	if dr.d.client == nil {
		return memory.Value{}, ErrClosed
	}
	v, err := dr.d.client.EvalVariable(api.EvalScope{GoroutineID: -1}, expr, loadConfig)
	if err != nil {
		return memory.Value{}, fmt.Errorf("could not evaluate %q: %w", expr, err)
	}
	return dr.convert(v)
}

func (dr *DelveReader) load(ctx context.Context, addr memory.Addr, typeName, expr string) (memory.Value, error) {
	if err := ctx.Err(); err != nil {
		return memory.Value{}, err
	}
	if dr.d.client == nil {
		return memory.Value{}, ErrClosed
	}
	v, err := dr.d.client.EvalVariable(api.EvalScope{GoroutineID: -1}, expr, loadConfig)
	if err != nil {
		return memory.Value{}, &memory.AccessError{Addr: addr, Type: typeName, Err: err}
	}
	out, err := dr.convert(v)
	if err != nil {
		return memory.Value{}, &memory.AccessError{Addr: addr, Type: typeName, Err: err}
	}
	return out, nil
}

// typeExpr spells a pdscope type tag ("pdcrt_marco*") as a cast operand
// ("*pdcrt_marco").
func (dr *DelveReader) typeExpr(typeName string) string {
	t := layout.NormalizeType(typeName)
	stars := 0
	for strings.HasSuffix(t, "*") {
		t = strings.TrimSpace(strings.TrimSuffix(t, "*"))
		stars++
	}
	return strings.Repeat("*", stars) + dr.d.opts.TypePrefix + t
}

// typeName turns a Delve type ("*struct pdcrt_marco", "[0]pdcrt_objeto")
// into a pdscope type tag ("pdcrt_marco*", "pdcrt_objeto[]").
func (dr *DelveReader) typeName(delveType string) string {
	t := strings.TrimSpace(delveType)
	stars := 0
	for strings.HasPrefix(t, "*") {
		t = strings.TrimPrefix(t, "*")
		stars++
	}
	array := false
	if strings.HasPrefix(t, "[") {
		if end := strings.Index(t, "]"); end > 0 {
			t = t[end+1:]
			array = true
		}
	}
	t = layout.NormalizeType(t)
	if p := dr.d.opts.TypePrefix; p != "" {
		t = strings.TrimPrefix(t, p)
	}
	t += strings.Repeat("*", stars)
	if array {
		t += "[]"
	}
	return t
}

var hexAddr = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// convert copies a loaded Delve variable into a memory.Value.
func (dr *DelveReader) convert(v *api.Variable) (memory.Value, error) {
	t := dr.typeName(v.Type)
	if v.Unreadable != "" {
		return memory.Value{}, &memory.AccessError{Addr: memory.Addr(v.Addr), Type: t, Err: errors.New(v.Unreadable)}
	}

	switch v.Kind {
	case reflect.Struct:
		out := memory.Value{Kind: memory.Struct, Type: t, Addr: memory.Addr(v.Addr)}
		for i := range v.Children {
			c := &v.Children[i]
			fv, err := dr.convert(c)
			if err != nil {
				return memory.Value{}, fmt.Errorf("%s.%s: %w", t, c.Name, err)
			}
			out.Fields = append(out.Fields, memory.F(c.Name, fv))
		}
		return out, nil

	case reflect.Ptr, reflect.UnsafePointer:
		return memory.Value{Kind: memory.Pointer, Type: t, Addr: pointee(v)}, nil

	case reflect.Func:
		return memory.MakeFunc(t, memory.Addr(v.Base), v.Value), nil

	case reflect.Array:
		return memory.Value{Kind: memory.Array, Type: t, Addr: memory.Addr(v.Addr)}, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, sym, err := parseEnum(v.Value)
		if err != nil {
			return memory.Value{}, fmt.Errorf("%s: %w", t, err)
		}
		if sym != "" {
			return memory.MakeEnum(t, n, sym), nil
		}
		return memory.MakeInt(t, n), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(v.Value, 0, 64)
		if err != nil {
			return memory.Value{}, fmt.Errorf("%s: %w", t, err)
		}
		return memory.MakeUint(t, n), nil

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return memory.Value{}, fmt.Errorf("%s: %w", t, err)
		}
		return memory.Value{Kind: memory.Float, Type: t, Float: f}, nil

	case reflect.Bool:
		return memory.Value{Kind: memory.Bool, Type: t, Bool: v.Value == "true"}, nil
	}
	return memory.Value{}, fmt.Errorf("%s has unsupported kind %s", t, v.Kind)
}

// pointee returns the address a pointer variable holds.
func pointee(v *api.Variable) memory.Addr {
	if len(v.Children) > 0 {
		return memory.Addr(v.Children[0].Addr)
	}
	if m := hexAddr.FindString(v.Value); m != "" {
		if n, err := strconv.ParseUint(m, 0, 64); err == nil {
			return memory.Addr(n)
		}
	}
	return 0
}

// parseEnum reads "3" or "PDCRT_TOBJ_ENTERO (3)".
func parseEnum(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n, "", nil
	}
	open := strings.LastIndex(s, "(")
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return 0, "", fmt.Errorf("malformed integer %q", s)
	}
	n, err := strconv.ParseInt(s[open+1:len(s)-1], 0, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed integer %q", s)
	}
	return n, strings.TrimSpace(s[:open]), nil
}

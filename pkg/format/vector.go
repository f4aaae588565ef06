package format

import (
	"context"
	"fmt"
	"iter"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
)

// Counts returns the live element count and the capacity of a pdcrt_pila
// or pdcrt_arreglo.
func (g *Registry) Counts(v memory.Value) (n, capacity int64, err error) {
	vl := g.vectorLayout(v)
	if n, err = count(v, vl.Count); err != nil {
		return 0, 0, err
	}
	if capacity, err = count(v, vl.Capacity); err != nil {
		return 0, 0, err
	}
	return n, capacity, nil
}

// Element reads element i of a pdcrt_pila or pdcrt_arreglo.
func (g *Registry) Element(ctx context.Context, v memory.Value, i int) (memory.Value, error) {
	vl := g.vectorLayout(v)
	arr, err := member(v, vl.Elements)
	if err != nil {
		return memory.Value{}, err
	}
	base, elemType, ok := memory.Elements(arr)
	if !ok {
		return memory.Value{}, fmt.Errorf("%w: %s.%s is not an array", ErrLayout, v.Type, vl.Elements)
	}
	return g.r.Index(ctx, base, elemType, i)
}

func (g *Registry) vectorLayout(v memory.Value) layout.Vector {
	if g.Kind(v) == layout.KindArray {
		return g.c.Array
	}
	return g.c.Stack
}

// IndexLabel labels element i of a stack, array or namespace.
func IndexLabel(i int) string {
	return fmt.Sprintf("[%d]", i)
}

type vectorFormatter struct {
	g  *Registry
	vl layout.Vector
}

func (f vectorFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	n, capacity, err := f.g.Counts(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s with %d (of %d) elements", v.Type, n, capacity), nil
}

// Children never reads past the live count, whatever the capacity.
func (f vectorFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	return func(yield func(Child, error) bool) {
		n, err := count(v, f.vl.Count)
		if err != nil {
			yield(Child{}, err)
			return
		}
		f.g.elements(ctx, v, f.vl.Elements, n, IndexLabel, yield)
	}
}

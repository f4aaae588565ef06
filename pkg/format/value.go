package format

import (
	"context"
	"iter"

	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/variant"
)

// Discriminant returns the tag of a pdcrt_objeto and its decoded variant.
func (g *Registry) Discriminant(v memory.Value) (variant.Variant, error) {
	n, err := count(v, g.c.Value.Tag)
	if err != nil {
		return variant.Variant{}, err
	}
	return g.c.ValueTable().Variant(n), nil
}

// Payload returns the active union member of a pdcrt_objeto, dereferenced
// once when the variant stores it out of line. ok is false when the variant
// has no payload.
func (g *Registry) Payload(ctx context.Context, v memory.Value) (Child, bool, error) {
	vl := g.c.Value
	return g.payload(ctx, v, g.c.ValueTable(), vl.Tag, vl.Union)
}

func (g *Registry) payload(ctx context.Context, v memory.Value, t *variant.Table, tagName, unionName string) (Child, bool, error) {
	disc, err := count(v, tagName)
	if err != nil {
		return Child{}, false, err
	}
	union, err := member(v, unionName)
	if err != nil {
		return Child{}, false, err
	}
	p, ok, err := t.Decode(disc, unionName, union)
	if err != nil || !ok {
		return Child{}, false, err
	}
	c := Child{Label: p.Label, Value: p.Value}
	if p.Variant.Deref {
		if p.Value.Kind != memory.Pointer {
			return c, true, nil
		}
		if p.Value.Addr == 0 {
			// NULL payload pointers are shown as such
			return c, true, nil
		}
		target, err := memory.DerefOnce(ctx, g.r, p.Value)
		if err != nil {
			return Child{Label: p.Label}, true, err
		}
		c.Value = target
	}
	return c, true, nil
}

type valueFormatter struct{ g *Registry }

func (f valueFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	return v.Type, nil
}

func (f valueFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	vl := f.g.c.Value
	return func(yield func(Child, error) bool) {
		if !fields(v, yield, vl.Tag) {
			return
		}
		c, ok, err := f.g.Payload(ctx, v)
		if err != nil {
			yield(c, err)
			return
		}
		if ok && !yield(c, nil) {
			return
		}
		fields(v, yield, vl.Recv)
	}
}

type continuationFormatter struct{ g *Registry }

func (f continuationFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	return v.Type, nil
}

func (f continuationFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	cl := f.g.c.Continuation
	return func(yield func(Child, error) bool) {
		if !fields(v, yield, cl.Tag) {
			return
		}
		c, ok, err := f.g.payload(ctx, v, f.g.c.ContinuationTable(), cl.Tag, cl.Union)
		if err != nil {
			yield(c, err)
			return
		}
		if ok {
			yield(c, nil)
		}
	}
}

package format

import (
	"context"
	"fmt"
	"iter"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
)

// EnvSize returns env_size of a pdcrt_env, reserved slots included.
func (g *Registry) EnvSize(v memory.Value) (int64, error) {
	return count(v, g.c.Env.Size)
}

// EnvSlot reads slot i of a pdcrt_env.
func (g *Registry) EnvSlot(ctx context.Context, v memory.Value, i int) (memory.Value, error) {
	slots, err := member(v, g.c.Env.Slots)
	if err != nil {
		return memory.Value{}, err
	}
	base, elemType, ok := memory.Elements(slots)
	if !ok {
		return memory.Value{}, fmt.Errorf("%w: %s.%s is not an array", ErrLayout, v.Type, g.c.Env.Slots)
	}
	return g.r.Index(ctx, base, elemType, i)
}

type envFormatter struct{ g *Registry }

func (f envFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	size, err := f.g.EnvSize(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s with %d (+%d) elements", v.Type, size-layout.NumReservedSlots, layout.NumReservedSlots), nil
}

func (f envFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	return func(yield func(Child, error) bool) {
		size, err := f.g.EnvSize(v)
		if err != nil {
			yield(Child{}, err)
			return
		}
		f.g.elements(ctx, v, f.g.c.Env.Slots, size, func(i int) string { return SlotLabel("env", i) }, yield)
	}
}

type frameFormatter struct{ g *Registry }

func (f frameFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	n, err := count(v, f.g.c.Frame.NumLocals)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s with %d (+%d) locals", v.Type, n, layout.NumReservedSlots), nil
}

func (f frameFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	fl := f.g.c.Frame
	return func(yield func(Child, error) bool) {
		if !fields(v, yield, fl.Context, fl.Previous, fl.Returns, fl.Name) {
			return
		}
		n, err := count(v, fl.NumLocals)
		if err != nil {
			yield(Child{}, err)
			return
		}
		f.g.elements(ctx, v, fl.Locals, n+layout.NumReservedSlots, func(i int) string { return SlotLabel("locales", i) }, yield)
	}
}

package format

import (
	"context"
	"fmt"
	"iter"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// Entry is a decoded pdcrt_nombre.
type Entry struct {
	Name     string
	AutoExec bool
	Value    memory.Value
}

// EntryTag is the fixed-width tag of a namespace entry.
func EntryTag(autoExec bool) string {
	if autoExec {
		return "procedure"
	}
	return "variable "
}

// NamespaceCount returns num_nombres of a pdcrt_espacio_de_nombres.
func (g *Registry) NamespaceCount(v memory.Value) (int64, error) {
	return count(v, g.c.Namespace.Count)
}

// NamespaceEntry reads and decodes entry i of a namespace.
func (g *Registry) NamespaceEntry(ctx context.Context, v memory.Value, i int) (Entry, error) {
	nl := g.c.Namespace
	arr, err := member(v, nl.Entries)
	if err != nil {
		return Entry{}, err
	}
	base, elemType, ok := memory.Elements(arr)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s.%s is not an array", ErrLayout, v.Type, nl.Entries)
	}
	raw, err := g.r.Index(ctx, base, elemType, i)
	if err != nil {
		return Entry{}, err
	}
	return g.DecodeEntry(ctx, raw)
}

// DecodeEntry decodes a pdcrt_nombre. A name that is not valid UTF-8 is
// returned as a *DecodeError together with the rest of the entry.
func (g *Registry) DecodeEntry(ctx context.Context, raw memory.Value) (Entry, error) {
	el := g.c.Entry
	var e Entry
	flag, err := member(raw, el.AutoExec)
	if err != nil {
		return e, err
	}
	e.AutoExec, _ = flag.Truth()
	if e.Value, err = member(raw, el.Value); err != nil {
		return e, err
	}
	name, err := member(raw, el.Name)
	if err != nil {
		return e, err
	}
	e.Name, err = g.Text(ctx, name)
	return e, err
}

type namespaceFormatter struct{ g *Registry }

func (f namespaceFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	n, err := f.g.NamespaceCount(v)
	if err != nil {
		return "", err
	}
	last, err := count(v, f.g.c.Namespace.LastCreated)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s with %d names (last created: %d)", v.Type, n, last), nil
}

func (f namespaceFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	return func(yield func(Child, error) bool) {
		n, err := f.g.NamespaceCount(v)
		if err != nil {
			yield(Child{}, err)
			return
		}
		f.g.elements(ctx, v, f.g.c.Namespace.Entries, n, IndexLabel, yield)
	}
}

type entryFormatter struct{ g *Registry }

func (f entryFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	e, err := f.g.DecodeEntry(ctx, v)
	if err != nil {
		return "", err
	}
	return EntryTag(e.AutoExec) + " " + e.Name, nil
}

func (f entryFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	el := f.g.c.Entry
	return func(yield func(Child, error) bool) {
		fields(v, yield, el.Name, el.AutoExec, el.Value)
	}
}

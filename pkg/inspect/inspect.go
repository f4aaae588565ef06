// Package inspect exposes the pdscope entry points: one-line and tree
// rendering of values, and dumps of the frame chain, the environment chain,
// the operand stack and the global namespace.
//
// Dumps write line-oriented text. Failed reads of target memory end a dump
// quietly, keeping what was printed; the error a Dump method returns is
// reserved for writer failures and context cancellation.
package inspect

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/willibrandon/pdscope/pkg/format"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/walk"
)

var log = commonlog.GetLogger("pdscope.inspect")

// Options configure an Inspector.
type Options struct {
	MaxChain    int // nodes per chain walk, walk.DefaultMaxChain when zero
	MaxDepth    int // nesting in one-line renderings, format.DefaultMaxDepth when zero
	MaxElements int // children per structure in one-line renderings
}

// Inspector renders the runtime structures of one target.
type Inspector struct {
	g *format.Registry
	w *walk.Walker
}

// New returns an inspector reading target memory through r, laid out as c.
func New(r memory.Reader, c *layout.Contract, opts Options) *Inspector {
	g := format.NewRegistry(r, c)
	if opts.MaxDepth > 0 {
		g.MaxDepth = opts.MaxDepth
	}
	if opts.MaxElements > 0 {
		g.MaxElements = opts.MaxElements
	}
	return &Inspector{g: g, w: walk.New(g, walk.Options{MaxChain: opts.MaxChain})}
}

// Registry returns the formatter registry the inspector renders with.
func (in *Inspector) Registry() *format.Registry {
	return in.g
}

// FormatValue renders ref on one line. Texts are decoded strictly: invalid
// UTF-8 is returned as a *format.DecodeError.
func (in *Inspector) FormatValue(ctx context.Context, ref memory.Value) (string, error) {
	v, err := memory.Deref(ctx, in.g.Reader(), ref)
	if err != nil {
		return "", err
	}
	if in.g.Kind(v) == layout.KindText {
		s, err := in.g.Text(ctx, v)
		if err != nil {
			return "", err
		}
		return strconv.Quote(s), nil
	}
	return in.g.Line(ctx, v, in.g.MaxDepth), nil
}

// FormatValueTree returns the summary and the children of ref. On a failed
// read it returns the children gathered so far together with the error.
func (in *Inspector) FormatValueTree(ctx context.Context, ref memory.Value) (string, []format.Child, error) {
	v, err := memory.Deref(ctx, in.g.Reader(), ref)
	if err != nil {
		return "", nil, err
	}
	f, ok := in.g.Lookup(v)
	if !ok {
		if v.Kind != memory.Struct {
			return in.g.Line(ctx, v, 0), nil, nil
		}
		children := make([]format.Child, 0, len(v.Fields))
		for _, fd := range v.Fields {
			children = append(children, format.Child{Label: fd.Name, Value: fd.Value})
		}
		return v.Type, children, nil
	}

	summary, err := f.Summary(ctx, v)
	if err != nil {
		return "", nil, err
	}
	var children []format.Child
	for c, err := range f.Children(ctx, v) {
		if err != nil {
			return summary, children, err
		}
		children = append(children, c)
	}
	return summary, children, nil
}

// DumpFrameChain prints every frame from ref to the end of the chain.
func (in *Inspector) DumpFrameChain(ctx context.Context, w io.Writer, ref memory.Value) error {
	p := &printer{w: w}
	for s := range in.w.Frames(ctx, ref) {
		if s.Kind == walk.Stop {
			return in.stopped(ctx, p, s, "not a frame")
		}
		if !in.frame(ctx, p, s) {
			if err := ctx.Err(); err != nil {
				return err
			}
			break
		}
		if p.err != nil {
			return p.err
		}
	}
	return p.err
}

// frame prints one frame and reports whether its locals could all be read.
func (in *Inspector) frame(ctx context.Context, p *printer, s walk.Step) bool {
	f, _ := in.g.Lookup(s.Node)
	var header []string
	flushed := false
	flush := func() {
		if !flushed {
			p.printf("#%d: %s\n", s.Index, strings.Join(header, ", "))
			flushed = true
		}
	}
	for c, err := range f.Children(ctx, s.Node) {
		if err != nil {
			flush()
			log.Debugf("frame #%d: %s: %s", s.Index, c.Label, err)
			return false
		}
		if !strings.HasPrefix(c.Label, "[") {
			header = append(header, c.Label+" = "+in.g.Line(ctx, c.Value, 0))
			continue
		}
		flush()
		p.printf("%s: %s\n", c.Label, in.g.Line(ctx, c.Value, in.g.MaxDepth))
	}
	flush()
	p.printf("\n")
	return true
}

// DumpEnvironmentChain prints every lexical scope from ref outwards.
func (in *Inspector) DumpEnvironmentChain(ctx context.Context, w io.Writer, ref memory.Value) error {
	p := &printer{w: w}
	for s := range in.w.Environments(ctx, ref) {
		switch s.Kind {
		case walk.Stop:
			if s.Reason == walk.InvalidFrame {
				// The slots it does have are still printed, ESUP is not followed
				in.listing(ctx, p, s.Index, s.Node)
				p.printf("invalid frame: %s\n", s.Err)
				return p.err
			}
			return in.stopped(ctx, p, s, "neither an environment nor a closure object")
		case walk.Closure:
			payload, _, err := in.g.Payload(ctx, s.Node)
			if err != nil {
				log.Debugf("closure #%d: %s", s.Index, err)
				return p.err
			}
			p.printf("#%d: closure %s\n", s.Index, in.g.Line(ctx, payload.Value, 1))
		case walk.Environment:
			if !in.listing(ctx, p, s.Index, s.Node) {
				if err := ctx.Err(); err != nil {
					return err
				}
				return p.err
			}
			p.printf("\n")
		}
		if p.err != nil {
			return p.err
		}
	}
	return p.err
}

// listing prints "#i: summary" and the children of v, one per line.
func (in *Inspector) listing(ctx context.Context, p *printer, idx int, v memory.Value) bool {
	f, _ := in.g.Lookup(v)
	summary, err := f.Summary(ctx, v)
	if err != nil {
		log.Debugf("%s at %s: %s", v.Type, v.Addr, err)
		return false
	}
	p.printf("#%d: %s\n", idx, summary)
	for c, err := range f.Children(ctx, v) {
		if err != nil {
			log.Debugf("%s at %s: %s: %s", v.Type, v.Addr, c.Label, err)
			return false
		}
		p.printf("%s: %s\n", c.Label, in.g.Line(ctx, c.Value, in.g.MaxDepth))
	}
	return true
}

// DumpStack prints the live elements of a pdcrt_pila, most recently pushed
// first.
func (in *Inspector) DumpStack(ctx context.Context, w io.Writer, ref memory.Value) error {
	p := &printer{w: w}
	v, err := memory.Deref(ctx, in.g.Reader(), ref)
	if err != nil {
		return in.fault(ctx, p, ref, err)
	}
	switch in.g.Kind(v) {
	case layout.KindStack, layout.KindArray:
	default:
		p.printf("not a stack: %s\n", in.g.Line(ctx, v, 0))
		return p.err
	}

	f, _ := in.g.Lookup(v)
	summary, err := f.Summary(ctx, v)
	if err != nil {
		return in.fault(ctx, p, v, err)
	}
	p.printf("%s\n", summary)
	n, _, _ := in.g.Counts(v)
	for i := int(n) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := in.g.Element(ctx, v, i)
		if err != nil {
			return in.fault(ctx, p, v, err)
		}
		p.printf("%s: %s\n", format.IndexLabel(i), in.g.Line(ctx, e, in.g.MaxDepth))
		if p.err != nil {
			return p.err
		}
	}
	return p.err
}

// DumpNamespace prints every entry of a pdcrt_espacio_de_nombres in storage
// order.
func (in *Inspector) DumpNamespace(ctx context.Context, w io.Writer, ref memory.Value) error {
	p := &printer{w: w}
	v, err := memory.Deref(ctx, in.g.Reader(), ref)
	if err != nil {
		return in.fault(ctx, p, ref, err)
	}
	if in.g.Kind(v) != layout.KindNamespace {
		p.printf("not a namespace: %s\n", in.g.Line(ctx, v, 0))
		return p.err
	}

	f, _ := in.g.Lookup(v)
	summary, err := f.Summary(ctx, v)
	if err != nil {
		return in.fault(ctx, p, v, err)
	}
	p.printf("%s\n", summary)
	n, _ := in.g.NamespaceCount(v)
	for i := 0; int64(i) < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := in.g.NamespaceEntry(ctx, v, i)
		name := e.Name
		if err != nil {
			if !format.IsDecode(err) {
				return in.fault(ctx, p, v, err)
			}
			name = format.ErrorText(err)
		}
		p.printf("[%d] %s %s = %s\n", i, format.EntryTag(e.AutoExec), name, in.g.Line(ctx, e.Value, in.g.MaxDepth))
		if p.err != nil {
			return p.err
		}
	}
	return p.err
}

// stopped prints the explanation for a walk that ended early.
func (in *Inspector) stopped(ctx context.Context, p *printer, s walk.Step, mismatch string) error {
	switch s.Reason {
	case walk.Canceled:
		if p.err != nil {
			return p.err
		}
		return s.Err
	case walk.NotAFrame, walk.Mismatch:
		p.printf("%s: %s\n", mismatch, in.g.Line(ctx, s.Node, 0))
	case walk.TooLong:
		p.printf("chain too long: stopped after %d nodes\n", in.w.MaxChain())
	}
	return p.err
}

// printer remembers the first write error so dumps can check once per line.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(f string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, f, args...)
}

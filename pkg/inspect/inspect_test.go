package inspect

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/willibrandon/pdscope/internal/fixture"
	"github.com/willibrandon/pdscope/pkg/format"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
)

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func headers(out string) []string {
	var hs []string
	for _, l := range lines(out) {
		if strings.HasPrefix(l, "#") {
			hs = append(hs, l)
		}
	}
	return hs
}

func TestDumpFrameChain(t *testing.T) {
	ctx := context.Background()
	b := fixture.NewRev2()
	start, _ := b.Chain(3)
	in := New(b.Image, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpFrameChain(ctx, &buf, start); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := buf.String()
	hs := headers(out)
	if len(hs) != 3 {
		t.Fatalf("Expected 3 frames, got %d:\n%s", len(hs), out)
	}
	for i, h := range hs {
		n := strconv.Itoa(i)
		want := []string{"#" + n + ": contexto = 0x10, marco_anterior = 0x", "num_valores_a_devolver = 0", `"f` + n + `"`}
		for _, w := range want {
			if !strings.Contains(h, w) {
				t.Errorf("Frame %d: expected %q in %q", i, w, h)
			}
		}
	}
	if !strings.Contains(hs[2], "marco_anterior = 0x0,") {
		t.Errorf("Expected the last frame to end the chain, got %q", hs[2])
	}
	if !strings.Contains(out, "[ESUP: locales[0]]: pdcrt_objeto {tag = PDCRT_TOBJ_NULO") {
		t.Errorf("Expected reserved slots by name:\n%s", out)
	}
	if !strings.Contains(out, "[0: locales[2]]: pdcrt_objeto {tag = PDCRT_TOBJ_ENTERO, value.i = 1,") {
		t.Errorf("Expected user locals by logical index:\n%s", out)
	}
	if strings.Contains(out, "not a frame") {
		t.Errorf("Expected the chain terminator to be silent:\n%s", out)
	}
}

func TestDumpFrameChainRev1(t *testing.T) {
	c, _ := layout.For(layout.Rev1)
	b := fixture.New(c)
	p := b.Frame(fixture.FrameSpec{Locals: []memory.Value{b.Null(), b.Null(), b.Int(9)}})
	in := New(b.Image, c, Options{})

	var buf bytes.Buffer
	if err := in.DumpFrameChain(context.Background(), &buf, p); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if got[0] != "#0: contexto = 0x10, marco_anterior = 0x0" {
		t.Errorf("Unexpected header %q", got[0])
	}
	if len(got) != 4 {
		t.Errorf("Expected header and three slots, got %d lines", len(got))
	}
}

func TestDumpFrameChainFault(t *testing.T) {
	b := fixture.NewRev2()
	start, frames := b.Chain(4)
	spy := fixture.NewSpy(b.Image)
	spy.Fail[frames[2].Addr] = true
	in := New(spy, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpFrameChain(context.Background(), &buf, start); err != nil {
		t.Fatalf("Expected the fault to be recovered, got %v", err)
	}
	if hs := headers(buf.String()); len(hs) != 2 {
		t.Errorf("Expected 2 frames before the fault, got %d", len(hs))
	}
}

func TestDumpFrameChainNotAFrame(t *testing.T) {
	b := fixture.NewRev2()
	in := New(b.Image, b.Layout, Options{})

	testCases := []struct {
		name string
		ref  memory.Value
		want string
	}{
		{"value", b.Int(3), "not a frame: pdcrt_objeto {...}"},
		{"null", memory.Ptr("pdcrt_marco", 0), "not a frame: 0x0"},
		{"stack", b.Stack(2), "not a frame: pdcrt_pila with 0 (of 2) elements {...}"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := in.DumpFrameChain(context.Background(), &buf, tc.ref); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := strings.TrimSpace(buf.String()); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDumpEnvironmentChain(t *testing.T) {
	b := fixture.NewRev2()
	e2 := b.Env(b.Null(), b.Null(), b.Int(2))
	e1 := b.Env(b.Closure("interior", e2), b.Null(), b.Int(1))
	e0 := b.Env(b.Closure("medio", e1), b.Null(), b.Int(0), b.TextValue("hola"))
	in := New(b.Image, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpEnvironmentChain(context.Background(), &buf, e0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := buf.String()
	hs := headers(out)
	want := []string{
		"#0: pdcrt_env with 2 (+2) elements",
		"#0: closure {proc = 0x",
		"#1: pdcrt_env with 1 (+2) elements",
		"#1: closure {proc = 0x",
		"#2: pdcrt_env with 1 (+2) elements",
	}
	if len(hs) != len(want) {
		t.Fatalf("Expected %d headers, got %d:\n%s", len(want), len(hs), out)
	}
	for i := range want {
		if !strings.HasPrefix(hs[i], want[i]) {
			t.Errorf("Header %d: expected prefix %q, got %q", i, want[i], hs[i])
		}
	}
	if !strings.Contains(hs[1], "<medio>") || !strings.Contains(hs[3], "<interior>") {
		t.Errorf("Expected closure procedures in headers:\n%s", out)
	}
	if !strings.Contains(out, `[1: env[3]]: pdcrt_objeto {tag = PDCRT_TOBJ_TEXTO, value.t = "hola"`) {
		t.Errorf("Expected decoded text slot:\n%s", out)
	}
	if strings.Contains(out, "neither") {
		t.Errorf("Expected the outermost scope to end the walk silently:\n%s", out)
	}
}

func TestDumpEnvironmentChainInvalid(t *testing.T) {
	b := fixture.NewRev2()
	bad := b.EnvSized(1, b.Null())
	e0 := b.Env(b.Closure("medio", bad), b.Null())
	spy := fixture.NewSpy(b.Image)
	in := New(spy, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpEnvironmentChain(context.Background(), &buf, e0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	n := len(got)
	if n < 3 {
		t.Fatalf("Expected at least 3 lines, got\n%s", buf.String())
	}
	if got[n-3] != "#1: pdcrt_env with -1 (+2) elements" ||
		!strings.HasPrefix(got[n-2], "[ESUP: env[0]]: ") ||
		got[n-1] != "invalid frame: pdcrt_env has 1 slots, at least 2 required" {
		t.Errorf("Unexpected ending:\n%s", buf.String())
	}

	// Only the one slot that exists is read
	env, _ := memory.Deref(context.Background(), b.Image, bad)
	slots, _ := env.Field("env")
	if idx := spy.Indexed(slots.Addr); len(idx) != 1 || idx[0] != 0 {
		t.Errorf("Expected a single read of slot 0, got %v", idx)
	}
}

func TestDumpEnvironmentChainMismatch(t *testing.T) {
	b := fixture.NewRev2()
	in := New(b.Image, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpEnvironmentChain(context.Background(), &buf, b.Int(7)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := buf.String(); got != "neither an environment nor a closure object: pdcrt_objeto {...}\n" {
		t.Errorf("Unexpected output %q", got)
	}

	buf.Reset()
	e0 := b.Env(b.Bool(true), b.Null())
	if err := in.DumpEnvironmentChain(context.Background(), &buf, e0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if last := got[len(got)-1]; !strings.HasPrefix(last, "neither an environment nor a closure object") {
		t.Errorf("Expected mismatch after the first scope, got %q", last)
	}
}

func TestDumpStack(t *testing.T) {
	b := fixture.NewRev2()
	p := b.Stack(8, b.TextValue("A"), b.TextValue("B"), b.TextValue("C"))
	stack, _ := memory.Deref(context.Background(), b.Image, p)
	elems, _ := stack.Field("elementos")
	spy := fixture.NewSpy(b.Image)
	in := New(spy, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpStack(context.Background(), &buf, p); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if len(got) != 4 || got[0] != "pdcrt_pila with 3 (of 8) elements" {
		t.Fatalf("Unexpected output:\n%s", buf.String())
	}
	for i, w := range []string{`[2]: `, `[1]: `, `[0]: `} {
		if !strings.HasPrefix(got[i+1], w) {
			t.Errorf("Line %d: expected prefix %q, got %q", i+1, w, got[i+1])
		}
	}
	for i, w := range []string{`"C"`, `"B"`, `"A"`} {
		if !strings.Contains(got[i+1], w) {
			t.Errorf("Line %d: expected %s, got %q", i+1, w, got[i+1])
		}
	}

	read := spy.Indexed(elems.Addr)
	if len(read) != 3 {
		t.Errorf("Expected exactly 3 element reads, got %v", read)
	}
	for _, i := range read {
		if i >= 3 {
			t.Errorf("Read slot %d of the spare capacity", i)
		}
	}
}

func TestDumpNamespace(t *testing.T) {
	b := fixture.NewRev2()
	ns := b.Namespace(1,
		fixture.Binding{Name: "x", Value: b.Int(42)},
		fixture.Binding{Name: "saluda", AutoExec: true, Value: b.Closure("saluda", b.Env(b.Null(), b.Null()))},
	)
	in := New(b.Image, b.Layout, Options{})

	var buf bytes.Buffer
	if err := in.DumpNamespace(context.Background(), &buf, ns); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if len(got) != 3 {
		t.Fatalf("Expected summary and two entries, got:\n%s", buf.String())
	}
	if got[0] != "pdcrt_espacio_de_nombres with 2 names (last created: 1)" {
		t.Errorf("Unexpected summary %q", got[0])
	}
	if !strings.HasPrefix(got[1], "[0] variable  x = ") || !strings.Contains(got[1], "value.i = 42") {
		t.Errorf("Unexpected first entry %q", got[1])
	}
	if !strings.HasPrefix(got[2], "[1] procedure saluda = ") || !strings.Contains(got[2], "<saluda>") {
		t.Errorf("Unexpected second entry %q", got[2])
	}
}

func TestDumpNamespaceBadName(t *testing.T) {
	ctx := context.Background()
	b := fixture.NewRev2()
	ns := b.Namespace(0,
		fixture.Binding{Name: "roto", Value: b.Null()},
		fixture.Binding{Name: "ok", Value: b.Int(1)},
	)
	v, _ := memory.Deref(ctx, b.Image, ns)
	entries, _ := v.Field("nombres")
	e0, _ := b.Image.Index(ctx, entries.Addr, "pdcrt_nombre", 0)
	e0 = memory.MakeStruct(e0.Type, 0,
		memory.F("nombre", b.TextBytes([]byte{0xff})),
		e0.Fields[1],
		e0.Fields[2],
	)
	b.Image.PutElem(entries.Addr, 0, e0)

	in := New(b.Image, b.Layout, Options{})
	var buf bytes.Buffer
	if err := in.DumpNamespace(ctx, &buf, ns); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if len(got) != 3 {
		t.Fatalf("Expected both entries, got:\n%s", buf.String())
	}
	if !strings.HasPrefix(got[1], "[0] variable  <invalid UTF-8: byte 0 of 1 at ") {
		t.Errorf("Expected the bad name rendered in place, got %q", got[1])
	}
	if !strings.HasPrefix(got[2], "[1] variable  ok = ") {
		t.Errorf("Expected the listing to go on, got %q", got[2])
	}
}

func TestFormatValue(t *testing.T) {
	ctx := context.Background()
	b := fixture.NewRev2()
	in := New(b.Image, b.Layout, Options{})

	got, err := in.FormatValue(ctx, b.Int(42))
	if err != nil || !strings.Contains(got, "value.i = 42") {
		t.Errorf("Unexpected rendering %q (%v)", got, err)
	}

	got, err = in.FormatValue(ctx, b.Text("hola!"))
	if err != nil || got != `"hola!"` {
		t.Errorf("Expected quoted text, got %q (%v)", got, err)
	}

	_, err = in.FormatValue(ctx, b.TextBytes([]byte("hol\xffa")))
	if !format.IsDecode(err) {
		t.Errorf("Expected a decode error, got %v", err)
	}

	_, err = in.FormatValue(ctx, memory.Ptr("pdcrt_objeto", 0xdead))
	if !memory.IsAccess(err) {
		t.Errorf("Expected an access error, got %v", err)
	}
}

func TestFormatValueMaxDepth(t *testing.T) {
	ctx := context.Background()
	b := fixture.NewRev2()
	arr := b.ArrayValue(2, b.Int(1))

	deep, err := New(b.Image, b.Layout, Options{}).FormatValue(ctx, arr)
	if err != nil || !strings.Contains(deep, "[0] = pdcrt_objeto {") {
		t.Errorf("Expected the elements at the default depth, got %q (%v)", deep, err)
	}

	shallow, err := New(b.Image, b.Layout, Options{MaxDepth: 1}).FormatValue(ctx, arr)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(shallow, "pdcrt_arreglo with 1 (of 2) elements {...}") || strings.Contains(shallow, "[0] =") {
		t.Errorf("Expected the array elided at depth 1, got %q", shallow)
	}
}

func TestFormatValueTree(t *testing.T) {
	ctx := context.Background()
	b := fixture.NewRev2()
	in := New(b.Image, b.Layout, Options{})

	summary, children, err := in.FormatValueTree(ctx, b.Env(b.Null(), b.Null(), b.Int(1)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary != "pdcrt_env with 1 (+2) elements" {
		t.Errorf("Unexpected summary %q", summary)
	}
	if len(children) != 3 || children[2].Label != "[0: env[2]]" {
		t.Errorf("Unexpected children %+v", children)
	}

	summary, children, err = in.FormatValueTree(ctx, b.Closure("f", b.Env(b.Null(), b.Null())))
	if err != nil || summary != "pdcrt_objeto" || len(children) != 3 || children[1].Label != "value.c" {
		t.Errorf("Unexpected closure tree %q %+v (%v)", summary, children, err)
	}

	// Partial children on a failed read
	p := b.Env(b.Null(), b.Null(), b.Int(1))
	env, _ := memory.Deref(ctx, b.Image, p)
	slots, _ := env.Field("env")
	spy := fixture.NewSpy(b.Image)
	in = New(spy, b.Layout, Options{})
	spy.Fail[slots.Addr] = true
	_, children, err = in.FormatValueTree(ctx, p)
	if !memory.IsAccess(err) || len(children) != 0 {
		t.Errorf("Expected no children and an access error, got %d (%v)", len(children), err)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriterAndContextErrors(t *testing.T) {
	b := fixture.NewRev2()
	start, _ := b.Chain(2)
	in := New(b.Image, b.Layout, Options{})

	if err := in.DumpFrameChain(context.Background(), failingWriter{}, start); err == nil || err.Error() != "disk full" {
		t.Errorf("Expected the writer error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := in.DumpFrameChain(ctx, &buf, start); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := in.DumpStack(ctx, &buf, b.Stack(4, b.Int(1))); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from the stack dump, got %v", err)
	}
}

func TestChainTooLong(t *testing.T) {
	b := fixture.NewRev2()
	start, _ := b.Chain(5)
	in := New(b.Image, b.Layout, Options{MaxChain: 2})

	var buf bytes.Buffer
	if err := in.DumpFrameChain(context.Background(), &buf, start); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := lines(buf.String())
	if last := got[len(got)-1]; last != "chain too long: stopped after 2 nodes" {
		t.Errorf("Unexpected last line %q", last)
	}
	if hs := headers(buf.String()); len(hs) != 2 {
		t.Errorf("Expected 2 frames, got %d", len(hs))
	}
}

package debugger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/willibrandon/pdscope/internal/fixture"
	"github.com/willibrandon/pdscope/pkg/inspect"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/recorder"
)

// target builds a frame chain and a stack and returns the CLI over them with
// its output buffer.
func target(t *testing.T) (*fixture.Builder, *CLI, *bytes.Buffer, memory.Value, memory.Value) {
	t.Helper()
	b := fixture.NewRev2()
	start, _ := b.Chain(3)
	stack := b.Stack(4, b.Int(1), b.TextValue("dos"))
	var out bytes.Buffer
	c := NewCLI(Session{
		Contract:  b.Layout,
		Target:    b.Image,
		Recording: recorder.SecureFileRecorderOptions{CompressionType: recorder.ZstdCompression},
	}, &out)
	return b, c, &out, start, stack
}

func send(t *testing.T, c *CLI, out *bytes.Buffer, cmd string) string {
	t.Helper()
	out.Reset()
	if err := c.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("%s: unexpected error: %v", cmd, err)
	}
	return out.String()
}

func TestCLIDumps(t *testing.T) {
	ctx := context.Background()
	b, c, out, start, stack := target(t)
	in := inspect.New(b.Image, b.Layout, inspect.Options{})

	var want bytes.Buffer
	if err := in.DumpFrameChain(ctx, &want, start); err != nil {
		t.Fatal(err)
	}
	if got := send(t, c, out, fmt.Sprintf("frames %s", start.Addr)); got != want.String() {
		t.Errorf("Expected frames output\n%s\ngot\n%s", want.String(), got)
	}
	// The explicit type gives the same reference
	if got := send(t, c, out, fmt.Sprintf("f %s:pdcrt_marco", start.Addr)); got != want.String() {
		t.Errorf("Expected the same output with an explicit type, got\n%s", got)
	}

	want.Reset()
	if err := in.DumpStack(ctx, &want, stack); err != nil {
		t.Fatal(err)
	}
	if got := send(t, c, out, fmt.Sprintf("stack %s", stack.Addr)); got != want.String() {
		t.Errorf("Expected stack output\n%s\ngot\n%s", want.String(), got)
	}
	if !strings.HasPrefix(want.String(), "pdcrt_pila with 2 (of 4) elements\n") {
		t.Errorf("Unexpected stack dump %q", want.String())
	}
}

func TestCLIPrintAndTree(t *testing.T) {
	b, c, out, _, _ := target(t)
	addr := b.Alloc()
	b.Image.Put(addr, b.TextValue("hola"))

	if got := send(t, c, out, fmt.Sprintf("print %s", addr)); !strings.Contains(got, `value.t = "hola"`) {
		t.Errorf("Expected the text member, got %q", got)
	}

	env := b.Env(b.Null(), b.Null(), b.Int(5))
	got := send(t, c, out, fmt.Sprintf("tree %s:pdcrt_env", env.Addr))
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if !strings.HasPrefix(lines[0], "pdcrt_env with 1 (+2) elements") {
		t.Errorf("Expected the environment summary first, got %q", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("Expected the summary and 3 slots, got %q", got)
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "  [") {
			t.Errorf("Expected an indented slot line, got %q", l)
		}
	}

	// At depth 2 the slots are expanded into their members
	deep := send(t, c, out, fmt.Sprintf("tree %s:pdcrt_env 2", env.Addr))
	if strings.Count(deep, "\n") <= len(lines) {
		t.Errorf("Expected depth 2 to print more lines than depth 1, got\n%s", deep)
	}
	if !strings.Contains(deep, "    ") {
		t.Errorf("Expected nested indentation, got\n%s", deep)
	}
}

func TestCLIErrors(t *testing.T) {
	ctx := context.Background()
	_, c, _, _, _ := target(t)

	testCases := []struct {
		cmd  string
		want string
	}{
		{"frobnicate", "unknown command"},
		{"frames", "missing reference"},
		{"print marco_actual", "cannot evaluate"},
		{"print 0xzz", "invalid address"},
		{"goto 1", "no replay loaded"},
		{"step", "no replay loaded"},
		{"record stop", "not recording"},
		{"replay off", "not replaying"},
		{"bp enable 7", "breakpoint 7 not found"},
		{"break somewhere", "unknown event type"},
		{"continue", "no replay loaded"},
		{"tree 0x10 0", "invalid depth"},
	}
	for _, tc := range testCases {
		t.Run(tc.cmd, func(t *testing.T) {
			err := c.Execute(ctx, tc.cmd)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected an error containing %q, got %v", tc.want, err)
			}
		})
	}

	if err := c.Execute(ctx, "quit"); !errors.Is(err, ErrQuit) {
		t.Errorf("Expected ErrQuit, got %v", err)
	}
}

func TestCLILiveTargetStaysHalted(t *testing.T) {
	ctx := context.Background()
	b, c, out, _, _ := target(t)
	// No client: any RPC the CLI issued would panic
	c.s.Debugger = &DelveDebugger{target: "pid 1"}
	c.s.Target = b.Image

	testCases := []struct {
		cmd  string
		want string
	}{
		{"break main.foo", "unknown event type"},
		{"bp pdcrt_ejecutar", "unknown event type"},
		{"continue", "no replay loaded"},
		{"c", "no replay loaded"},
	}
	for _, tc := range testCases {
		t.Run(tc.cmd, func(t *testing.T) {
			err := c.Execute(ctx, tc.cmd)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected an error containing %q, got %v", tc.want, err)
			}
		})
	}

	if got := send(t, c, out, "bp list"); got != "No breakpoints\n" {
		t.Errorf("Expected no breakpoints, got %q", got)
	}
	send(t, c, out, "break type:pdcrt_env")
	if got := send(t, c, out, "bp list"); !strings.Contains(got, "type:pdcrt_env") {
		t.Errorf("Expected the replay breakpoint to be listed, got %q", got)
	}
}

func TestCLIMissingStructure(t *testing.T) {
	ctx := context.Background()
	c1, err := layout.For(layout.Rev1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b := fixture.New(c1)
	spy := fixture.NewSpy(b.Image)
	var out bytes.Buffer
	c := NewCLI(Session{Contract: c1, Target: spy}, &out)

	err = c.Execute(ctx, "names 0x10")
	if err == nil || !strings.Contains(err.Error(), "has no namespace") {
		t.Errorf("Expected a missing namespace error, got %v", err)
	}
	if len(spy.Accesses) != 0 {
		t.Errorf("Expected no reads before the layout check, got %v", spy.Accesses)
	}
	if out.Len() != 0 {
		t.Errorf("Expected no output, got %q", out.String())
	}
}

func TestCLIRecordAndReplay(t *testing.T) {
	_, c, out, start, stack := target(t)
	path := filepath.Join(t.TempDir(), "session.log")

	if got := send(t, c, out, "record "+path); !strings.Contains(got, "Recording session") {
		t.Errorf("Unexpected record reply %q", got)
	}
	liveFrames := send(t, c, out, fmt.Sprintf("frames %s", start.Addr))
	liveStack := send(t, c, out, fmt.Sprintf("stack %s", stack.Addr))
	if got := send(t, c, out, "record stop"); !strings.HasPrefix(got, "Recorded ") {
		t.Errorf("Unexpected stop reply %q", got)
	}

	if got := send(t, c, out, "replay "+path); !strings.HasPrefix(got, "Loaded ") {
		t.Errorf("Unexpected replay reply %q", got)
	}
	if got := send(t, c, out, fmt.Sprintf("frames %s", start.Addr)); got != liveFrames {
		t.Errorf("Expected the replay to reproduce\n%s\ngot\n%s", liveFrames, got)
	}
	if got := send(t, c, out, fmt.Sprintf("stack %s", stack.Addr)); got != liveStack {
		t.Errorf("Expected the replay to reproduce\n%s\ngot\n%s", liveStack, got)
	}

	// Before the first event nothing was read yet
	if got := send(t, c, out, "goto -1"); got != "At the start of the recording\n" {
		t.Errorf("Unexpected goto reply %q", got)
	}
	if got := send(t, c, out, fmt.Sprintf("stack %s", stack.Addr)); got != "" {
		t.Errorf("Expected an empty dump at the start, got %q", got)
	}

	// Stop at the read of the stack header
	send(t, c, out, "break type:pdcrt_pila")
	if got := send(t, c, out, "continue"); !strings.Contains(got, "ValueRead - pdcrt_pila at "+stack.Addr.String()) {
		t.Errorf("Expected to stop at the stack read, got %q", got)
	}
	if got := send(t, c, out, fmt.Sprintf("stack %s", stack.Addr)); !strings.HasPrefix(got, "pdcrt_pila with 2 (of 4) elements\n") || strings.Contains(got, "[1]") {
		t.Errorf("Expected the header but no elements yet, got %q", got)
	}

	if got := send(t, c, out, "step"); !strings.HasPrefix(got, "Stepped to ") {
		t.Errorf("Unexpected step reply %q", got)
	}
	if got := send(t, c, out, "back"); !strings.HasPrefix(got, "Stepped back to ") || !strings.Contains(got, "pdcrt_pila") {
		t.Errorf("Expected to step back onto the stack read, got %q", got)
	}

	if got := send(t, c, out, "info"); !strings.Contains(got, "Replaying ") || !strings.Contains(got, "Layout: ") {
		t.Errorf("Unexpected info %q", got)
	}
	if got := send(t, c, out, "replay off"); got != "Back to the target\n" {
		t.Errorf("Unexpected reply %q", got)
	}
}

func TestCLIRun(t *testing.T) {
	ctx := context.Background()
	_, c, out, start, _ := target(t)

	err := c.Run(ctx, fmt.Sprintf("frames %s; bogus; frames %s", start.Addr, start.Addr))
	if err == nil || !strings.HasPrefix(err.Error(), "bogus: ") {
		t.Errorf("Expected the script to stop at the bad command, got %v", err)
	}
	if n := strings.Count(out.String(), "#0: "); n != 1 {
		t.Errorf("Expected one frame dump before the error, got %d", n)
	}

	out.Reset()
	if err := c.Run(ctx, "info\nquit\nbogus"); err != nil {
		t.Errorf("Expected quit to end the script, got %v", err)
	}
}

func TestCLIStart(t *testing.T) {
	_, c, out, _, _ := target(t)

	err := c.Start(context.Background(), strings.NewReader("help\nbogus\nquit\ninfo\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "(pdscope)") {
		t.Errorf("Expected no prompt when not on a terminal, got %q", got)
	}
	if !strings.Contains(got, "Inspection commands:") {
		t.Errorf("Expected the help text, got %q", got)
	}
	if !strings.Contains(got, `Error: unknown command "bogus"`) {
		t.Errorf("Expected the error to be reported, got %q", got)
	}
	if strings.Contains(got, "Layout:") {
		t.Errorf("Expected nothing to run after quit, got %q", got)
	}
}

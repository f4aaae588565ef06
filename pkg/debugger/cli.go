package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/mattn/go-isatty"

	"github.com/willibrandon/pdscope/pkg/format"
	"github.com/willibrandon/pdscope/pkg/inspect"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/recorder"
	"github.com/willibrandon/pdscope/pkg/replay"
	"github.com/willibrandon/pdscope/pkg/version"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Session is what a CLI inspects.
type Session struct {
	Contract *layout.Contract
	Inspect  inspect.Options

	// Target is the memory of a live process or of a synthetic image; nil
	// when only recordings are inspected
	Target memory.Reader
	// Debugger controls the live process behind Target, if any
	Debugger *DelveDebugger

	// Recording configures the files written by record and read by replay
	Recording recorder.SecureFileRecorderOptions
	// TreeDepth is the default depth of the tree command
	TreeDepth int
}

// CLI represents the command-line interface for the debugger
type CLI struct {
	s         Session
	out       io.Writer
	running   bool
	bpManager *BreakpointManager

	recording *recorder.Reader
	recPath   string

	replayer  *replay.BasicReplayer
	replaying bool
}

// NewCLI creates a new CLI instance writing to out
func NewCLI(s Session, out io.Writer) *CLI {
	if s.TreeDepth <= 0 {
		s.TreeDepth = 1
	}
	return &CLI{
		s:         s,
		out:       out,
		bpManager: NewBreakpointManager(),
	}
}

// Start runs the command loop on in until quit or end of input. The banner
// and the prompt are only shown on terminals.
func (c *CLI) Start(ctx context.Context, in io.Reader) error {
	c.running = true
	interactive := isTerminal(in) && isTerminal(c.out)

	if interactive {
		fmt.Fprintln(c.out, version.GetVersionInfo())
		if c.s.Debugger != nil {
			fmt.Fprintf(c.out, "Inspecting %s through Delve\n", c.s.Debugger.Target())
		}
		fmt.Fprintln(c.out, `Type "help" for a list of commands.`)
	}

	scanner := bufio.NewScanner(in)
	for c.running {
		if interactive {
			fmt.Fprint(c.out, "(pdscope) ")
		}
		if !scanner.Scan() {
			break
		}
		if err := c.Execute(ctx, scanner.Text()); err != nil {
			if errors.Is(err, ErrQuit) {
				break
			}
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
	c.running = false
	c.stopRecording()
	return scanner.Err()
}

// Run executes commands separated by semicolons or newlines, stopping at the
// first one that fails.
func (c *CLI) Run(ctx context.Context, script string) error {
	defer c.stopRecording()
	for _, line := range strings.FieldsFunc(script, func(r rune) bool { return r == ';' || r == '\n' }) {
		if err := c.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return fmt.Errorf("%s: %w", strings.TrimSpace(line), err)
		}
	}
	return nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nInspection commands:")
	fmt.Fprintln(c.out, "  frames (f) <ref>      - Dump the frame chain starting at a pdcrt_marco")
	fmt.Fprintln(c.out, "  env (e) <ref>         - Dump the environment chain starting at a pdcrt_env or closure")
	fmt.Fprintln(c.out, "  stack (st) <ref>      - Dump a pdcrt_pila, top first")
	fmt.Fprintln(c.out, "  names (n) <ref>       - Dump a pdcrt_espacio_de_nombres")
	fmt.Fprintln(c.out, "  print (p) <ref>       - Print a value on one line")
	fmt.Fprintln(c.out, "  tree (t) <ref> [depth] - Print a value and its children")
	fmt.Fprintln(c.out, "\n  <ref> is ADDR[:TYPE], e.g. 0x1040:pdcrt_marco, or an expression")
	fmt.Fprintln(c.out, "  evaluated by the live target")

	fmt.Fprintln(c.out, "\nRecording commands:")
	fmt.Fprintln(c.out, "  record (r) <file>     - Record every read of the target to a file")
	fmt.Fprintln(c.out, "  record stop           - Stop recording")
	fmt.Fprintln(c.out, "  replay <file>         - Inspect a recording instead of the target")
	fmt.Fprintln(c.out, "  replay off            - Go back to the target")
	fmt.Fprintln(c.out, "  goto (g) <event>      - Move the replay to an event, -1 for the start")
	fmt.Fprintln(c.out, "  step (s)              - Step the replay forward one event")
	fmt.Fprintln(c.out, "  back (b)              - Step the replay backward one event")
	fmt.Fprintln(c.out, "  continue (c)          - Replay to the next event matching a breakpoint")
	fmt.Fprintln(c.out, "  break (bp) <location> - Stop the replay at addr:ADDR, type:TYPE or an event type")
	fmt.Fprintln(c.out, "  bp list|remove|enable|disable [id] - Manage replay breakpoints")

	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  info (i)              - Show the session state")
	fmt.Fprintln(c.out, "  help (h)              - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)              - Exit")
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, input string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	rest = strings.TrimSpace(rest)
	if cmd == "" {
		return nil
	}

	co := c.s.Contract
	switch cmd {
	case "h", "help":
		c.printHelp()
	case "q", "quit", "exit":
		c.running = false
		return ErrQuit
	case "i", "info":
		return c.handleInfo()

	case "f", "frames":
		return c.dump(ctx, rest, layout.KindFrame, co.Frame.Type, (*inspect.Inspector).DumpFrameChain)
	case "e", "env":
		return c.dump(ctx, rest, layout.KindEnv, co.Env.Type, (*inspect.Inspector).DumpEnvironmentChain)
	case "st", "stack":
		return c.dump(ctx, rest, layout.KindStack, co.Stack.Type, (*inspect.Inspector).DumpStack)
	case "n", "names":
		return c.dump(ctx, rest, layout.KindNamespace, co.Namespace.Type, (*inspect.Inspector).DumpNamespace)
	case "p", "print":
		return c.handlePrint(ctx, rest)
	case "t", "tree":
		return c.handleTree(ctx, rest)

	case "r", "record":
		return c.handleRecord(rest)
	case "replay":
		return c.handleReplay(rest)
	case "g", "goto":
		return c.handleGoto(rest)
	case "s", "step":
		return c.handleStep()
	case "b", "back":
		return c.handleBackstep()
	case "c", "continue":
		return c.handleContinue()
	case "bp", "break":
		return c.handleBreakpointCommand(rest)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

// reader returns what inspection commands read from: the replay when one is
// active, else the target, through the recorder while recording.
func (c *CLI) reader() (memory.Reader, error) {
	switch {
	case c.replaying:
		return c.replayer, nil
	case c.recording != nil:
		return c.recording, nil
	case c.s.Target != nil:
		return c.s.Target, nil
	}
	return nil, errors.New("no target; load a recording with replay <file>")
}

func (c *CLI) inspector() (*inspect.Inspector, memory.Reader, error) {
	r, err := c.reader()
	if err != nil {
		return nil, nil, err
	}
	return inspect.New(r, c.s.Contract, c.s.Inspect), r, nil
}

// resolve turns a command argument into a reference. ADDR[:TYPE] names an
// object of TYPE (defType if omitted) at ADDR; anything else is evaluated by
// the target.
func (c *CLI) resolve(ctx context.Context, r memory.Reader, arg, defType string) (memory.Value, error) {
	if arg == "" {
		return memory.Value{}, errors.New("missing reference")
	}
	if ref, ok, err := parseAddrRef(arg, defType); ok {
		return ref, err
	}
	ev, ok := r.(memory.Evaluator)
	if !ok {
		return memory.Value{}, fmt.Errorf("cannot evaluate %q here, use ADDR[:TYPE]", arg)
	}
	return ev.Eval(ctx, arg)
}

func parseAddrRef(arg, defType string) (memory.Value, bool, error) {
	addrPart, typ, hasType := strings.Cut(arg, ":")
	addrPart = strings.TrimSpace(addrPart)
	if !strings.HasPrefix(addrPart, "0x") && !strings.HasPrefix(addrPart, "0X") {
		return memory.Value{}, false, nil
	}
	n, err := strconv.ParseUint(addrPart, 0, 64)
	if err != nil {
		return memory.Value{}, true, fmt.Errorf("invalid address %q", addrPart)
	}
	if hasType {
		typ = strings.TrimSpace(typ)
	} else {
		typ = defType
	}
	if typ == "" {
		return memory.Value{}, true, fmt.Errorf("a type is required: %s:TYPE", addrPart)
	}
	return memory.Ptr(typ, memory.Addr(n)), true, nil
}

type dumpFunc func(*inspect.Inspector, context.Context, io.Writer, memory.Value) error

func (c *CLI) dump(ctx context.Context, arg string, kind layout.Kind, defType string, fn dumpFunc) error {
	if !c.s.Contract.Has(kind) {
		return fmt.Errorf("layout %s has no %s", c.s.Contract.Name, kind)
	}
	in, r, err := c.inspector()
	if err != nil {
		return err
	}
	ref, err := c.resolve(ctx, r, arg, defType)
	if err != nil {
		return err
	}
	return fn(in, ctx, c.out, ref)
}

func (c *CLI) handlePrint(ctx context.Context, arg string) error {
	in, r, err := c.inspector()
	if err != nil {
		return err
	}
	ref, err := c.resolve(ctx, r, arg, c.s.Contract.Value.Type)
	if err != nil {
		return err
	}
	s, err := in.FormatValue(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, s)
	return nil
}

func (c *CLI) handleTree(ctx context.Context, args string) error {
	depth := c.s.TreeDepth
	fields := strings.Fields(args)
	if n := len(fields); n > 1 {
		if d, err := strconv.Atoi(fields[n-1]); err == nil {
			if d < 1 {
				return fmt.Errorf("invalid depth %d", d)
			}
			depth = d
			args = strings.Join(fields[:n-1], " ")
		}
	}
	in, r, err := c.inspector()
	if err != nil {
		return err
	}
	ref, err := c.resolve(ctx, r, args, c.s.Contract.Value.Type)
	if err != nil {
		return err
	}
	return c.tree(ctx, in, "", "", ref, depth)
}

// tree prints ref and its children, descending depth levels.
func (c *CLI) tree(ctx context.Context, in *inspect.Inspector, indent, label string, ref memory.Value, depth int) error {
	summary, children, err := in.FormatValueTree(ctx, ref)
	if summary == "" && err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(c.out, "%s%s%s\n", indent, label, format.ErrorText(err))
		return nil
	}
	fmt.Fprintf(c.out, "%s%s%s\n", indent, label, summary)
	g := in.Registry()
	for _, ch := range children {
		expand := ch.Value.Kind == memory.Struct || (ch.Value.Kind == memory.Pointer && !ch.Value.IsNull())
		if depth > 1 && expand {
			if err := c.tree(ctx, in, indent+"  ", ch.Label+": ", ch.Value, depth-1); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(c.out, "%s  %s: %s\n", indent, ch.Label, g.Line(ctx, ch.Value, g.MaxDepth))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(c.out, "%s  %s\n", indent, format.ErrorText(err))
	}
	return nil
}

func (c *CLI) handleRecord(arg string) error {
	if arg == "stop" {
		if c.recording == nil {
			return errors.New("not recording")
		}
		c.stopRecording()
		return nil
	}
	if arg == "" {
		return errors.New("usage: record <file> | record stop")
	}
	if c.recording != nil {
		return fmt.Errorf("already recording to %s", c.recPath)
	}
	if c.s.Target == nil {
		return errors.New("no target to record")
	}

	var rec recorder.Recorder
	var err error
	so := c.s.Recording.SecurityOptions
	if so.EnableEncryption || so.EnableIntegrityCheck || so.EnableRedaction {
		rec, err = recorder.NewSecureFileRecorderWithOptions(arg, c.s.Recording)
	} else {
		rec, err = recorder.NewFileRecorderWithOptions(arg, recorder.FileRecorderOptions{
			CompressionType: c.s.Recording.CompressionType,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	c.recording = recorder.NewReader(c.s.Target, rec)
	c.recPath = arg
	fmt.Fprintf(c.out, "Recording session %s to %s\n", c.recording.Session(), arg)
	return nil
}

func (c *CLI) stopRecording() {
	if c.recording == nil {
		return
	}
	rec := c.recording.Recorder()
	n := len(rec.GetEvents())
	if closer, ok := rec.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Errorf("closing %s: %s", c.recPath, err)
		}
	}
	fmt.Fprintf(c.out, "Recorded %d events to %s\n", n, c.recPath)
	c.recording = nil
	c.recPath = ""
}

func (c *CLI) handleReplay(arg string) error {
	switch arg {
	case "":
		return errors.New("usage: replay <file> | replay off")
	case "off":
		if !c.replaying {
			return errors.New("not replaying")
		}
		c.replaying = false
		fmt.Fprintln(c.out, "Back to the target")
		return nil
	}
	r, err := replay.LoadFile(arg, c.s.Recording)
	if err != nil {
		return err
	}
	// Positioned after the last event, dumps see everything the session read
	if err := r.ReplayForward(); err != nil {
		return err
	}
	c.replayer = r
	c.replaying = true
	fmt.Fprintf(c.out, "Loaded %d events from %s\n", len(r.Events()), arg)
	return nil
}

func (c *CLI) requireReplay() error {
	if !c.replaying {
		return errors.New("no replay loaded")
	}
	return nil
}

func (c *CLI) handleGoto(arg string) error {
	if err := c.requireReplay(); err != nil {
		return err
	}
	idx, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid event index: %v", err)
	}
	if err := c.replayer.ReplayToEventIndex(idx); err != nil {
		return err
	}
	c.showCurrentEvent("At")
	return nil
}

func (c *CLI) handleStep() error {
	if err := c.requireReplay(); err != nil {
		return err
	}
	if err := c.replayer.ReplayToEventIndex(c.replayer.CurrentIndex() + 1); err != nil {
		if errors.Is(err, replay.ErrOutOfRange) {
			return errors.New("already at the last event")
		}
		return err
	}
	c.showCurrentEvent("Stepped to")
	return nil
}

func (c *CLI) handleBackstep() error {
	if err := c.requireReplay(); err != nil {
		return err
	}
	if _, err := c.replayer.StepBackward(c.replayer.CurrentIndex()); err != nil {
		return err
	}
	c.showCurrentEvent("Stepped back to")
	return nil
}

// handleContinue replays to the next event matching an enabled breakpoint.
// A live target stays halted: pdscope never resumes it.
func (c *CLI) handleContinue() error {
	if err := c.requireReplay(); err != nil {
		return err
	}
	if err := c.replayer.ReplayUntilBreakpoint(c.bpManager.CheckBreakpoint); err != nil {
		return err
	}
	c.showCurrentEvent("Stopped at")
	return nil
}

func (c *CLI) handleBreakpointCommand(args string) error {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return errors.New("usage: break <location> | bp list|remove|enable|disable [id]")
	}

	switch parts[0] {
	case "list", "ls":
		return c.handleListBreakpoints()
	case "remove", "rm", "enable", "disable":
		if len(parts) < 2 {
			return fmt.Errorf("usage: bp %s <id>", parts[0])
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("invalid breakpoint ID: %v", err)
		}
		switch parts[0] {
		case "enable":
			err = c.bpManager.EnableBreakpoint(id)
		case "disable":
			err = c.bpManager.DisableBreakpoint(id)
		default:
			err = c.bpManager.RemoveBreakpoint(id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Breakpoint %d: %s done\n", id, parts[0])
		return nil
	}

	bp, err := c.bpManager.AddBreakpoint(parts[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Breakpoint %s\n", bp)
	return nil
}

func (c *CLI) handleListBreakpoints() error {
	bps := c.bpManager.GetBreakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(c.out, "No breakpoints")
		return nil
	}
	for _, bp := range bps {
		fmt.Fprintf(c.out, "  %s\n", bp)
	}
	return nil
}

func (c *CLI) handleInfo() error {
	co := c.s.Contract
	fmt.Fprintf(c.out, "Layout: %s (%s)\n", co.Name, co.Revision)
	switch {
	case c.replaying:
		fmt.Fprintf(c.out, "Replaying %d events\n", len(c.replayer.Events()))
		c.showCurrentEvent("Current event:")
	case c.s.Debugger != nil:
		fmt.Fprintf(c.out, "Target: %s\n", c.s.Debugger.Target())
	case c.s.Target != nil:
		fmt.Fprintln(c.out, "Target: memory image")
	default:
		fmt.Fprintln(c.out, "No target")
	}
	if c.recording != nil {
		fmt.Fprintf(c.out, "Recording session %s to %s\n", c.recording.Session(), c.recPath)
	}

	if c.s.Debugger != nil && !c.replaying {
		state, err := c.s.Debugger.State()
		if err != nil {
			return fmt.Errorf("failed to get debugger state: %w", err)
		}
		c.showThread(state.CurrentThread)
	}
	return nil
}

func (c *CLI) showThread(th *api.Thread) {
	if th == nil {
		return
	}
	fmt.Fprintf(c.out, "Halted at %s:%d", th.File, th.Line)
	if th.Function != nil {
		fmt.Fprintf(c.out, " in %s", th.Function.Name())
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) showCurrentEvent(prefix string) {
	events := c.replayer.Events()
	idx := c.replayer.CurrentIndex()
	if idx < 0 || idx >= len(events) {
		fmt.Fprintf(c.out, "%s the start of the recording\n", prefix)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", prefix, formatEvent(idx, events[idx]))
}

// formatEvent describes an event on one line.
func formatEvent(idx int, e recorder.Event) string {
	var what string
	switch e.Type {
	case recorder.ValueRead:
		what = fmt.Sprintf("%s at %s", e.TypeName, e.Addr)
	case recorder.ElementRead:
		what = fmt.Sprintf("%s[%d] at %s", e.TypeName, e.Index, e.Addr)
	case recorder.BytesRead:
		what = fmt.Sprintf("%d bytes at %s", e.Index, e.Addr)
	case recorder.ReadFault:
		what = fmt.Sprintf("%s of %s at %s: %s", e.Of, e.TypeName, e.Addr, e.Details)
	case recorder.SnapshotEvent:
		what = e.Details
	}
	return fmt.Sprintf("[%s] Event %d: %s - %s",
		e.Timestamp.Format(time.RFC3339),
		idx,
		e.Type,
		what)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/willibrandon/pdscope/pkg/config"
	"github.com/willibrandon/pdscope/pkg/debugger"
	"github.com/willibrandon/pdscope/pkg/version"

	_ "github.com/tliron/commonlog/simple"
)

// verbosity counts repeated -v flags
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pdscope: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var verbose verbosity
	attach := flag.Int("attach", 0, "Attach to a running process by PID")
	replayFile := flag.String("replay", "", "Open a recording instead of (or before inspecting) a live target")
	configFile := flag.String("config", "", "Configuration file (default ./"+config.FileName+" if present)")
	revision := flag.String("revision", "", "Layout revision of the target: rev1 or rev2")
	layoutFile := flag.String("layout", "", "YAML layout contract, overrides -revision")
	recordFile := flag.String("record", "", "Record every read to this file")
	script := flag.String("c", "", "Run these commands (separated by ';') and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Var(&verbose, "v", "Increase log verbosity (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pdscope [options] -attach pid | -replay file\n\n")
		fmt.Fprintf(os.Stderr, "Inspects the frames, environments, stacks and namespaces of a pdcrt program.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return nil
	}

	opts, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *revision != "" {
		opts.Revision = *revision
	}
	if *layoutFile != "" {
		opts.LayoutFile = *layoutFile
	}
	if *recordFile != "" {
		opts.RecordFile = *recordFile
	}
	opts.Verbosity += int(verbose)
	if err := opts.Validate(); err != nil {
		return err
	}

	if opts.LogFile != "" {
		commonlog.Configure(opts.Verbosity, &opts.LogFile)
	} else {
		commonlog.Configure(opts.Verbosity, nil)
	}

	contract, err := opts.Contract()
	if err != nil {
		return err
	}
	recording, err := opts.Recording()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := debugger.Session{
		Contract:  contract,
		Inspect:   opts.Inspect(),
		Recording: recording,
		TreeDepth: opts.TreeDepth,
	}

	dopts := debugger.DelveOptions{DlvPath: opts.DlvPath, TypePrefix: opts.TypePrefix}
	var dbg *debugger.DelveDebugger
	switch {
	case *attach != 0:
		dbg, err = debugger.Attach(ctx, *attach, dopts)
	case *replayFile == "":
		return errors.New("nothing to inspect: use -attach or -replay")
	}
	if err != nil {
		return err
	}
	if dbg != nil {
		defer func() {
			if err := dbg.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "pdscope: %v\n", err)
			}
		}()
		session.Debugger = dbg
		session.Target = dbg.Reader()
	}

	cli := debugger.NewCLI(session, os.Stdout)
	if *replayFile != "" {
		if err := cli.Execute(ctx, "replay "+*replayFile); err != nil {
			return err
		}
	}
	if opts.RecordFile != "" {
		if err := cli.Execute(ctx, "record "+opts.RecordFile); err != nil {
			return err
		}
	}

	if *script != "" {
		return cli.Run(ctx, *script)
	}
	return cli.Start(ctx, os.Stdin)
}

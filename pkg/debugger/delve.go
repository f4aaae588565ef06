package debugger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pdscope.debugger")

// DefaultStartupTimeout bounds how long a new dlv server may take to accept
// connections.
const DefaultStartupTimeout = 10 * time.Second

// DelveOptions configure how dlv is started and how target types are named.
type DelveOptions struct {
	// DlvPath is the dlv executable; "dlv" from PATH when empty
	DlvPath string
	// TypePrefix is prepended to pdcrt type names in cast expressions, for
	// hosts where the runtime's typedefs live in a package namespace
	TypePrefix string
	// StartupTimeout is DefaultStartupTimeout when zero
	StartupTimeout time.Duration
}

// DelveDebugger wraps a Delve RPC client session attached to a halted
// process, managing the underlying dlv process. It only reads: pdscope never
// resumes the target or sets breakpoints in it.
type DelveDebugger struct {
	client    *rpc2.RPCClient
	target    string    // "pid N"
	dlvCmd    *exec.Cmd // the running 'dlv attach' command
	dlvListen string    // the address dlv is listening on (e.g., "localhost:12345")
	opts      DelveOptions
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Attach halts the running process pid under a headless dlv server and
// connects to it.
func Attach(ctx context.Context, pid int, opts DelveOptions) (*DelveDebugger, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	return start(ctx, "pid "+strconv.Itoa(pid), []string{"attach", strconv.Itoa(pid)}, opts)
}

func start(ctx context.Context, target string, cmdArgs []string, opts DelveOptions) (*DelveDebugger, error) {
	if opts.DlvPath == "" {
		opts.DlvPath = "dlv"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port for delve: %w", err)
	}
	listen := "localhost:" + strconv.Itoa(port)

	full := append(cmdArgs,
		"--headless",
		"--listen="+listen,
		"--api-version=2",
		"--accept-multiclient",
	)

	dlvCmd := exec.Command(opts.DlvPath, full...)
	setupProcAttr(dlvCmd)
	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start delve process: %w", err)
	}
	log.Infof("started delve headless server for %s on %s (PID: %d)", target, listen, dlvCmd.Process.Pid)

	conn, err := dial(ctx, listen, opts.StartupTimeout)
	if err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, fmt.Errorf("failed to connect to delve server at %s: %w", listen, err)
	}
	client := rpc2.NewClientFromConn(conn)
	if _, err := client.GetState(); err != nil {
		_ = client.Disconnect(false)
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, fmt.Errorf("delve server at %s is not responding: %w", listen, err)
	}
	log.Infof("connected RPC client to delve headless server at %s", listen)

	return &DelveDebugger{
		client:    client,
		target:    target,
		dlvCmd:    dlvCmd,
		dlvListen: listen,
		opts:      opts,
	}, nil
}

// dial retries until the server accepts a connection or the timeout expires.
func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Target describes what the session is debugging.
func (d *DelveDebugger) Target() string {
	return d.target
}

// Reader returns a memory.Reader over the halted target.
func (d *DelveDebugger) Reader() *DelveReader {
	return &DelveReader{d: d}
}

// State returns where the target is halted.
func (d *DelveDebugger) State() (*api.DebuggerState, error) {
	return d.client.GetState()
}

// Close terminates the connection and the Delve process
func (d *DelveDebugger) Close() error {
	var closeErr error
	if d.client != nil {
		// Detaching lets the process run on exactly as before the attach
		if err := d.client.Detach(false); err != nil {
			log.Warningf("error detaching from %s: %s", d.target, err)
			closeErr = fmt.Errorf("failed to detach delve client: %w", err)
		}
		d.client = nil
	}
	if d.dlvCmd != nil && d.dlvCmd.Process != nil {
		pid := d.dlvCmd.Process.Pid
		log.Debugf("terminating delve process (PID: %d)", pid)
		if err := d.dlvCmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to kill delve process: %w", err))
		}
		_, waitErr := d.dlvCmd.Process.Wait()
		if waitErr != nil && !errors.Is(waitErr, os.ErrProcessDone) && !isWaitAlreadyExited(waitErr) {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to wait for delve process: %w", waitErr))
		}
		log.Debugf("delve process (PID: %d) terminated", pid)
		d.dlvCmd = nil
	}
	return closeErr
}

// Helper to check for specific Wait error on Windows
func isWaitAlreadyExited(err error) bool {
	var e *exec.ExitError
	if errors.As(err, &e) {
		if status, ok := e.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus() == -1
		}
	}
	return false
}

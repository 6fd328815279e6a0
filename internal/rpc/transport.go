package rpc

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
)

// stopGrace is how long Stop waits after the polite termination signal
// before killing the child.
const stopGrace = 3 * time.Second

// Executable is the resolved agent binary and the environment to run it
// with. Resolution (PATH search, login-shell environment) happens outside
// this package.
type Executable struct {
	Path string
	Env  []string
	Args []string // fixed leading arguments
}

// LaunchOptions select what the child process is bound to.
type LaunchOptions struct {
	Dir         string // working directory
	Provider    string
	Model       string
	SessionFile string
}

// LaunchSpec is the fully resolved child invocation.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// BuildLaunchSpec combines an executable with per-session options.
func BuildLaunchSpec(exe Executable, opts LaunchOptions) LaunchSpec {
	args := append([]string(nil), exe.Args...)
	args = append(args, "--mode", "rpc")
	if opts.Provider != "" {
		args = append(args, "--provider", opts.Provider)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SessionFile != "" {
		args = append(args, "--session", opts.SessionFile)
	}
	return LaunchSpec{
		Path: exe.Path,
		Args: args,
		Dir:  opts.Dir,
		Env:  append([]string(nil), exe.Env...),
	}
}

// Transport owns one child process and its standard streams. Each stdout
// line is handed to the line callback on the reader goroutine; stderr is
// logged only.
type Transport struct {
	spec   LaunchSpec
	onLine func([]byte)
	onExit func(error)

	mu      sync.Mutex
	proc    *proc
	writeMu sync.Mutex
}

// proc is the state of one launched child. Stop swaps it out of the
// Transport, so a new Start never shares state with a dying process.
type proc struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	detached atomic.Bool
	readers  sync.WaitGroup
	exited   chan struct{}
	exitErr  error
}

// NewTransport creates a transport for spec. onLine receives each complete
// stdout line; onExit is called once when the child terminates on its own
// (not after Stop).
func NewTransport(spec LaunchSpec, onLine func([]byte), onExit func(error)) *Transport {
	return &Transport{spec: spec, onLine: onLine, onExit: onExit}
}

// Running reports whether a child is attached.
func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc != nil
}

// PID returns the child's process id, or 0 when not running.
func (t *Transport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil || t.proc.cmd.Process == nil {
		return 0
	}
	return t.proc.cmd.Process.Pid
}

// Start launches the child and wires its streams.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc != nil {
		return ErrAlreadyRunning
	}
	if t.spec.Path == "" {
		return fmt.Errorf("start agent: empty executable path")
	}

	cmd := exec.Command(t.spec.Path, t.spec.Args...)
	cmd.Dir = t.spec.Dir
	cmd.Env = t.spec.Env
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	p := &proc{
		cmd:    cmd,
		stdin:  stdin,
		exited: make(chan struct{}),
	}
	t.proc = p

	p.readers.Add(2)
	go t.readStdout(p, stdout)
	go t.readStderr(p, stderr)
	go t.wait(p)

	islandlog.Log.Info("rpc: agent started", "pid", cmd.Process.Pid, "dir", t.spec.Dir)
	return nil
}

// Send writes one frame followed by a newline. Concurrent sends never
// interleave.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	p := t.proc
	t.mu.Unlock()
	if p == nil || p.detached.Load() {
		return ErrNotRunning
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := p.stdin.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Stop detaches the readers, then terminates the child and clears all
// transport state. Callbacks are not invoked after Stop begins.
func (t *Transport) Stop() error {
	t.mu.Lock()
	p := t.proc
	t.proc = nil
	t.mu.Unlock()

	if p == nil {
		return nil
	}

	p.detached.Store(true)
	_ = p.stdin.Close()
	terminateProcess(p.cmd)

	select {
	case <-p.exited:
	case <-time.After(stopGrace):
		islandlog.Log.Warn("rpc: agent did not exit, killing", "pid", p.cmd.Process.Pid)
		killProcess(p.cmd)
		select {
		case <-p.exited:
		case <-time.After(stopGrace):
			return fmt.Errorf("agent pid %d did not exit", p.cmd.Process.Pid)
		}
	}
	return nil
}

func (t *Transport) readStdout(p *proc, r io.Reader) {
	defer p.readers.Done()

	framer := NewFramer(MaxLineSize)
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				if p.detached.Load() {
					break
				}
				t.onLine(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.detached.Load() {
				islandlog.Log.Debug("rpc: stdout read ended", "error", err)
			}
			if framer.Pending() > 0 {
				islandlog.Log.Debug("rpc: discarding unterminated stdout tail", "bytes", framer.Pending())
			}
			return
		}
	}
}

func (t *Transport) readStderr(p *proc, r io.Reader) {
	defer p.readers.Done()

	framer := NewFramer(64 * 1024)
	buf := make([]byte, 8*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				islandlog.Log.Debug("rpc: agent stderr", "line", string(line))
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Transport) wait(p *proc) {
	p.readers.Wait()
	p.exitErr = p.cmd.Wait()
	close(p.exited)

	t.mu.Lock()
	if t.proc == p {
		t.proc = nil
	}
	t.mu.Unlock()

	processExitsTotal.WithLabelValues(exitLabel(p)).Inc()
	if p.detached.Load() {
		return
	}

	islandlog.Log.Info("rpc: agent exited", "pid", p.cmd.Process.Pid, "error", p.exitErr)
	p.detached.Store(true)
	if t.onExit != nil {
		t.onExit(p.exitErr)
	}
}

func exitLabel(p *proc) string {
	switch {
	case p.detached.Load():
		return "stopped"
	case p.exitErr != nil:
		return "crashed"
	default:
		return "exited"
	}
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	ptyDevice "github.com/creack/pty"

	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/procutil"
	"github.com/shellring/shellring/internal/protocol"
)

// stopTimeout bounds how long Close waits for a shell process to exit
// after SIGTERM before killing it.
const stopTimeout = 5 * time.Second

// PTYOptions configures the command started for each shell.
type PTYOptions struct {
	Command    string   // defaults to $SHELL, then /bin/bash
	Args       []string // command arguments
	WorkingDir string   // working directory, empty for inherited
	Env        []string // environment, nil for inherited
}

// PTY runs each shell as a real process attached to a pseudo-terminal.
type PTY struct {
	opts PTYOptions

	mu     sync.Mutex
	shells map[ids.Sid]*ptyShell
}

type ptyShell struct {
	file *os.File
	cmd  *exec.Cmd

	waitOnce sync.Once
	waitErr  error

	closeOnce sync.Once
	closing   bool // set under PTY.mu before Close tears the shell down
}

// NewPTY returns a PTY backend. Zero options start the user's shell.
func NewPTY(opts PTYOptions) *PTY {
	if opts.Command == "" {
		opts.Command = os.Getenv("SHELL")
	}
	if opts.Command == "" {
		opts.Command = "/bin/bash"
	}
	return &PTY{opts: opts, shells: make(map[ids.Sid]*ptyShell)}
}

// Open starts the configured command on a new pseudo-terminal and
// streams its output to sink until the process exits or Close is called.
func (p *PTY) Open(_ context.Context, id ids.Sid, size protocol.Winsize, sink Sink) error {
	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	if p.opts.WorkingDir != "" {
		cmd.Dir = p.opts.WorkingDir
	}
	if len(p.opts.Env) > 0 {
		cmd.Env = p.opts.Env
	} else {
		cmd.Env = os.Environ()
	}
	if !envHas(cmd.Env, "TERM=") {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}
	if !envHas(cmd.Env, "LANG=") && !envHas(cmd.Env, "LC_ALL=") {
		cmd.Env = append(cmd.Env, "LANG=C.UTF-8")
	}

	file, err := ptyDevice.StartWithSize(cmd, &ptyDevice.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
	})
	if err != nil {
		return fmt.Errorf("start shell %d: %w", id, err)
	}

	sh := &ptyShell{file: file, cmd: cmd}

	p.mu.Lock()
	if _, exists := p.shells[id]; exists {
		p.mu.Unlock()
		sh.closePTY()
		_ = cmd.Process.Kill()
		_ = sh.reap()
		return fmt.Errorf("shell %d already open", id)
	}
	p.shells[id] = sh
	p.mu.Unlock()

	log.Printf("[PTY] Started %s (pid %d) for shell %d", p.opts.Command, cmd.Process.Pid, id)
	go p.capture(id, sh, sink)
	return nil
}

// capture copies terminal output to the sink until the PTY read fails,
// which happens when the process exits or the fd is closed.
func (p *PTY) capture(id ids.Sid, sh *ptyShell, sink Sink) {
	buf := make([]byte, 4096)
	for {
		n, err := sh.file.Read(buf)
		if n > 0 {
			sink.Output(buf[:n])
		}
		if err != nil {
			break
		}
	}

	sh.closePTY()
	waitErr := sh.reap()

	p.mu.Lock()
	closing := sh.closing
	if p.shells[id] == sh {
		delete(p.shells, id)
	}
	p.mu.Unlock()

	if closing {
		return
	}
	log.Printf("[PTY] Shell %d exited on its own: %v", id, exitSummary(sh.cmd, waitErr))
	if exits, ok := sink.(ExitSink); ok {
		exits.Exited(waitErr)
	}
}

// Write delivers keystrokes to the shell's input.
func (p *PTY) Write(id ids.Sid, data []byte) error {
	sh, err := p.lookup(id)
	if err != nil {
		return err
	}
	if _, err := sh.file.Write(data); err != nil {
		return fmt.Errorf("write shell %d: %w", id, err)
	}
	return nil
}

// Resize changes the pseudo-terminal's dimensions.
func (p *PTY) Resize(id ids.Sid, rows, cols uint16) error {
	sh, err := p.lookup(id)
	if err != nil {
		return err
	}
	if err := ptyDevice.Setsize(sh.file, &ptyDevice.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize shell %d: %w", id, err)
	}
	return nil
}

// Close terminates the shell process, gracefully first, then by force
// after stopTimeout.
func (p *PTY) Close(id ids.Sid) error {
	p.mu.Lock()
	sh, ok := p.shells[id]
	if ok {
		sh.closing = true
		delete(p.shells, id)
	}
	p.mu.Unlock()
	if !ok {
		return ErrUnknownShell
	}

	// Closing the fd unblocks the capture goroutine's Read.
	defer sh.closePTY()

	if err := procutil.GracefulTerminate(sh.cmd.Process); err != nil {
		return fmt.Errorf("terminate shell %d: %w", id, err)
	}

	done := make(chan error, 1)
	go func() { done <- sh.reap() }()

	select {
	case err := <-done:
		return ignoreExpectedExit(err)
	case <-time.After(stopTimeout):
		if err := sh.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill shell %d: %w", id, err)
		}
		return ignoreExpectedExit(<-done)
	}
}

func (p *PTY) lookup(id ids.Sid) (*ptyShell, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sh, ok := p.shells[id]
	if !ok {
		return nil, ErrUnknownShell
	}
	return sh, nil
}

func (sh *ptyShell) closePTY() {
	sh.closeOnce.Do(func() {
		sh.file.Close()
	})
}

func (sh *ptyShell) reap() error {
	sh.waitOnce.Do(func() {
		sh.waitErr = sh.cmd.Wait()
	})
	return sh.waitErr
}

// ignoreExpectedExit drops the ExitError a terminated process reports;
// a signal-driven exit after Close is the expected outcome.
func ignoreExpectedExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func exitSummary(cmd *exec.Cmd, waitErr error) string {
	if state := cmd.ProcessState; state != nil {
		return state.String()
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	return "exited"
}

func envHas(env []string, prefix string) bool {
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// Package pty wraps pseudo-terminal allocation for driving interactive
// child processes. The child gets the slave end on all three standard
// streams so programs that insist on a terminal (notably ssh asking for a
// password) behave as if a user were attached. The master end is switched to
// raw mode and re-wrapped as a pollable file so bounded reads work.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// SpawnError indicates the target binary is missing or could not be
// launched. Fatal, not retried.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// AllocError indicates the OS could not provide a PTY pair. Fatal, not
// retried.
type AllocError struct {
	Err error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("allocate pty: %v", e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// Term is one live pseudo-terminal session: the master descriptor, the child
// process attached to the slave, and the terminal mode saved for restore.
// A Term is owned by a single session loop; its Read/Write methods must not
// be called from more than one goroutine.
type Term struct {
	master *os.File
	cmd    *exec.Cmd
	saved  *term.State
	name   string

	closeOnce sync.Once
	closeErr  error
}

// Open allocates a PTY pair, starts command with the slave bound to
// stdin/stdout/stderr, and puts the master into raw mode. The caller must
// Close the returned Term on every exit path; a leaked descriptor or
// orphaned child is a defect, and Close is safe to call more than once.
func Open(command string, args ...string) (*Term, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	cmd := exec.Command(path, args...)
	master, err := pty.Start(cmd)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EACCES) {
			return nil, &SpawnError{Command: command, Err: err}
		}
		return nil, &AllocError{Err: err}
	}

	t := &Term{cmd: cmd, name: master.Name()}

	// Raw mode: no line buffering, no local echo, no signal keys, so prompt
	// bytes arrive exactly as the child sent them. Best effort: some
	// platforms reject termios calls on the master side.
	if saved, rerr := term.MakeRaw(int(master.Fd())); rerr == nil {
		t.saved = saved
	}

	// Re-wrap the master on a duplicated, non-blocking descriptor so the Go
	// runtime registers it with the poller and SetReadDeadline actually
	// works. Without this a Read can block past every supervision deadline.
	if dupFd, derr := syscall.Dup(int(master.Fd())); derr == nil {
		_ = syscall.SetNonblock(dupFd, true)
		wrapped := os.NewFile(uintptr(dupFd), master.Name())
		if wrapped != nil {
			_ = master.Close()
			master = wrapped
		} else {
			_ = syscall.Close(dupFd)
		}
	}
	t.master = master

	return t, nil
}

// Name returns the path of the master device (for logging).
func (t *Term) Name() string { return t.name }

// ReadChunk waits up to d for the master to become readable and reads one
// available chunk. Returns (0, os.ErrDeadlineExceeded) when nothing arrived
// within the window, so supervision deadlines stay responsive even when the
// child is silent.
func (t *Term) ReadChunk(p []byte, d time.Duration) (int, error) {
	deadline := time.Now().Add(d)
	_ = t.master.SetReadDeadline(deadline)

	n, err := t.master.Read(p)
	if n == 0 && err != nil && (os.IsTimeout(err) || errors.Is(err, syscall.EAGAIN)) {
		// If the descriptor could not be registered with the poller the read
		// returns EAGAIN immediately; sleep out the window to keep the poll
		// interval bounded instead of spinning.
		if rem := time.Until(deadline); rem > 0 {
			time.Sleep(rem)
		}
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// Write writes to the child's input.
func (t *Term) Write(p []byte) (int, error) {
	return t.master.Write(p)
}

// WriteLine writes s followed by a line terminator to the child's input.
func (t *Term) WriteLine(s string) error {
	b := append([]byte(s), '\n')
	_, err := t.master.Write(b)
	for i := range b {
		b[i] = 0
	}
	return err
}

// Wait blocks until the child exits and reaps it. Must be called exactly
// once, and not concurrently with Close from another goroutine before the
// process has been signaled.
func (t *Term) Wait() error {
	return t.cmd.Wait()
}

// ExitCode returns the child's exit code, or -1 if it has not been reaped.
func (t *Term) ExitCode() int {
	if t.cmd.ProcessState == nil {
		return -1
	}
	return t.cmd.ProcessState.ExitCode()
}

// Exited reports whether the child has been reaped.
func (t *Term) Exited() bool {
	return t.cmd.ProcessState != nil
}

// Kill forcibly terminates the child. The caller still needs a Wait to reap
// it.
func (t *Term) Kill() error {
	if t.cmd.Process == nil {
		return nil
	}
	err := t.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Close restores the saved terminal mode, closes the master descriptor, and
// kills the child if it is still running. Idempotent: every exit path may
// call it, including after an explicit timeout kill.
func (t *Term) Close() error {
	t.closeOnce.Do(func() {
		if t.saved != nil {
			_ = term.Restore(int(t.master.Fd()), t.saved)
		}
		t.closeErr = t.master.Close()
		if t.cmd.Process != nil && t.cmd.ProcessState == nil {
			_ = t.cmd.Process.Kill()
		}
	})
	return t.closeErr
}

// IsClosedRead reports whether a read error means the slave side is gone,
// which on Linux surfaces as EIO once the child exits and on other platforms
// as EOF.
func IsClosedRead(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)
}

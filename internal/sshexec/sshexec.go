// Package sshexec runs remote commands through the system ssh binary,
// driving password authentication over a PTY when a password is supplied and
// falling back to plain execution (keys, agent) when it is not. Transport
// concerns stay with ssh itself; this package only builds the invocation and
// classifies the outcome.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/hostwire/sshdrive/internal/driver"
)

// AuthFailureExitCode is ssh's canonical exit code for authentication or
// connection failure (wrong password, refused, unreachable). Distinct from
// remote-command failure codes, which ssh passes through.
const AuthFailureExitCode = 255

// DefaultConnectTimeout is passed to ssh as -o ConnectTimeout.
const DefaultConnectTimeout = 10 * time.Second

// Target identifies a remote account.
type Target struct {
	Host string
	Port int
	User string
}

// Dest returns the user@host destination argument.
func (t Target) Dest() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// AuthError is the distinguished auth/connection failure outcome, surfaced
// separately so callers can message a wrong password differently from a
// failing remote command.
type AuthError struct {
	Target   Target
	ExitCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf(
		"ssh to %s failed (exit code %d): wrong password, authentication failed, "+
			"connection refused, or host unreachable; try running 'ssh %s' manually to verify",
		e.Target.Dest(), e.ExitCode, e.Target.Dest(),
	)
}

// ExecOptions configures one remote command execution.
type ExecOptions struct {
	// Password, when non-empty, selects the interactive PTY path.
	Password string

	// Timeout is the overall deadline for the whole exchange.
	Timeout time.Duration

	// Session tunables for the password path. Zero values take the driver
	// defaults.
	PromptWait        time.Duration
	FallbackSendAfter time.Duration
	IdleAfterSend     time.Duration
	PollInterval      time.Duration

	// Output receives the (prompt-scrubbed) remote output. Nil discards it.
	Output io.Writer

	// Batch forces -o BatchMode=yes on the keyless path so ssh fails fast
	// instead of prompting into the void.
	Batch bool
}

// Args builds the ssh argv for the given target and remote command.
// StrictHostKeyChecking is disabled because the callers of this tool talk to
// a small set of hosts they own and prompt handling is reserved for the
// password exchange.
func Args(t Target, remoteCmd string, batch bool) []string {
	args := []string{
		"ssh",
		"-o", "StrictHostKeyChecking=no",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(DefaultConnectTimeout.Seconds())),
	}
	if batch {
		args = append(args, "-o", "BatchMode=yes")
	}
	if t.Port != 0 && t.Port != 22 {
		args = append(args, "-p", strconv.Itoa(t.Port))
	}
	return append(args, t.Dest(), remoteCmd)
}

// Execute runs remoteCmd on the target and reports the session result.
// With a password it drives ssh on a PTY through the driver; without one it
// execs ssh directly and lets keys or the agent authenticate.
func Execute(t Target, remoteCmd string, opts ExecOptions) (driver.Result, error) {
	if opts.Password != "" {
		return driver.Run(driver.Options{
			Command:           Args(t, remoteCmd, false),
			Secret:            opts.Password,
			Timeout:           opts.Timeout,
			PromptWait:        opts.PromptWait,
			FallbackSendAfter: opts.FallbackSendAfter,
			IdleAfterSend:     opts.IdleAfterSend,
			PollInterval:      opts.PollInterval,
			Output:            opts.Output,
		})
	}
	return executePlain(t, remoteCmd, opts)
}

// executePlain is the keyless path: no PTY, no prompt handling.
func executePlain(t Target, remoteCmd string, opts ExecOptions) (driver.Result, error) {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	argv := Args(t, remoteCmd, true)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}

	slog.Debug("executing remote command without password",
		slog.String("dest", t.Dest()),
	)

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return driver.Result{ExitCode: -1, TimedOut: true}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return driver.Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return driver.Result{ExitCode: -1}, fmt.Errorf("run ssh: %w", err)
	}
	return driver.Result{Success: true, ExitCode: 0}, nil
}

// Classify turns a non-success result into the matching error value: nil on
// success, *AuthError on the canonical failure code, a generic error
// otherwise. Timeouts are reported as timeouts since no exit code is
// meaningful.
func Classify(t Target, res driver.Result) error {
	switch {
	case res.Success:
		return nil
	case res.TimedOut:
		return fmt.Errorf("ssh to %s timed out in phase %s (host may be unreachable)", t.Dest(), res.KilledPhase)
	case res.ExitCode == AuthFailureExitCode:
		return &AuthError{Target: t, ExitCode: res.ExitCode}
	default:
		return fmt.Errorf("remote command on %s failed with exit code %d", t.Dest(), res.ExitCode)
	}
}

// TestConnection runs a cheap echo probe against the target and classifies
// the outcome. It performs no retries; retrying a password-bearing exchange
// is the caller's call.
func TestConnection(t Target, password string, timeout time.Duration) error {
	res, err := Execute(t, `echo "connection test successful"`, ExecOptions{
		Password: password,
		Timeout:  timeout,
	})
	if err != nil {
		return err
	}
	return Classify(t, res)
}

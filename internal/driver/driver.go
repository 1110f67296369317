// Package driver implements the interactive session engine: it runs a
// command on a pseudo-terminal, watches the output for a credential prompt,
// injects the secret exactly once, and supervises the whole exchange with
// three deadlines. It is the piece that lets a process with no terminal of
// its own drive a password-authenticated ssh invocation.
package driver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hostwire/sshdrive/internal/prompt"
	"github.com/hostwire/sshdrive/internal/pty"
)

// Phase is the injection state of a session. Transitions are monotonic:
// AwaitingPrompt -> PasswordSent -> Draining -> Done.
type Phase int

const (
	PhaseAwaitingPrompt Phase = iota
	PhasePasswordSent
	PhaseDraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPrompt:
		return "awaiting_prompt"
	case PhasePasswordSent:
		return "password_sent"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Default deadlines. Overall comes from the caller in practice; the rest are
// tuned to ssh's pacing: the prompt usually appears within a few seconds,
// and once the secret is in, silence longer than IdleAfterSend means the
// child is either working or gone.
const (
	DefaultTimeout           = 10 * time.Minute
	DefaultPromptWait        = 15 * time.Second
	DefaultFallbackSendAfter = 3 * time.Second
	DefaultIdleAfterSend     = 10 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond

	readChunkSize = 1024
)

// Options configures one session.
type Options struct {
	// Command is the argv of the program to drive, e.g. ["ssh", "user@host", "ls"].
	Command []string

	// Secret is written to the child's input once a credential prompt is
	// detected (or blindly, after FallbackSendAfter of silence).
	Secret string

	// Timeout is the overall deadline. Zero means DefaultTimeout; negative
	// disables it.
	Timeout time.Duration

	// PromptWait bounds how long the blind-send fallback window stays open
	// while no prompt has been detected.
	PromptWait time.Duration

	// FallbackSendAfter is how long the session may be silent in
	// AwaitingPrompt before the secret is sent blind. See the note on
	// blindSend below.
	FallbackSendAfter time.Duration

	// IdleAfterSend is the post-injection inactivity deadline: after this
	// much silence the loop probes child liveness instead of assuming
	// progress.
	IdleAfterSend time.Duration

	// PollInterval is the bounded wait of the multiplexer loop.
	PollInterval time.Duration

	// Output receives the forwarded transcript with prompt/secret material
	// suppressed. Nil discards it.
	Output io.Writer
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PromptWait <= 0 {
		o.PromptWait = DefaultPromptWait
	}
	if o.FallbackSendAfter <= 0 {
		o.FallbackSendAfter = DefaultFallbackSendAfter
	}
	if o.IdleAfterSend <= 0 {
		o.IdleAfterSend = DefaultIdleAfterSend
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Output == nil {
		o.Output = io.Discard
	}
	return o
}

// Result is the outcome of one session, produced exactly once.
type Result struct {
	// Success is true iff the child exited 0 before any deadline fired.
	Success bool

	// ExitCode is the child's exit code, or -1 when it was killed on the
	// overall deadline and no code is meaningful.
	ExitCode int

	// TimedOut is true when the overall deadline fired and the child was
	// killed.
	TimedOut bool

	// KilledPhase records the phase at kill time. Only meaningful when
	// TimedOut is true.
	KilledPhase Phase
}

// session is the mutable state of one run. Exclusively owned by the loop in
// Run; never shared.
type session struct {
	term         *pty.Term
	opts         Options
	waitCh       chan error
	buf          bytes.Buffer
	phase        Phase
	secretSent   bool
	started      time.Time
	lastActivity time.Time
}

// Run executes opts.Command on a fresh PTY and drives it to completion.
// Setup failures return *pty.SpawnError or *pty.AllocError; once the child
// is running, outcomes are reported through Result rather than errors, with
// cleanup guaranteed on every path.
func Run(opts Options) (Result, error) {
	opts = opts.withDefaults()
	if len(opts.Command) == 0 {
		return Result{ExitCode: -1}, errors.New("driver: empty command")
	}

	term, err := pty.Open(opts.Command[0], opts.Command[1:]...)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	defer term.Close()

	s := &session{
		term:         term,
		opts:         opts,
		waitCh:       make(chan error, 1),
		phase:        PhaseAwaitingPrompt,
		started:      time.Now(),
		lastActivity: time.Now(),
	}

	// The wait goroutine only reaps; all PTY I/O stays on this goroutine.
	go func() {
		s.waitCh <- term.Wait()
	}()

	slog.Debug("session started",
		slog.String("command", opts.Command[0]),
		slog.String("pty", term.Name()),
	)

	return s.loop()
}

// loop is the multiplexer: bounded-wait read, state machine dispatch, then
// deadline evaluation, until the child exits or the overall deadline kills
// it.
func (s *session) loop() (Result, error) {
	chunk := make([]byte, readChunkSize)

	for {
		if s.overallExpired() {
			return s.killOnTimeout(), nil
		}

		// Non-blocking liveness poll.
		select {
		case <-s.waitCh:
			return s.conclude(), nil
		default:
		}

		n, err := s.term.ReadChunk(chunk, s.opts.PollInterval)
		switch {
		case n > 0:
			s.lastActivity = time.Now()
			s.buf.Write(chunk[:n])
			s.dispatch()

		case errors.Is(err, os.ErrDeadlineExceeded):
			s.onIdle()

		case pty.IsClosedRead(err):
			// Slave side gone: the child exited between the liveness poll
			// and the read. Block on the reap, bounded by what is left of
			// the overall deadline.
			if !s.awaitExit() {
				return s.killOnTimeout(), nil
			}
			return s.conclude(), nil

		case err != nil:
			return Result{ExitCode: -1, KilledPhase: s.phase}, fmt.Errorf("read pty: %w", err)
		}
	}
}

// dispatch advances the state machine for newly buffered output.
func (s *session) dispatch() {
	if !s.secretSent {
		if prompt.Match(s.buf.String(), time.Since(s.started)) {
			s.inject("prompt detected")
		}
		// Otherwise keep accumulating: prompts can span chunks, and nothing
		// is forwarded until the prompt question is settled.
		return
	}

	// Secret already sent: forward the chunk unless it carries prompt text.
	// A second prompt here usually means authentication failed; it is
	// suppressed like the first one but never re-triggers injection.
	s.forwardBuffered()
	if s.phase == PhasePasswordSent {
		s.phase = PhaseDraining
	}
}

// inject writes the secret, once. The accumulated buffer is discarded so the
// prompt (and any echo of the secret) never reaches the transcript.
func (s *session) inject(reason string) {
	if s.secretSent {
		return
	}
	if err := s.term.WriteLine(s.opts.Secret); err != nil {
		slog.Warn("secret write failed", slog.String("error", err.Error()))
		return
	}
	s.secretSent = true
	s.phase = PhasePasswordSent
	s.buf.Reset()
	s.lastActivity = time.Now()
	slog.Debug("secret sent", slog.String("reason", reason), slog.String("phase", s.phase.String()))
}

// onIdle handles a poll window with no readable data.
func (s *session) onIdle() {
	if s.secretSent {
		if time.Since(s.lastActivity) > s.opts.IdleAfterSend {
			// Silence past the inactivity deadline: the liveness poll at the
			// top of the loop decides whether the child is done. If it is
			// still alive we keep waiting, bounded by the overall deadline.
			slog.Debug("idle after secret", slog.Duration("idle", time.Since(s.lastActivity)))
		}
		return
	}

	elapsed := time.Since(s.started)
	if elapsed > s.opts.FallbackSendAfter && elapsed < s.opts.PromptWait {
		// Blind send: no prompt was observed, but the child is alive and
		// silent, which is what a password read looks like when the prompt
		// bytes were consumed before our first read. Known hazard: a remote
		// that is merely slow to print its banner receives the secret in a
		// context that never asked for it. Kept for compatibility with the
		// established behavior; do not widen this window.
		s.inject("blind send after quiet grace")
	}
	// Past PromptWait nothing autonomous happens; the overall deadline is
	// the only remaining supervisor.
}

// forwardBuffered flushes the accumulated buffer to the caller's output,
// dropping it entirely if it carries prompt text. The buffer is always
// cleared so secret material never lingers.
func (s *session) forwardBuffered() {
	if s.buf.Len() == 0 {
		return
	}
	if out := prompt.Scrub(s.buf.String()); out != "" {
		_, _ = io.WriteString(s.opts.Output, out)
	}
	s.buf.Reset()
}

// conclude runs after the child has been reaped: one final drain sweep for
// trailing output, then classification.
func (s *session) conclude() Result {
	s.drain()
	s.phase = PhaseDone

	code := s.term.ExitCode()
	res := Result{
		Success:  code == 0,
		ExitCode: code,
	}
	slog.Debug("session concluded",
		slog.Int("exit_code", code),
		slog.Bool("success", res.Success),
	)
	return res
}

// drain performs the last non-blocking read sweep, applying the same
// prompt-suppression filter as the live path. Output accumulated before a
// never-detected prompt is flushed here too (the keyless fast path).
func (s *session) drain() {
	if s.phase == PhasePasswordSent || s.phase == PhaseAwaitingPrompt {
		s.phase = PhaseDraining
	}
	chunk := make([]byte, readChunkSize)
	for {
		n, err := s.term.ReadChunk(chunk, 50*time.Millisecond)
		if n > 0 {
			s.buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			break
		}
	}
	s.forwardBuffered()
}

// overallExpired checks the caller-supplied deadline.
func (s *session) overallExpired() bool {
	return s.opts.Timeout > 0 && time.Since(s.started) > s.opts.Timeout
}

// killOnTimeout forcibly terminates the child and reports the breach. No
// exit code is meaningful on this path.
func (s *session) killOnTimeout() Result {
	slog.Warn("overall deadline breached, killing child",
		slog.String("phase", s.phase.String()),
		slog.Duration("elapsed", time.Since(s.started)),
	)
	_ = s.term.Kill()
	<-s.waitCh // reap; Kill guarantees this returns
	return Result{
		ExitCode:    -1,
		TimedOut:    true,
		KilledPhase: s.phase,
	}
}

// awaitExit blocks until the child is reaped or the overall deadline runs
// out. Returns false on deadline breach.
func (s *session) awaitExit() bool {
	if s.opts.Timeout <= 0 {
		<-s.waitCh
		return true
	}
	remaining := s.opts.Timeout - time.Since(s.started)
	if remaining <= 0 {
		return false
	}
	select {
	case <-s.waitCh:
		return true
	case <-time.After(remaining):
		return false
	}
}

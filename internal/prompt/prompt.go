// Package prompt provides credential-prompt detection for PTY output.
//
// Detection is deliberately fuzzy. SSH password prompts vary in form
// ("Password:", "alice@host's password: ", "(alice@host) Password:" for
// keyboard-interactive) and a prompt can be split across read chunks, so the
// heuristic works over the accumulated buffer rather than individual lines.
package prompt

import (
	"strings"
	"time"
)

// FallbackGrace is how long a session may run with the word "password" in the
// buffer but no colon observed before the heuristic fires anyway. Covers
// prompts whose colon is wrapped or consumed by the terminal driver.
const FallbackGrace = time.Second

// Match reports whether the accumulated buffer looks like a credential
// prompt. elapsed is the time since session start.
//
// The primary test is: the buffer contains "password" (case-insensitive) and
// a colon anywhere. Ordering is not checked because the two can arrive in
// separate chunks. The secondary test fires when "password" has appeared and
// elapsed exceeds FallbackGrace; this can misfire on banner text that merely
// mentions passwords, but it is kept for compatibility with prompts the
// primary test misses.
func Match(buffer string, elapsed time.Duration) bool {
	lower := strings.ToLower(buffer)
	if !strings.Contains(lower, "password") {
		return false
	}
	if strings.Contains(buffer, ":") {
		return true
	}
	return elapsed > FallbackGrace
}

// ContainsPrompt reports whether a chunk carries password-prompt text and
// must therefore be withheld from any forwarded transcript.
func ContainsPrompt(chunk string) bool {
	return strings.Contains(strings.ToLower(chunk), "password:")
}

// Scrub returns the chunk unless it carries prompt text, in which case the
// whole chunk is dropped. Suppression is chunk-granular: a prompt and the
// secret echoed after it tend to share a chunk, and dropping the pair is
// safer than trying to splice around them.
func Scrub(chunk string) string {
	if ContainsPrompt(chunk) {
		return ""
	}
	return chunk
}

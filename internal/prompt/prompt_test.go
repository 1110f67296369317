package prompt

import (
	"testing"
	"time"
)

func TestMatch_PasswordAndColon(t *testing.T) {
	tests := []struct {
		name   string
		buffer string
		want   bool
	}{
		{"plain prompt", "Password: ", true},
		{"lowercase prompt", "password: ", true},
		{"user at host prompt", "alice@host's password: ", true},
		{"keyboard interactive", "(alice@host) Password: ", true},
		{"split across chunks", "passw" + "ord for alice:", true},
		{"colon before token", "Warning: something\nPassword", true},
		{"no password token", "login: ", false},
		{"empty buffer", "", false},
		{"banner without colon", "enter your password now", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.buffer, 0); got != tt.want {
				t.Errorf("Match(%q, 0) = %v, want %v", tt.buffer, got, tt.want)
			}
		})
	}
}

func TestMatch_FallbackAfterGrace(t *testing.T) {
	buffer := "enter your password now"

	if Match(buffer, 500*time.Millisecond) {
		t.Error("fallback should not fire before the grace period")
	}
	if !Match(buffer, 2*time.Second) {
		t.Error("fallback should fire once the grace period has elapsed")
	}
	// Without the token the fallback never fires, no matter the elapsed time.
	if Match("connecting...", time.Hour) {
		t.Error("fallback fired with no password token in the buffer")
	}
}

func TestContainsPrompt(t *testing.T) {
	tests := []struct {
		chunk string
		want  bool
	}{
		{"alice@host's password: ", true},
		{"Password: ", true},
		{"PASSWORD: ", true},
		{"regular output line\n", false},
		{"mentions a password without colon", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ContainsPrompt(tt.chunk); got != tt.want {
			t.Errorf("ContainsPrompt(%q) = %v, want %v", tt.chunk, got, tt.want)
		}
	}
}

func TestScrub(t *testing.T) {
	if got := Scrub("alice@host's password: "); got != "" {
		t.Errorf("Scrub should drop prompt chunks, got %q", got)
	}
	if got := Scrub("hello world\n"); got != "hello world\n" {
		t.Errorf("Scrub should pass plain chunks through, got %q", got)
	}
}

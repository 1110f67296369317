package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hostwire/sshdrive/internal/config"
	"github.com/hostwire/sshdrive/internal/driver"
	"github.com/hostwire/sshdrive/internal/sshexec"
	"github.com/hostwire/sshdrive/internal/transfer"
)

// --- Test helpers ---

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.UseKeyring = false
	cfg.Hosts = []config.HostConfig{
		{Name: "media", Host: "media.local", Port: 22, User: "alice", Enabled: true},
		{Name: "spare", Host: "spare.local", User: "bob", Enabled: false},
	}
	return cfg
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	return NewServer(testConfig(), opts...)
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}

func okExec(res driver.Result) func(sshexec.Target, string, sshexec.ExecOptions) (driver.Result, error) {
	return func(_ sshexec.Target, _ string, opts sshexec.ExecOptions) (driver.Result, error) {
		if opts.Output != nil {
			fmt.Fprint(opts.Output, "remote output\n")
		}
		return res, nil
	}
}

// --- handleRemoteExec ---

func TestHandleRemoteExec_MissingCommand(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host": "media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for missing command")
	}
	if !strings.Contains(resultText(result), "command") {
		t.Errorf("error should mention command, got: %s", resultText(result))
	}
}

func TestHandleRemoteExec_UnknownHost(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host":    "nope",
		"command": "uptime",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for unknown host")
	}
}

func TestHandleRemoteExec_Success(t *testing.T) {
	var gotTarget sshexec.Target
	var gotCommand string
	srv := newTestServer(t, WithExecFunc(func(tgt sshexec.Target, cmd string, opts sshexec.ExecOptions) (driver.Result, error) {
		gotTarget = tgt
		gotCommand = cmd
		if opts.Output != nil {
			fmt.Fprint(opts.Output, "Linux media 6.1\n")
		}
		return driver.Result{Success: true, ExitCode: 0}, nil
	}))

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"command": "uname -a",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}

	if gotTarget.Host != "media.local" || gotTarget.User != "alice" {
		t.Errorf("target = %+v, want media.local/alice", gotTarget)
	}
	if gotCommand != "uname -a" {
		t.Errorf("command = %q, want 'uname -a'", gotCommand)
	}

	m := resultJSON(t, result)
	if m["success"] != true {
		t.Errorf("success = %v, want true", m["success"])
	}
	if !strings.Contains(m["output"].(string), "Linux media") {
		t.Errorf("output missing remote text: %v", m["output"])
	}
}

func TestHandleRemoteExec_DefaultHost(t *testing.T) {
	// "media" is the sole enabled host; no host argument needed.
	srv := newTestServer(t, WithExecFunc(okExec(driver.Result{Success: true})))

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"command": "true",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Errorf("expected success with default host, got: %s", resultText(result))
	}
}

func TestHandleRemoteExec_AuthFailure(t *testing.T) {
	srv := newTestServer(t, WithExecFunc(okExec(driver.Result{ExitCode: sshexec.AuthFailureExitCode})))

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"command": "uptime",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Auth failure is a structured response, not a protocol error.
	if result.IsError {
		t.Fatalf("auth failure should be a normal result, got error: %s", resultText(result))
	}
	m := resultJSON(t, result)
	if m["auth_failed"] != true {
		t.Errorf("auth_failed = %v, want true", m["auth_failed"])
	}
	if m["success"] != false {
		t.Errorf("success = %v, want false", m["success"])
	}
}

func TestHandleRemoteExec_Timeout(t *testing.T) {
	srv := newTestServer(t, WithExecFunc(okExec(driver.Result{TimedOut: true, ExitCode: -1})))

	result, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"command": "sleep 9999",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := resultJSON(t, result)
	if m["timed_out"] != true {
		t.Errorf("timed_out = %v, want true", m["timed_out"])
	}
}

func TestHandleRemoteExec_TimeoutOverride(t *testing.T) {
	var gotTimeout time.Duration
	srv := newTestServer(t, WithExecFunc(func(_ sshexec.Target, _ string, opts sshexec.ExecOptions) (driver.Result, error) {
		gotTimeout = opts.Timeout
		return driver.Result{Success: true}, nil
	}))

	_, err := srv.handleRemoteExec(context.Background(), makeRequest(map[string]any{
		"host":       "media",
		"command":    "true",
		"timeout_ms": 2500,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTimeout != 2500*time.Millisecond {
		t.Errorf("timeout = %v, want 2.5s", gotTimeout)
	}
}

// --- handleConnectionTest ---

func TestHandleConnectionTest(t *testing.T) {
	srv := newTestServer(t, WithExecFunc(okExec(driver.Result{Success: true})))

	result, err := srv.handleConnectionTest(context.Background(), makeRequest(map[string]any{
		"host": "media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
	m := resultJSON(t, result)
	if m["ok"] != true {
		t.Errorf("ok = %v, want true", m["ok"])
	}
}

func TestHandleConnectionTest_Failure(t *testing.T) {
	srv := newTestServer(t, WithExecFunc(okExec(driver.Result{ExitCode: sshexec.AuthFailureExitCode})))

	result, err := srv.handleConnectionTest(context.Background(), makeRequest(map[string]any{
		"host": "media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for failed connection test")
	}
	if !strings.Contains(resultText(result), "password") {
		t.Errorf("auth failure message should mention password, got: %s", resultText(result))
	}
}

// --- handleRemoteCopy ---

func TestHandleRemoteCopy_Validation(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleRemoteCopy(context.Background(), makeRequest(map[string]any{
		"host": "media",
		"dest": "/srv/media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for missing sources")
	}

	result, err = srv.handleRemoteCopy(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"sources": "*.mp4",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for missing dest")
	}
}

func TestHandleRemoteCopy_NoPassword(t *testing.T) {
	// No password_env and no keyring: copy cannot authenticate.
	srv := newTestServer(t)

	result, err := srv.handleRemoteCopy(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"sources": "*.mp4",
		"dest":    "/srv/media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error when no password is available")
	}
}

func TestHandleRemoteCopy_Success(t *testing.T) {
	t.Setenv("TEST_MEDIA_PW", "hunter2")
	cfg := testConfig()
	cfg.Hosts[0].PasswordEnv = "TEST_MEDIA_PW"

	var gotPatterns []string
	var gotDest string
	srv := NewServer(cfg, WithPushFunc(func(opts transfer.Options, patterns []string, remoteDir string) (int, error) {
		if opts.Password != "hunter2" {
			t.Errorf("push password = %q, want env value", opts.Password)
		}
		gotPatterns = patterns
		gotDest = remoteDir
		return 3, nil
	}))

	result, err := srv.handleRemoteCopy(context.Background(), makeRequest(map[string]any{
		"host":    "media",
		"sources": "downloads/**/*.mp4 extra.mkv",
		"dest":    "/srv/media",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}

	if len(gotPatterns) != 2 || gotPatterns[0] != "downloads/**/*.mp4" || gotPatterns[1] != "extra.mkv" {
		t.Errorf("patterns = %v, want the two whitespace-split sources", gotPatterns)
	}
	if gotDest != "/srv/media" {
		t.Errorf("dest = %q, want /srv/media", gotDest)
	}

	m := resultJSON(t, result)
	if m["uploaded"] != float64(3) {
		t.Errorf("uploaded = %v, want 3", m["uploaded"])
	}
}

// --- handleListHosts ---

func TestHandleListHosts(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleListHosts(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}

	var hosts []map[string]any
	if jerr := json.Unmarshal([]byte(resultText(result)), &hosts); jerr != nil {
		t.Fatalf("parse host list: %v", jerr)
	}
	if len(hosts) != 2 {
		t.Fatalf("got %d hosts, want 2", len(hosts))
	}
	if hosts[0]["name"] != "media" || hosts[0]["enabled"] != true {
		t.Errorf("first host = %v", hosts[0])
	}
	if hosts[1]["enabled"] != false {
		t.Errorf("disabled host should report enabled=false: %v", hosts[1])
	}
}

// --- resolveHost / sessionTimeout ---

func TestResolveHostPasswordFromEnv(t *testing.T) {
	t.Setenv("TEST_RESOLVE_PW", "s3cr3t")
	cfg := testConfig()
	cfg.Hosts[0].PasswordEnv = "TEST_RESOLVE_PW"
	srv := NewServer(cfg)

	host, password, err := srv.resolveHost("media")
	if err != nil {
		t.Fatalf("resolveHost: %v", err)
	}
	if host.Name != "media" {
		t.Errorf("host = %q, want media", host.Name)
	}
	if password != "s3cr3t" {
		t.Errorf("password = %q, want env value", password)
	}
}

func TestSessionTimeout(t *testing.T) {
	srv := newTestServer(t)

	if got := srv.sessionTimeout(1500); got != 1500*time.Millisecond {
		t.Errorf("explicit timeout = %v, want 1.5s", got)
	}
	if got := srv.sessionTimeout(0); got != srv.cfg.Session.OverallTimeout {
		t.Errorf("default timeout = %v, want configured overall timeout", got)
	}
}

// --- Tool definitions ---

func TestToolDefinitions(t *testing.T) {
	tools := []struct {
		name string
		fn   func() mcpgo.Tool
	}{
		{"remoteExecTool", remoteExecTool},
		{"connectionTestTool", connectionTestTool},
		{"remoteCopyTool", remoteCopyTool},
		{"listHostsTool", listHostsTool},
	}
	for _, tt := range tools {
		t.Run(tt.name, func(t *testing.T) {
			tool := tt.fn()
			if tool.Name == "" {
				t.Errorf("%s: tool name is empty", tt.name)
			}
			if tool.Description == "" {
				t.Errorf("%s: tool description is empty", tt.name)
			}
		})
	}
}

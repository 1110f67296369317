// Package mcp exposes remote command execution as MCP tools over stdio, so
// agent frontends can trigger the same password-driven sessions the CLI
// runs.
package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hostwire/sshdrive/internal/config"
	"github.com/hostwire/sshdrive/internal/driver"
	"github.com/hostwire/sshdrive/internal/security"
	"github.com/hostwire/sshdrive/internal/sshexec"
	"github.com/hostwire/sshdrive/internal/transfer"
)

// Version is stamped at build time.
var Version = "dev"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	cfg       *config.Config
	keyring   *security.KeyringStore

	// Seams for tests; production wiring points at the real packages.
	execFn func(t sshexec.Target, cmd string, opts sshexec.ExecOptions) (driver.Result, error)
	pushFn func(opts transfer.Options, patterns []string, remoteDir string) (int, error)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithExecFunc overrides the remote execution function.
func WithExecFunc(fn func(sshexec.Target, string, sshexec.ExecOptions) (driver.Result, error)) ServerOption {
	return func(s *Server) { s.execFn = fn }
}

// WithPushFunc overrides the file transfer function.
func WithPushFunc(fn func(transfer.Options, []string, string) (int, error)) ServerOption {
	return func(s *Server) { s.pushFn = fn }
}

// NewServer creates an MCP server over the given configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		"sshdrive",
		Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		execFn:    sshexec.Execute,
		pushFn:    transfer.Push,
	}
	if cfg.Security.UseKeyring {
		s.keyring = security.NewKeyringStore()
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()

	return s
}

// Run serves MCP on stdio until the client disconnects.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a reloaded configuration.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")
	s.cfg = cfg
}

// resolveHost finds the host entry and its password. In server mode there is
// no interactive fallback; a missing password only matters for hosts that
// need one.
func (s *Server) resolveHost(name string) (*config.HostConfig, string, error) {
	host, err := s.cfg.Host(name)
	if err != nil {
		return nil, "", err
	}

	password := ""
	if host.PasswordEnv != "" {
		password = os.Getenv(host.PasswordEnv)
	}
	if password == "" && s.keyring != nil {
		if pw, kerr := s.keyring.Password(host.Name); kerr == nil {
			password = string(pw)
		}
	}
	return host, password, nil
}

// execOptions builds the per-call execution options from the configured
// session tunables.
func (s *Server) execOptions(password string, timeoutMs int, output io.Writer) sshexec.ExecOptions {
	return sshexec.ExecOptions{
		Password:          password,
		Timeout:           s.sessionTimeout(timeoutMs),
		PromptWait:        s.cfg.Session.PromptWait,
		FallbackSendAfter: s.cfg.Session.FallbackSendAfter,
		IdleAfterSend:     s.cfg.Session.IdleAfterSend,
		PollInterval:      s.cfg.Session.PollInterval,
		Output:            output,
	}
}

// sessionTimeout picks the effective overall deadline for one call.
func (s *Server) sessionTimeout(timeoutMs int) time.Duration {
	if timeoutMs > 0 {
		return time.Duration(timeoutMs) * time.Millisecond
	}
	if s.cfg.Session.OverallTimeout > 0 {
		return s.cfg.Session.OverallTimeout
	}
	return driver.DefaultTimeout
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

package mcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hostwire/sshdrive/internal/sshexec"
	"github.com/hostwire/sshdrive/internal/transfer"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(remoteExecTool(), s.handleRemoteExec)
	s.mcpServer.AddTool(connectionTestTool(), s.handleConnectionTest)
	s.mcpServer.AddTool(remoteCopyTool(), s.handleRemoteCopy)
	s.mcpServer.AddTool(listHostsTool(), s.handleListHosts)
}

// Tool definitions

func remoteExecTool() mcp.Tool {
	return mcp.NewTool("remote_exec",
		mcp.WithDescription("Execute a command on a configured remote host, driving password authentication automatically"),
		mcp.WithString("host",
			mcp.Description("Configured host name (defaults to the sole enabled host)"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The remote command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Overall session timeout in milliseconds (default: configured overall_timeout)"),
		),
	)
}

func connectionTestTool() mcp.Tool {
	return mcp.NewTool("connection_test",
		mcp.WithDescription("Verify SSH connectivity and credentials for a configured host"),
		mcp.WithString("host",
			mcp.Description("Configured host name (defaults to the sole enabled host)"),
		),
	)
}

func remoteCopyTool() mcp.Tool {
	return mcp.NewTool("remote_copy",
		mcp.WithDescription("Upload local files to a remote directory over SFTP; sources support ** globs"),
		mcp.WithString("host",
			mcp.Description("Configured host name (defaults to the sole enabled host)"),
		),
		mcp.WithString("sources",
			mcp.Required(),
			mcp.Description("Whitespace-separated local file patterns, e.g. 'downloads/**/*.mp4'"),
		),
		mcp.WithString("dest",
			mcp.Required(),
			mcp.Description("Remote destination directory"),
		),
	)
}

func listHostsTool() mcp.Tool {
	return mcp.NewTool("list_hosts",
		mcp.WithDescription("List configured remote hosts"),
	)
}

// Handlers

type execResponse struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	AuthFailed bool   `json:"auth_failed"`
	Output     string `json:"output,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleRemoteExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hostName := mcp.ParseString(req, "host", "")
	command := mcp.ParseString(req, "command", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)

	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	host, password, err := s.resolveHost(hostName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tgt := sshexec.Target{Host: host.Host, Port: host.Port, User: host.User}

	slog.Info("executing remote command",
		slog.String("host", host.Name),
		slog.String("command", command),
	)

	var output bytes.Buffer
	res, err := s.execFn(tgt, command, s.execOptions(password, timeoutMs, &output))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := execResponse{
		Success:  res.Success,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Output:   output.String(),
	}
	if cerr := sshexec.Classify(tgt, res); cerr != nil {
		resp.Message = cerr.Error()
		var authErr *sshexec.AuthError
		resp.AuthFailed = errors.As(cerr, &authErr)
	}
	return jsonResult(resp)
}

func (s *Server) handleConnectionTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hostName := mcp.ParseString(req, "host", "")

	host, password, err := s.resolveHost(hostName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tgt := sshexec.Target{Host: host.Host, Port: host.Port, User: host.User}
	res, err := s.execFn(tgt, `echo "connection test successful"`, s.execOptions(password, 0, nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if cerr := sshexec.Classify(tgt, res); cerr != nil {
		return mcp.NewToolResultError(cerr.Error()), nil
	}
	return jsonResult(map[string]any{"ok": true, "host": host.Name})
}

func (s *Server) handleRemoteCopy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hostName := mcp.ParseString(req, "host", "")
	sources := strings.Fields(mcp.ParseString(req, "sources", ""))
	dest := mcp.ParseString(req, "dest", "")

	if len(sources) == 0 {
		return mcp.NewToolResultError("sources is required"), nil
	}
	if dest == "" {
		return mcp.NewToolResultError("dest is required"), nil
	}

	host, password, err := s.resolveHost(hostName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if password == "" {
		return mcp.NewToolResultError("no password available for host " + host.Name), nil
	}

	n, err := s.pushFn(transfer.Options{
		Target:   sshexec.Target{Host: host.Host, Port: host.Port, User: host.User},
		Password: password,
	}, sources, dest)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"uploaded": n, "dest": dest})
}

func (s *Server) handleListHosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type hostInfo struct {
		Name    string `json:"name"`
		Host    string `json:"host"`
		User    string `json:"user"`
		Enabled bool   `json:"enabled"`
	}
	hosts := make([]hostInfo, 0, len(s.cfg.Hosts))
	for _, h := range s.cfg.Hosts {
		hosts = append(hosts, hostInfo{Name: h.Name, Host: h.Host, User: h.User, Enabled: h.Enabled})
	}
	return jsonResult(hosts)
}

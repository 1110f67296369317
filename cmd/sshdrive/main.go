// sshdrive runs commands on password-authenticated remote hosts by driving
// the system ssh binary over a PTY. It can also push files over SFTP and
// serve its tools over MCP for agent frontends.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hostwire/sshdrive/internal/config"
	"github.com/hostwire/sshdrive/internal/dialog"
	"github.com/hostwire/sshdrive/internal/logging"
	"github.com/hostwire/sshdrive/internal/mcp"
	"github.com/hostwire/sshdrive/internal/recording"
	"github.com/hostwire/sshdrive/internal/security"
	"github.com/hostwire/sshdrive/internal/sshexec"
	"github.com/hostwire/sshdrive/internal/transfer"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath   string
		hostName     string
		timeout      time.Duration
		debug        bool
		showVersion  bool
		testConn     bool
		copyDest     string
		savePassword bool
		mcpMode      bool
	)

	flag.StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	flag.StringVar(&hostName, "host", "", "Configured host name (defaults to the sole enabled host)")
	flag.DurationVar(&timeout, "timeout", 0, "Overall session timeout (overrides config)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&testConn, "test", false, "Test connectivity and credentials, then exit")
	flag.StringVar(&copyDest, "copy", "", "Copy the positional file patterns to this remote directory instead of running a command")
	flag.BoolVar(&savePassword, "save-password", false, "Prompt for the host's password and store it in the OS keyring")
	flag.BoolVar(&mcpMode, "mcp", false, "Serve tools over MCP on stdio")
	flag.Parse()

	if showVersion {
		fmt.Printf("sshdrive version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	if mcpMode {
		os.Exit(runMCP(cfg, configPath, debug))
	}

	host, err := cfg.Host(hostName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tgt := sshexec.Target{Host: host.Host, Port: host.Port, User: host.User}

	if savePassword {
		os.Exit(runSavePassword(host, tgt))
	}

	password, err := resolvePassword(cfg, host, tgt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	effTimeout := timeout
	if effTimeout <= 0 {
		effTimeout = cfg.Session.OverallTimeout
	}

	if testConn {
		os.Exit(runTest(tgt, password, effTimeout))
	}

	if copyDest != "" {
		os.Exit(runCopy(tgt, password, flag.Args(), copyDest))
	}

	remoteCmd := strings.Join(flag.Args(), " ")
	if remoteCmd == "" {
		remoteCmd = host.ScriptPath
	}
	if remoteCmd == "" {
		fmt.Fprintln(os.Stderr, "Error: no command given and host has no script_path")
		os.Exit(1)
	}

	os.Exit(runExec(cfg, host, tgt, password, remoteCmd, effTimeout))
}

// runExec executes the remote command and exits with its exit code.
func runExec(cfg *config.Config, host *config.HostConfig, tgt sshexec.Target, password, remoteCmd string, timeout time.Duration) int {
	var output io.Writer = os.Stdout
	var rec *recording.Recorder
	if cfg.Recording.Enabled {
		var err error
		rec, err = recording.New(cfg.Recording.Path, host.Name, 80, 24)
		if err != nil {
			slog.Warn("transcript recording disabled", slog.String("error", err.Error()))
		} else {
			output = io.MultiWriter(os.Stdout, rec)
		}
	}
	// os.Exit skips deferred calls; close the recorder before returning.
	closeRec := func() {
		if rec != nil {
			rec.Close()
			slog.Info("transcript saved", slog.String("path", rec.Path()))
		}
	}

	slog.Info("executing remote command",
		slog.String("dest", tgt.Dest()),
		slog.String("command", remoteCmd),
	)

	res, err := sshexec.Execute(tgt, remoteCmd, sshexec.ExecOptions{
		Password:          password,
		Timeout:           timeout,
		PromptWait:        cfg.Session.PromptWait,
		FallbackSendAfter: cfg.Session.FallbackSendAfter,
		IdleAfterSend:     cfg.Session.IdleAfterSend,
		PollInterval:      cfg.Session.PollInterval,
		Output:            output,
	})
	closeRec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cerr := sshexec.Classify(tgt, res); cerr != nil {
		var authErr *sshexec.AuthError
		if errors.As(cerr, &authErr) {
			fmt.Fprintf(os.Stderr, "\nAuthentication failed: %v\n", cerr)
		} else {
			fmt.Fprintf(os.Stderr, "\n%v\n", cerr)
		}
	}
	if res.ExitCode < 0 {
		return 1
	}
	return res.ExitCode
}

func runTest(tgt sshexec.Target, password string, timeout time.Duration) int {
	if err := sshexec.TestConnection(tgt, password, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Connection test failed: %v\n", err)
		return 1
	}
	fmt.Printf("Connection to %s OK\n", tgt.Dest())
	return 0
}

func runCopy(tgt sshexec.Target, password string, patterns []string, remoteDir string) int {
	if len(patterns) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -copy needs file patterns as arguments")
		return 1
	}
	n, err := transfer.Push(transfer.Options{Target: tgt, Password: password}, patterns, remoteDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transfer failed after %d file(s): %v\n", n, err)
		return 1
	}
	fmt.Printf("Uploaded %d file(s) to %s:%s\n", n, tgt.Dest(), remoteDir)
	return 0
}

func runSavePassword(host *config.HostConfig, tgt sshexec.Target) int {
	ks := security.NewKeyringStore()
	if !ks.IsEnabled() {
		fmt.Fprintln(os.Stderr, "Error: no OS keyring available")
		return 1
	}
	password, err := dialog.AskPassword(tgt.Dest())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	pw := []byte(password)
	defer security.WipeBytes(pw)
	if err := ks.StorePassword(host.Name, pw); err != nil {
		fmt.Fprintf(os.Stderr, "Error storing password: %v\n", err)
		return 1
	}
	fmt.Printf("Password for %s stored in keyring\n", host.Name)
	return 0
}

// resolvePassword finds the host's SSH password: environment variable first,
// then the OS keyring, then an interactive prompt. An empty result is valid
// and selects key-based authentication.
func resolvePassword(cfg *config.Config, host *config.HostConfig, tgt sshexec.Target) (string, error) {
	if host.PasswordEnv != "" {
		if pw := os.Getenv(host.PasswordEnv); pw != "" {
			slog.Debug("using password from environment", slog.String("var", host.PasswordEnv))
			return pw, nil
		}
	}

	if cfg.Security.UseKeyring {
		ks := security.NewKeyringStore()
		if pw, err := ks.Password(host.Name); err == nil {
			slog.Debug("using password from keyring", slog.String("host", host.Name))
			return string(pw), nil
		}
	}

	// A host without password_env is assumed to use keys; only prompt when
	// the config says a password is expected.
	if host.PasswordEnv == "" {
		return "", nil
	}

	pw, err := dialog.AskPassword(tgt.Dest())
	if err != nil {
		return "", err
	}
	return pw, nil
}

// runMCP serves the tools over stdio until the client disconnects.
func runMCP(cfg *config.Config, configPath string, debug bool) int {
	slog.Info("starting sshdrive MCP server", slog.String("version", Version))

	mcp.Version = Version
	server := mcp.NewServer(cfg)

	var watcher *config.Watcher
	if configPath != "" {
		var werr error
		watcher, werr = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if werr != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", werr.Error()))
		} else {
			slog.Info("config hot-reload enabled", slog.String("path", configPath))
			defer watcher.Close()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		if watcher != nil {
			watcher.Close()
		}
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

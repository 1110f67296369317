// Package transfer uploads files to a remote host over SFTP. Unlike command
// execution, which drives the system ssh binary, transfers use the ssh
// library directly: file copying needs no PTY theater, and the library path
// gives clean progress and error reporting per file.
package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hostwire/sshdrive/internal/sshexec"
)

// DefaultDialTimeout bounds the TCP/SSH handshake.
const DefaultDialTimeout = 30 * time.Second

// Options configures a transfer connection.
type Options struct {
	Target   sshexec.Target
	Password string
	KeyPath  string // path to a private key file; takes precedence over Password
	Timeout  time.Duration
}

// Client is an established SSH+SFTP connection.
type Client struct {
	sshConn *ssh.Client
	sftpCli *sftp.Client
}

// Connect dials the target and opens the SFTP subsystem.
func Connect(opts Options) (*Client, error) {
	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	cfg := &ssh.ClientConfig{
		User: opts.Target.User,
		Auth: auth,
		// Matches the exec path's StrictHostKeyChecking=no: these are
		// caller-owned hosts on a trusted network segment.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	port := opts.Target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Target.Host, strconv.Itoa(port))

	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sftpCli, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}

	return &Client{sshConn: conn, sftpCli: sftpCli}, nil
}

func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	if opts.KeyPath != "" {
		keyData, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", opts.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", opts.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if opts.Password != "" {
		password := opts.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			// Some sshd configs only offer keyboard-interactive; answer
			// every challenge with the same password.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	}

	return nil, fmt.Errorf("no authentication available: need a key path or password")
}

// Close tears down the SFTP and SSH connections.
func (c *Client) Close() error {
	var firstErr error
	if c.sftpCli != nil {
		firstErr = c.sftpCli.Close()
	}
	if c.sshConn != nil {
		if err := c.sshConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Upload copies one local file into remoteDir, creating the directory as
// needed. The remote name is the local basename.
func (c *Client) Upload(localPath, remoteDir string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := c.sftpCli.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("create remote dir %s: %w", remoteDir, err)
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	dst, err := c.sftpCli.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("copy to %s: %w", remotePath, err)
	}

	slog.Info("uploaded file",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int64("bytes", n),
	)
	return nil
}

// ExpandSources resolves local glob patterns (including doublestar `**`)
// into a flat file list. A pattern matching nothing is an error; silently
// uploading nothing hides typos.
func ExpandSources(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			// A literal path with no glob meta may still be a plain file.
			if info, serr := os.Stat(pattern); serr == nil && !info.IsDir() {
				files = append(files, pattern)
				continue
			}
			return nil, fmt.Errorf("pattern %q matched no files", pattern)
		}
		for _, m := range matches {
			info, serr := os.Stat(m)
			if serr != nil || info.IsDir() {
				continue
			}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to transfer")
	}
	return files, nil
}

// Push expands the patterns and uploads every match into remoteDir.
// Returns the number of files uploaded.
func Push(opts Options, patterns []string, remoteDir string) (int, error) {
	files, err := ExpandSources(patterns)
	if err != nil {
		return 0, err
	}

	client, err := Connect(opts)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	for i, f := range files {
		if err := client.Upload(f, remoteDir); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

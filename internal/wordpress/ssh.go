package wordpress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"wpsnapshots/internal/logger"
)

// SSHConfig represents SSH connection configuration
type SSHConfig struct {
	Hostname           string
	Username           string
	Port               string
	KeyPath            string
	UseAgent           bool
	Timeout            time.Duration
	KeepAlive          time.Duration
	DisableDefaultKeys bool
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
}

// SSHTransport runs commands on a remote host. Commands go through
// `bash -lc` so the login PATH (where wp usually lives) applies.
type SSHTransport struct {
	client   *ssh.Client
	hostname string
	done     chan struct{}
}

// NewSSHTransport opens a persistent SSH connection with agent and key auth.
func NewSSHTransport(config SSHConfig) (*SSHTransport, error) {
	if config.Port == "" {
		config.Port = "22"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 30 * time.Second
	}
	if config.Username == "" {
		config.Username = os.Getenv("USER")
	}

	var authMethods []ssh.AuthMethod

	if config.UseAgent {
		if agentAuth, err := getSSHAgent(); err == nil {
			authMethods = append(authMethods, agentAuth)
		} else {
			logger.Log.Debug().Err(err).Msg("ssh agent unavailable")
		}
	}

	if config.KeyPath != "" {
		keyAuth, err := getPublicKeyAuth(config.KeyPath)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}

	if !config.DisableDefaultKeys {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
			keyPath := filepath.Join(home, ".ssh", name)
			if config.KeyPath != "" && filepath.Clean(keyPath) == filepath.Clean(config.KeyPath) {
				continue
			}
			if _, err := os.Stat(keyPath); err == nil {
				if keyAuth, err := getPublicKeyAuth(keyPath); err == nil {
					authMethods = append(authMethods, keyAuth)
				}
			}
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no valid authentication methods found")
	}

	hostKeys, err := hostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeys,
		Timeout:         config.Timeout,
	}

	address := net.JoinHostPort(config.Hostname, config.Port)
	client, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	logger.Log.Debug().Str("address", address).Str("user", config.Username).Msg("ssh connected")

	t := &SSHTransport{client: client, hostname: config.Hostname, done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(config.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
					return
				}
			}
		}
	}()

	return t, nil
}

// hostKeyCallback verifies host keys against the known_hosts file.
func hostKeyCallback(config SSHConfig) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		logger.Log.Warn().Str("host", config.Hostname).Msg("ssh host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := config.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known hosts %s (pass --ssh-insecure to skip verification): %w", path, err)
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return fmt.Errorf("host key of %s is not in %s (add it with ssh-keyscan, or pass --ssh-insecure): %w", hostname, path, err)
		}
		return err
	}, nil
}

func getSSHAgent() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

func getPublicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

func (t *SSHTransport) Name() string { return "ssh:" + t.hostname }

// remoteCommand builds the bash -lc line for cmd.
func remoteCommand(cmd Command) string {
	var inner strings.Builder
	if cmd.Dir != "" {
		inner.WriteString("cd " + shellquote.Join(cmd.Dir) + " && ")
	}
	if len(cmd.Env) > 0 {
		inner.WriteString("env " + shellquote.Join(cmd.Env...) + " ")
	}
	inner.WriteString(shellquote.Join(cmd.Args...))
	return "bash -lc " + shellquote.Join(inner.String())
}

func (t *SSHTransport) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("empty command")
	}
	session, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	line := remoteCommand(cmd)
	logger.Log.Debug().Str("host", t.hostname).Str("command", line).Msg("running remote command")

	stderr := &limitedBuffer{max: 64 * 1024}
	session.Stdin = cmd.Stdin
	session.Stdout = cmd.Stdout
	if session.Stdout == nil {
		session.Stdout = io.Discard
	}
	session.Stderr = stderrWriter(cmd, stderr)

	if err := session.Start(line); err != nil {
		return fmt.Errorf("failed to start remote command: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ctx.Err()
	case err := <-waitErr:
		return sshExitError(cmd.Args, err, stderr.String())
	}
}

func sshExitError(args []string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Args: args, Code: exitErr.ExitStatus(), Stderr: stderr}
	}
	return fmt.Errorf("remote command failed: %w", err)
}

// sessionReader closes the session and checks the remote exit status once
// the stream has been consumed.
type sessionReader struct {
	io.Reader
	session *ssh.Session
	stderr  *bytes.Buffer
	args    []string
}

func (r *sessionReader) Close() error {
	err := r.session.Wait()
	r.session.Close()
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && tarChangedWarning(exitErr.ExitStatus(), r.stderr.String()) {
		logger.Log.Warn().Str("stderr", strings.TrimSpace(r.stderr.String())).Msg("remote tar reported non-fatal issue")
		return nil
	}
	return sshExitError(r.args, err, r.stderr.String())
}

func (t *SSHTransport) TarDir(ctx context.Context, dir string) (io.ReadCloser, string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	session.Stderr = stderr

	args := []string{"tar", "-cf", "-", "-C", dir, "."}
	line := remoteCommand(Command{Args: args})
	logger.Log.Debug().Str("host", t.hostname).Str("command", line).Msg("streaming remote directory")
	if err := session.Start(line); err != nil {
		session.Close()
		return nil, "", fmt.Errorf("failed to start tar command: %w", err)
	}

	return &sessionReader{Reader: stdout, session: session, stderr: stderr, args: args}, "", nil
}

func (t *SSHTransport) UntarDir(ctx context.Context, dir string, r io.Reader) error {
	return t.Run(ctx, Command{
		Args:  []string{"sh", "-c", "mkdir -p \"$0\" && tar -xf - -C \"$0\"", dir},
		Stdin: r,
	})
}

func (t *SSHTransport) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s through %s: %w", addr, t.hostname, err)
	}
	return conn, nil
}

// Close closes the SSH connection
func (t *SSHTransport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return t.client.Close()
}

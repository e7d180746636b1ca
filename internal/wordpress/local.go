package wordpress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/logger"
)

// LocalTransport runs commands on this machine.
type LocalTransport struct {
	dialer net.Dialer
}

// NewLocalTransport returns a transport for a WordPress install on this machine.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

func (t *LocalTransport) Name() string { return "local" }

func (t *LocalTransport) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("empty command")
	}
	logger.Log.Debug().Strs("args", cmd.Args).Str("dir", cmd.Dir).Msg("running local command")

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	stderr := &limitedBuffer{max: 64 * 1024}
	c.Stderr = stderrWriter(cmd, stderr)

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Args: cmd.Args, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("failed to run %s: %w", cmd.Args[0], err)
	}
	return nil
}

func (t *LocalTransport) TarDir(ctx context.Context, dir string) (io.ReadCloser, string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, "", fmt.Errorf("failed to access %s: %w", dir, err)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.Tar(pw, dir))
	}()
	return pr, "", nil
}

func (t *LocalTransport) UntarDir(ctx context.Context, dir string, r io.Reader) error {
	return archive.Untar(r, dir)
}

func (t *LocalTransport) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return t.dialer.DialContext(ctx, network, addr)
}

func (t *LocalTransport) Close() error { return nil }

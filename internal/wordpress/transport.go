// Package wordpress drives a WordPress install through WP-CLI and MySQL.
//
// A Transport decides where commands run: on this machine, inside a docker
// container, or on a remote host over SSH. Everything above it is the same
// for all three.
package wordpress

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
)

// Command is a process to run through a Transport.
type Command struct {
	Args []string
	// Dir is the working directory. Empty means the transport default.
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Transport runs commands and moves directory trees where WordPress lives.
type Transport interface {
	// Name identifies the transport in logs ("local", "docker:<name>", "ssh:<host>").
	Name() string
	Run(ctx context.Context, cmd Command) error
	// TarDir streams dir as a plain tar archive. Entry names may carry the
	// returned prefix, which callers strip.
	TarDir(ctx context.Context, dir string) (io.ReadCloser, string, error)
	// UntarDir extracts a plain tar stream into dir, creating it if needed.
	UntarDir(ctx context.Context, dir string, r io.Reader) error
	// DialContext opens a TCP connection from the WordPress host's point of view.
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	Close() error
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command '%s' exited with code %d", strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// tarChangedWarning reports whether tar failed only because files changed
// while being read.
func tarChangedWarning(code int, stderr string) bool {
	return code == 1 && strings.Contains(stderr, "file changed as we read it")
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.buf)
}

func stderrWriter(cmd Command, capture *limitedBuffer) io.Writer {
	if cmd.Stderr == nil {
		return capture
	}
	return io.MultiWriter(cmd.Stderr, capture)
}

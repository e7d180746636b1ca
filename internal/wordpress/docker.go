package wordpress

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"wpsnapshots/internal/logger"
)

// DockerTransport runs commands inside a running container through the
// Docker API (docker exec).
type DockerTransport struct {
	cli       *client.Client
	container string
	user      string
	dialer    net.Dialer
}

// NewDockerTransport connects to the Docker daemon from the environment and
// checks that the container is running.
func NewDockerTransport(ctx context.Context, containerName, user string) (*DockerTransport, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	info, err := cli.ContainerInspect(ctx, containerName)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerName, err)
	}
	if info.State == nil || !info.State.Running {
		cli.Close()
		return nil, fmt.Errorf("container %s is not running", containerName)
	}

	return &DockerTransport{cli: cli, container: containerName, user: user}, nil
}

func (t *DockerTransport) Name() string { return "docker:" + t.container }

func (t *DockerTransport) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("empty command")
	}
	logger.Log.Debug().Str("container", t.container).Strs("args", cmd.Args).Msg("running docker exec")

	execConfig := container.ExecOptions{
		User:         t.user,
		AttachStdin:  cmd.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		Env:          cmd.Env,
		WorkingDir:   cmd.Dir,
		Cmd:          cmd.Args,
	}

	execID, err := t.cli.ContainerExecCreate(ctx, t.container, execConfig)
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := t.cli.ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	stdinErr := make(chan error, 1)
	if cmd.Stdin != nil {
		go func() {
			_, err := io.Copy(resp.Conn, cmd.Stdin)
			if cerr := resp.CloseWrite(); err == nil {
				err = cerr
			}
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	stdout := cmd.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := &limitedBuffer{max: 64 * 1024}
	if _, err := stdcopy.StdCopy(stdout, stderrWriter(cmd, stderr), resp.Reader); err != nil {
		return fmt.Errorf("failed to read exec output: %w", err)
	}
	if err := <-stdinErr; err != nil {
		return fmt.Errorf("failed to write exec input: %w", err)
	}

	inspect, err := t.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return &ExitError{Args: cmd.Args, Code: inspect.ExitCode, Stderr: stderr.String()}
	}
	return nil
}

// TarDir uses the container archive endpoint. Entries are prefixed with the
// base name of dir.
func (t *DockerTransport) TarDir(ctx context.Context, dir string) (io.ReadCloser, string, error) {
	rc, _, err := t.cli.CopyFromContainer(ctx, t.container, dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to copy %s from container: %w", dir, err)
	}
	return rc, path.Base(strings.TrimRight(dir, "/")), nil
}

func (t *DockerTransport) UntarDir(ctx context.Context, dir string, r io.Reader) error {
	if err := t.Run(ctx, Command{Args: []string{"mkdir", "-p", dir}}); err != nil {
		return err
	}
	if err := t.cli.CopyToContainer(ctx, t.container, dir, r, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy archive into container: %w", err)
	}
	return nil
}

// DialContext resolves addr against the container's networks. A host that
// names another container (the usual compose database service) is dialed at
// that container's address.
func (t *DockerTransport) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	if net.ParseIP(host) == nil && host != "localhost" {
		if ip := t.containerIP(ctx, host); ip != "" {
			logger.Log.Debug().Str("host", host).Str("ip", ip).Msg("resolved database container")
			addr = net.JoinHostPort(ip, port)
		}
	}
	return t.dialer.DialContext(ctx, network, addr)
}

func (t *DockerTransport) containerIP(ctx context.Context, name string) string {
	info, err := t.cli.ContainerInspect(ctx, name)
	if err != nil || info.NetworkSettings == nil {
		return ""
	}
	for _, ep := range info.NetworkSettings.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

func (t *DockerTransport) Close() error {
	return t.cli.Close()
}

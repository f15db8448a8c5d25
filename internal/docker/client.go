package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// pingTimeout bounds a Ping against the daemon. Docker Desktop on macOS can
// take a few seconds to answer.
const pingTimeout = 5 * time.Second

const windowsPipe = `//./pipe/docker_engine`

// engine is the part of the Docker SDK client fwdport talks to.
type engine interface {
	ContainerLister
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

var _ engine = (*client.Client)(nil)

// Client discovers host ports held by running containers.
//
//	c, err := docker.NewClient()
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { ... }
//	ports, err := c.PublishedPorts(ctx, docker.PortFilter{})
type Client struct {
	api engine
}

// NewClient connects to the daemon named by DOCKER_HOST, or to the first
// platform socket that exists:
//
//	linux:   /var/run/docker.sock
//	darwin:  /var/run/docker.sock, ~/.docker/run/docker.sock
//	windows: npipe:////./pipe/docker_engine
//
// Errors are CLIErrors with ExitDockerNotRunning.
func NewClient() (*Client, error) {
	host := os.Getenv("DOCKER_HOST")
	if host == "" {
		var err error
		host, err = detectHost(runtime.GOOS)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
		}
	}

	api, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{api: api}, nil
}

func detectHost(goos string) (string, error) {
	if goos == "windows" {
		// Named pipes cannot be stat'ed.
		conn, err := net.DialTimeout("pipe", windowsPipe, time.Second)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", windowsPipe, err)
		}
		conn.Close()
		return "npipe://" + windowsPipe, nil
	}

	home, _ := os.UserHomeDir()
	candidates := socketCandidates(goos, home)
	if candidates == nil {
		return "", fmt.Errorf("unsupported platform: %s", goos)
	}
	return firstSocket(candidates, func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

// socketCandidates lists Unix socket paths to try on goos, most preferred
// first. It returns nil for platforms without a Unix socket default.
func socketCandidates(goos, home string) []string {
	switch goos {
	case "linux":
		return []string{"/var/run/docker.sock"}
	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home != "" {
			// Newer Docker Desktop releases only create this one.
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
		return paths
	default:
		return nil
	}
}

func firstSocket(paths []string, exists func(string) bool) (string, error) {
	for _, path := range paths {
		if exists(path) {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Ping checks that the daemon answers within pingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.api.Ping(ctx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; start Docker or run without --docker",
			err,
		)
	}
	return nil
}

// PublishedPorts returns the sorted, de-duplicated host ports published by
// running containers that match filter.
func (c *Client) PublishedPorts(ctx context.Context, filter PortFilter) ([]int, error) {
	return listPublishedPorts(ctx, c.api, filter)
}

// Close releases the connection. It is safe on a nil or closed client.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	err := c.api.Close()
	c.api = nil
	return err
}

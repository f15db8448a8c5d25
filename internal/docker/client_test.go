package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// fakeEngine answers Ping with pingErr and lists containers via fakeLister.
type fakeEngine struct {
	fakeLister
	pingErr error
	closed  int
}

func (f *fakeEngine) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeEngine) Close() error {
	f.closed++
	return nil
}

func TestSocketCandidates(t *testing.T) {
	assert.Equal(t, []string{"/var/run/docker.sock"}, socketCandidates("linux", "/home/u"))
	assert.Equal(t,
		[]string{"/var/run/docker.sock", "/Users/u/.docker/run/docker.sock"},
		socketCandidates("darwin", "/Users/u"),
	)
	assert.Equal(t, []string{"/var/run/docker.sock"}, socketCandidates("darwin", ""))
	assert.Nil(t, socketCandidates("plan9", "/usr/u"))
}

func TestFirstSocket(t *testing.T) {
	paths := []string{"/a.sock", "/b.sock"}

	host, err := firstSocket(paths, func(p string) bool { return p == "/b.sock" })
	require.NoError(t, err)
	assert.Equal(t, "unix:///b.sock", host)

	_, err = firstSocket(paths, func(string) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/a.sock")
}

func TestDetectHost_UnsupportedPlatform(t *testing.T) {
	_, err := detectHost("plan9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform")
}

func TestClient_Ping(t *testing.T) {
	c := &Client{api: &fakeEngine{}}
	assert.NoError(t, c.Ping(context.Background()))

	c = &Client{api: &fakeEngine{pingErr: errors.New("connection refused")}}
	err := c.Ping(context.Background())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDockerNotRunning, cliErr.Code)
	assert.Contains(t, cliErr.Message, "--docker")
}

func TestClient_PublishedPorts(t *testing.T) {
	api := &fakeEngine{fakeLister: fakeLister{containers: testContainers()}}
	c := &Client{api: api}

	ports, err := c.PublishedPorts(context.Background(), PortFilter{Protocol: model.ProtocolTCP})
	require.NoError(t, err)
	assert.Equal(t, []int{2222, 8080, 15432}, ports)
	assert.Equal(t, []string{"running"}, api.got.Filters.Get("status"))
}

func TestClient_Close(t *testing.T) {
	api := &fakeEngine{}
	c := &Client{api: api}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, api.closed)

	var nilClient *Client
	assert.NoError(t, nilClient.Close())
}


package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// fakeLister returns canned containers and records the options it saw.
type fakeLister struct {
	containers []container.Summary
	err        error
	got        container.ListOptions
}

func (f *fakeLister) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.got = options
	return f.containers, f.err
}

func testContainers() []container.Summary {
	return []container.Summary{
		{
			ID: "a",
			Ports: []container.Port{
				{PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
				{PrivatePort: 80, PublicPort: 8080, Type: "tcp", IP: "::"},
				{PrivatePort: 53, PublicPort: 5353, Type: "udp"},
				{PrivatePort: 9000, Type: "tcp"},
			},
		},
		{
			ID: "b",
			Ports: []container.Port{
				{PrivatePort: 5432, PublicPort: 15432, Type: "tcp"},
				{PrivatePort: 22, PublicPort: 2222, Type: "tcp"},
			},
		},
		{
			ID:     "c",
			Labels: map[string]string{LabelIgnore: "true"},
			Ports:  []container.Port{{PrivatePort: 22, PublicPort: 2200, Type: "tcp"}},
		},
	}
}

func TestPublishedPorts(t *testing.T) {
	ports := publishedPorts(testContainers(), "")
	assert.Equal(t, []int{2222, 5353, 8080, 15432}, ports)
}

func TestPublishedPorts_Protocol(t *testing.T) {
	assert.Equal(t, []int{5353}, publishedPorts(testContainers(), "udp"))
	assert.Equal(t, []int{2222, 8080, 15432}, publishedPorts(testContainers(), "tcp"))
}

func TestPublishedPorts_Empty(t *testing.T) {
	ports := publishedPorts(nil, "")
	assert.NotNil(t, ports)
	assert.Empty(t, ports)
}

func TestListPublishedPorts_Filters(t *testing.T) {
	lister := &fakeLister{containers: testContainers()}

	ports, err := listPublishedPorts(context.Background(), lister, PortFilter{
		Labels: map[string]string{"com.docker.compose.project": "web"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2222, 5353, 8080, 15432}, ports)

	assert.False(t, lister.got.All, "only running containers are listed")
	assert.Equal(t, []string{"running"}, lister.got.Filters.Get("status"))
	assert.Equal(t, []string{"com.docker.compose.project=web"}, lister.got.Filters.Get("label"))
}

func TestListPublishedPorts_Error(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}

	_, err := listPublishedPorts(context.Background(), lister, PortFilter{})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDockerNotRunning, cliErr.Code)
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]string{"": "", "tcp": "tcp", " UDP ": "udp"} {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProtocol("sctp")
	assert.Error(t, err)
}

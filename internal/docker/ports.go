package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// ContainerLister is the subset of the Docker SDK client used to discover
// published ports. The Docker SDK client satisfies it.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// PortFilter narrows which containers contribute published ports.
type PortFilter struct {
	// Labels restricts the listing to containers carrying every label.
	// An empty value matches any value of the key.
	Labels map[string]string

	// Protocol, when set, keeps only ports of that protocol ("tcp" or "udp").
	Protocol string
}

// ParseProtocol validates a --docker-protocol value. Empty means any.
func ParseProtocol(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "", model.ProtocolTCP, model.ProtocolUDP:
		return p, nil
	default:
		return "", fmt.Errorf("invalid protocol %q (valid: tcp, udp)", s)
	}
}

// listPublishedPorts lists running containers only; stopped ones do not hold
// their host ports. Containers labeled fwdport.ignore=true are skipped.
func listPublishedPorts(ctx context.Context, lister ContainerLister, filter PortFilter) ([]int, error) {
	filterArgs := filters.NewArgs(filters.Arg("status", "running"))
	for _, l := range labelFilterArgs(filter.Labels) {
		filterArgs.Add("label", l)
	}

	containers, err := lister.ContainerList(ctx, container.ListOptions{
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	return publishedPorts(containers, filter.Protocol), nil
}

// publishedPorts collects the public host ports of containers. Exposed but
// unpublished ports (PublicPort 0) are ignored.
func publishedPorts(containers []container.Summary, protocol string) []int {
	seen := make(map[int]struct{})
	for _, c := range containers {
		if isIgnored(c.Labels) {
			continue
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			if protocol != "" && p.Type != protocol {
				continue
			}
			seen[int(p.PublicPort)] = struct{}{}
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

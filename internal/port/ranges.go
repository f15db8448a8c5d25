package port

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// ParsePortRange parses a range written as "2200..2250", "2200-2250", or a
// single port "2200". The result is validated.
func ParsePortRange(s string) (model.PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.PortRange{}, fmt.Errorf("empty port range")
	}

	var fromStr, toStr string
	switch {
	case strings.Contains(s, ".."):
		fromStr, toStr, _ = strings.Cut(s, "..")
	case strings.Contains(s, "-"):
		fromStr, toStr, _ = strings.Cut(s, "-")
	default:
		fromStr, toStr = s, s
	}

	from, err := strconv.Atoi(strings.TrimSpace(fromStr))
	if err != nil {
		return model.PortRange{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(toStr))
	if err != nil {
		return model.PortRange{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}

	r := model.PortRange{From: from, To: to}
	if err := r.Validate(); err != nil {
		return model.PortRange{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	return r, nil
}

// ParsePortList parses a comma-separated list of ports and ranges, e.g.
// "8080,9000-9002". The result is sorted and de-duplicated.
func ParsePortList(s string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		r, err := ParsePortRange(item)
		if err != nil {
			return nil, err
		}
		for _, p := range r.Ports() {
			seen[p] = struct{}{}
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// SplitRange partitions r into n disjoint, contiguous ranges of nearly equal
// size. The scan command probes each part in its own goroutine; concurrent
// resolver runs can likewise take one part each so no two of them hand out
// the same replacement port.
//
// Returns an error if n < 1 or r has fewer than n ports.
func SplitRange(r model.PortRange, n int) ([]model.PortRange, error) {
	if n < 1 {
		return nil, fmt.Errorf("cannot split port range into %d parts", n)
	}
	total := r.Len()
	if total < n {
		return nil, fmt.Errorf("port range %s has %d ports, cannot split into %d parts", r, total, n)
	}

	parts := make([]model.PortRange, 0, n)
	size, extra := total/n, total%n
	start := r.From
	for i := 0; i < n; i++ {
		length := size
		// The first `extra` parts absorb the remainder one port each.
		if i < extra {
			length++
		}
		parts = append(parts, model.PortRange{From: start, To: start + length - 1})
		start += length
	}
	return parts, nil
}

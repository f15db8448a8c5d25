package docker

import (
	"fmt"
	"sort"
	"strings"
)

// Label keys read from containers. All share the "fwdport." prefix to keep
// them apart from labels set by Compose or IDE tooling.
const (
	// LabelPrefix is the common prefix for fwdport labels.
	LabelPrefix = "fwdport."

	// LabelIgnore excludes a container's published ports from the in-use set
	// when set to "true". Useful for a container that is about to be replaced
	// by the machine being resolved.
	LabelIgnore = LabelPrefix + "ignore"
)

// ParseLabelFilters parses "key=value" or bare "key" strings, as given to
// --docker-label, into a filter map. A bare key matches any value.
func ParseLabelFilters(specs []string) (map[string]string, error) {
	labels := make(map[string]string, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		key, value, _ := strings.Cut(spec, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid label filter %q: empty key", spec)
		}
		labels[key] = strings.TrimSpace(value)
	}
	return labels, nil
}

// labelFilterArgs converts a label filter map into Docker API "label"
// filter values, sorted for stable requests.
func labelFilterArgs(labels map[string]string) []string {
	args := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			args = append(args, k)
			continue
		}
		args = append(args, k+"="+v)
	}
	sort.Strings(args)
	return args
}

// isIgnored reports whether a container opted out via LabelIgnore.
func isIgnored(labels map[string]string) bool {
	return strings.EqualFold(labels[LabelIgnore], "true")
}

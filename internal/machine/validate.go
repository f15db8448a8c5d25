package machine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// ValidationError is one problem found in a configuration.
type ValidationError struct {
	// Field is the path of the offending value, e.g. "machines[0].networks[1]".
	Field string

	// Message describes what is wrong with it.
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Validate checks cfg for problems that make resolution impossible and
// returns them in file order. An empty result means the configuration is
// usable.
//
// Checks performed:
//   - at least one machine is declared
//   - machine names are valid and unique
//   - usable port ranges lie within 1-65535 and are ordered
//   - network types, forwarded ports, and protocols are valid
//   - remap keys and targets, and extra in-use ports, are valid port numbers
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if len(cfg.Machines) == 0 {
		errs = append(errs, ValidationError{
			Field:   "machines",
			Message: "at least one machine must be declared",
		})
	}

	names := make(map[string]int)
	for i := range cfg.Machines {
		m := &cfg.Machines[i]
		field := fmt.Sprintf("machines[%d]", i)

		if err := model.ValidateName(m.Name); err != nil {
			errs = append(errs, ValidationError{Field: field + ".name", Message: err.Error()})
		} else if first, dup := names[m.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate machine name %q (first declared at machines[%d])", m.Name, first),
			})
		} else {
			names[m.Name] = i
		}

		if !m.UsablePortRange.IsZero() {
			if err := m.UsablePortRange.Validate(); err != nil {
				errs = append(errs, ValidationError{Field: field + ".usable_port_range", Message: err.Error()})
			}
		}

		for j := range m.Networks {
			if err := m.Networks[j].Validate(); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.networks[%d]", field, j),
					Message: err.Error(),
				})
			}
		}
	}

	for _, p := range cfg.Collision.ExtraInUse {
		if !validPort(p) {
			errs = append(errs, ValidationError{
				Field:   "collision.extra_in_use",
				Message: fmt.Sprintf("port %d out of range (%d-%d)", p, model.MinPort, model.MaxPort),
			})
		}
	}

	for _, key := range sortedRemapKeys(cfg.Collision.Remap) {
		field := fmt.Sprintf("collision.remap[%s]", key)
		from, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || !validPort(from) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("remap key %q is not a valid port", key)})
			continue
		}
		if to := cfg.Collision.Remap[key]; !validPort(to) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("remap target %d out of range (%d-%d)", to, model.MinPort, model.MaxPort),
			})
		}
	}

	return errs
}

// Warnings reports suspicious but resolvable configuration, currently
// forwarded-port rules within one machine that declare the same host port
// and protocol. Such rules are not treated as colliding with each other; a
// later duplicate is only moved when the port probes open.
func Warnings(cfg *Config) []ValidationError {
	var warns []ValidationError

	for i := range cfg.Machines {
		m := &cfg.Machines[i]
		seen := make(map[string]int)
		for j := range m.Networks {
			rule := &m.Networks[j]
			if !rule.IsForwardedPort() {
				continue
			}
			key := fmt.Sprintf("%s:%d/%s", rule.HostIP, rule.HostPort, rule.Proto())
			if first, dup := seen[key]; dup {
				warns = append(warns, ValidationError{
					Field: fmt.Sprintf("machines[%d].networks[%d]", i, j),
					Message: fmt.Sprintf("host port %d is also declared by networks[%d] of machine %q",
						rule.HostPort, first, m.Name),
				})
				continue
			}
			seen[key] = j
		}
	}

	return warns
}

func validPort(p int) bool {
	return p >= model.MinPort && p <= model.MaxPort
}

func sortedRemapKeys(remap map[string]int) []string {
	keys := make([]string, 0, len(remap))
	for k := range remap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package model defines the domain types for the fwdport CLI.
//
// A Machine declares a list of network rules. Rules of type
// "forwarded_port" map a guest port to a host port; those are the only rules
// the collision resolver looks at. Everything in this package is plain data:
// values are decoded from a machine configuration file, resolved in memory,
// and written back out.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// NetworkType identifies the kind of a machine network rule.
type NetworkType string

const (
	// NetworkForwardedPort maps a guest port to a port on the host.
	NetworkForwardedPort NetworkType = "forwarded_port"

	// NetworkPrivate attaches the machine to a host-only network.
	NetworkPrivate NetworkType = "private_network"

	// NetworkPublic bridges the machine onto a host interface.
	NetworkPublic NetworkType = "public_network"
)

// String returns the string representation of NetworkType.
func (t NetworkType) String() string {
	return string(t)
}

// IsValid checks whether the NetworkType is one of the known types.
func (t NetworkType) IsValid() bool {
	switch t {
	case NetworkForwardedPort, NetworkPrivate, NetworkPublic:
		return true
	default:
		return false
	}
}

// ParseNetworkType converts a string to a NetworkType. Hyphenated spellings
// ("forwarded-port") are accepted.
func ParseNetworkType(s string) (NetworkType, error) {
	t := NetworkType(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid network type: %q (valid: forwarded_port, private_network, public_network)", s)
	}
	return t, nil
}

// Protocols supported by forwarded-port rules.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

const (
	// MinPort and MaxPort bound every guest and host port number.
	MinPort = 1
	MaxPort = 65535
)

// DefaultPortRange is the candidate range used for repairs when a machine
// does not configure one.
var DefaultPortRange = PortRange{From: 2200, To: 2250}

// PortRange is an inclusive range of host ports.
type PortRange struct {
	From int `yaml:"from" json:"from" toml:"from"`
	To   int `yaml:"to" json:"to" toml:"to"`
}

// IsZero reports whether the range was left unset.
func (r PortRange) IsZero() bool {
	return r.From == 0 && r.To == 0
}

// Validate checks that both bounds are valid ports and From <= To.
func (r PortRange) Validate() error {
	if r.From < MinPort || r.From > MaxPort {
		return fmt.Errorf("port range: start %d out of range (%d-%d)", r.From, MinPort, MaxPort)
	}
	if r.To < MinPort || r.To > MaxPort {
		return fmt.Errorf("port range: end %d out of range (%d-%d)", r.To, MinPort, MaxPort)
	}
	if r.From > r.To {
		return fmt.Errorf("port range: start %d is greater than end %d", r.From, r.To)
	}
	return nil
}

// Len returns the number of ports in the range, or 0 for an inverted range.
func (r PortRange) Len() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Contains reports whether port lies inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.From && port <= r.To
}

// Ports expands the range into an ascending slice of port numbers.
func (r PortRange) Ports() []int {
	ports := make([]int, 0, r.Len())
	for p := r.From; p <= r.To; p++ {
		ports = append(ports, p)
	}
	return ports
}

// String formats the range as "from..to".
func (r PortRange) String() string {
	return fmt.Sprintf("%d..%d", r.From, r.To)
}

// NetworkRule is one entry of a machine's network configuration.
//
// For forwarded ports GuestPort and HostPort are required. HostPort is the
// only field the collision resolver ever rewrites.
type NetworkRule struct {
	Type NetworkType `yaml:"type" json:"type" toml:"type"`

	// ID optionally names the rule (e.g. "ssh") for messages.
	ID string `yaml:"id,omitempty" json:"id,omitempty" toml:"id,omitempty"`

	GuestPort int `yaml:"guest,omitempty" json:"guest,omitempty" toml:"guest,omitempty"`
	HostPort  int `yaml:"host,omitempty" json:"host,omitempty" toml:"host,omitempty"`

	// HostIP is the host address the port is bound to. Empty or 0.0.0.0
	// means every interface.
	HostIP string `yaml:"host_ip,omitempty" json:"host_ip,omitempty" toml:"host_ip,omitempty"`

	// Protocol is "tcp" or "udp". Defaults to "tcp".
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty" toml:"protocol,omitempty"`

	// AutoCorrect overrides the run's repair flag for this rule. nil
	// inherits it; false never repairs this rule.
	AutoCorrect *bool `yaml:"auto_correct,omitempty" json:"auto_correct,omitempty" toml:"auto_correct,omitempty"`

	// IP is the machine address for private and public networks.
	IP string `yaml:"ip,omitempty" json:"ip,omitempty" toml:"ip,omitempty"`
}

// IsForwardedPort reports whether the rule is a forwarded-port mapping.
func (r *NetworkRule) IsForwardedPort() bool {
	return r.Type == NetworkForwardedPort
}

// CanAutoCorrect reports whether a collision on this rule may be repaired
// given the run-wide repair flag.
func (r *NetworkRule) CanAutoCorrect(repair bool) bool {
	if !repair {
		return false
	}
	if r.AutoCorrect != nil {
		return *r.AutoCorrect
	}
	return true
}

// Validate checks port numbers and protocol of a forwarded-port rule.
// Other rule types only need a known Type. The rule is not modified.
func (r *NetworkRule) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("network rule: invalid type %q", r.Type)
	}
	if !r.IsForwardedPort() {
		return nil
	}
	if r.GuestPort < MinPort || r.GuestPort > MaxPort {
		return fmt.Errorf("forwarded port %s: guest port %d out of range (%d-%d)", r.Name(), r.GuestPort, MinPort, MaxPort)
	}
	if r.HostPort < MinPort || r.HostPort > MaxPort {
		return fmt.Errorf("forwarded port %s: host port %d out of range (%d-%d)", r.Name(), r.HostPort, MinPort, MaxPort)
	}
	if proto := r.Proto(); proto != ProtocolTCP && proto != ProtocolUDP {
		return fmt.Errorf("forwarded port %s: invalid protocol %q (valid: tcp, udp)", r.Name(), r.Protocol)
	}
	return nil
}

// Proto returns the rule's protocol, "tcp" when unset.
func (r *NetworkRule) Proto() string {
	if r.Protocol == "" {
		return ProtocolTCP
	}
	return r.Protocol
}

// Name returns the rule ID, or "guest/protocol" when no ID is set.
func (r *NetworkRule) Name() string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("%d/%s", r.GuestPort, r.Proto())
}

// String returns a human-readable representation of a forwarded port.
// Format: "guest => host/protocol" (with the host IP when set).
func (r *NetworkRule) String() string {
	if r.HostIP != "" {
		return fmt.Sprintf("%d => %s:%d/%s", r.GuestPort, r.HostIP, r.HostPort, r.Proto())
	}
	return fmt.Sprintf("%d => %d/%s", r.GuestPort, r.HostPort, r.Proto())
}

// Machine is one virtual machine and its declared network rules.
type Machine struct {
	Name string `yaml:"name" json:"name" toml:"name"`

	// UsablePortRange is the candidate pool for repairs. Zero means
	// DefaultPortRange.
	UsablePortRange PortRange `yaml:"usable_port_range,omitempty" json:"usable_port_range,omitempty" toml:"usable_port_range,omitempty"`

	Networks []NetworkRule `yaml:"networks,omitempty" json:"networks,omitempty" toml:"networks,omitempty"`
}

// ForwardedPorts returns pointers to the machine's forwarded-port rules in
// declaration order. Writes through the pointers update Networks.
func (m *Machine) ForwardedPorts() []*NetworkRule {
	var rules []*NetworkRule
	for i := range m.Networks {
		if m.Networks[i].IsForwardedPort() {
			rules = append(rules, &m.Networks[i])
		}
	}
	return rules
}

// PortRange returns the configured usable range, or DefaultPortRange.
func (m *Machine) PortRange() PortRange {
	if m.UsablePortRange.IsZero() {
		return DefaultPortRange
	}
	return m.UsablePortRange
}

// UsablePorts expands the machine's usable range into candidate ports.
func (m *Machine) UsablePorts() []int {
	return m.PortRange().Ports()
}

// HostPorts returns the host port of every forwarded-port rule, in order.
func (m *Machine) HostPorts() []int {
	var ports []int
	for _, r := range m.ForwardedPorts() {
		ports = append(ports, r.HostPort)
	}
	return ports
}

// nameRegex validates machine names: alphanumeric, hyphens and underscores,
// starting and ending with an alphanumeric character.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

// ValidateName checks if the given name is a valid machine name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("machine name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid machine name %q: must contain only alphanumeric characters, hyphens and underscores, and start/end with alphanumeric", name)
	}
	return nil
}

// ExitCode defines the CLI exit codes. Scripts can rely on these to tell a
// port collision apart from an exhausted pool or a broken config file.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigNotFound indicates no machine configuration file was found.
	ExitConfigNotFound ExitCode = 2

	// ExitConfigInvalid indicates the configuration could not be parsed or
	// failed validation.
	ExitConfigInvalid ExitCode = 3

	// ExitPortCollision indicates a host port is in use and repair was not
	// allowed.
	ExitPortCollision ExitCode = 4

	// ExitNoUsablePorts indicates repair was enabled but the usable port
	// pool ran out.
	ExitNoUsablePorts ExitCode = 5

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 6
)

// CLIError is an error that carries an exit code.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message, followed by the underlying error when set.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

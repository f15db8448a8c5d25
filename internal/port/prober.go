package port

import (
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single connect attempt. Loopback connections
// are answered (or refused) almost immediately, so a short timeout only
// matters for host IPs that silently drop packets.
const DefaultProbeTimeout = 500 * time.Millisecond

// loopbackV4 is probed for rules that bind every interface.
const loopbackV4 = "127.0.0.1"

// dialFunc matches net.DialTimeout. Tests replace it to observe dial targets.
type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Prober checks whether a TCP listener is accepting connections on a host
// port.
//
// Unlike a bind check, a connect probe does not need the port to be bindable
// by this process, so it also sees listeners owned by other users and
// listeners bound to a single interface.
type Prober struct {
	// Timeout bounds each connect attempt. Zero means DefaultProbeTimeout.
	Timeout time.Duration

	dial dialFunc
}

// NewProber creates a Prober with the given per-port timeout. A
// non-positive timeout selects DefaultProbeTimeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		Timeout: timeout,
		dial:    net.DialTimeout,
	}
}

// IsPortOpen reports whether a TCP connection to host:port succeeds.
//
// Connection refused, timeouts, and every other dial error are treated as
// "not open". The host is normalized with ProbeHost first, so wildcard
// addresses are probed through loopback.
func (p *Prober) IsPortOpen(host string, port int) bool {
	if port < 1 || port > 65535 {
		return false
	}

	dial := p.dial
	if dial == nil {
		dial = net.DialTimeout
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	addr := net.JoinHostPort(ProbeHost(host), strconv.Itoa(port))
	conn, err := dial("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// OpenPorts probes every port in [startPort, endPort] (inclusive) on host
// and returns the ones that accepted a connection, in ascending order.
//
// Used by `fwdport scan` to show which candidate ports are already taken.
func (p *Prober) OpenPorts(host string, startPort, endPort int) []int {
	var open []int
	for port := startPort; port <= endPort; port++ {
		if p.IsPortOpen(host, port) {
			open = append(open, port)
		}
	}
	return open
}

// ProbeHost maps a rule's host IP to the address that should be probed.
// Empty and wildcard addresses become loopback; "localhost" is pinned to
// IPv4 loopback so the result does not depend on resolver order.
func ProbeHost(host string) string {
	switch host {
	case "", "0.0.0.0", "localhost":
		return loopbackV4
	case "::", "[::]":
		return "::1"
	default:
		return host
	}
}

// ProberFunc adapts a plain function to the probe interface used by the
// collision resolver.
type ProberFunc func(host string, port int) bool

// IsPortOpen calls f(host, port).
func (f ProberFunc) IsPortOpen(host string, port int) bool {
	return f(host, port)
}

// Package docker wraps the Docker Engine SDK for the fwdport CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Discovery of host ports published by running containers, so they can
//     be treated as in use when resolving forwarded ports
//   - Label filters that narrow or exclude containers from that discovery
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker

// Package collision detects and repairs forwarded-port collisions.
//
// A Resolver walks a machine's forwarded-port rules in declaration order and
// decides, for each one, whether the requested host port is free. A port is
// taken when it is listed in Options.ExtraInUse or when the Prober reports a
// listener on it. Taken ports either fail the run or, with repair enabled,
// are replaced by the smallest port left in the usable pool:
//
//	r := collision.NewResolver(port.NewProber(0), collision.Options{Repair: true})
//	r.OnRepair = func(rep collision.Repair) { fmt.Println(rep) }
//	repairs, err := r.ResolveMachine(machine)
//
// The pool is built as the usable range minus ExtraInUse minus every host
// port declared by the machine, so a repair never steals a port that a later
// rule asked for by name.
//
// Rules sharing a declared host port are not flagged by the pre-reservation
// step; the later rule is probed like any other and collides only if the
// port is actually occupied at probe time.
package collision

import (
	"fmt"

	"github.com/shinji-kodama/fwdport/internal/model"
	"github.com/shinji-kodama/fwdport/internal/port"
)

// Prober reports whether a TCP listener accepts connections on host:port.
// Implementations must return false, not fail, for closed ports.
type Prober interface {
	IsPortOpen(host string, port int) bool
}

// Options controls one resolution run. The zero value fails on any
// collision and has no overrides.
type Options struct {
	// Repair reassigns colliding host ports instead of failing.
	Repair bool

	// ExtraInUse lists host ports treated as occupied without probing.
	ExtraInUse []int

	// Remap overrides a declared host port before the collision check.
	Remap map[int]int

	// ProbeCandidates probes replacement ports before handing them out and
	// skips ones that are open.
	ProbeCandidates bool
}

// Repair records one reassigned host port.
type Repair struct {
	Machine     string `json:"machine"`
	RuleID      string `json:"id,omitempty"`
	GuestPort   int    `json:"guestPort"`
	OldHostPort int    `json:"oldHostPort"`
	NewHostPort int    `json:"newHostPort"`
}

// String formats the repair the way it is shown to users.
func (r Repair) String() string {
	return fmt.Sprintf("fixed port collision for %d => %d, now on port %d", r.GuestPort, r.OldHostPort, r.NewHostPort)
}

// RepairFunc is called once per repaired rule, in resolution order.
type RepairFunc func(Repair)

// Resolver applies Options to forwarded-port rules.
type Resolver struct {
	prober Prober
	opts   Options

	// OnRepair, when set, is notified of every repair as it happens.
	OnRepair RepairFunc

	// Logf, when set, receives debug messages about pool construction,
	// remaps, collisions, and repairs.
	Logf func(format string, args ...interface{})
}

// NewResolver creates a Resolver. A nil prober falls back to a TCP
// connect probe with the default timeout.
func NewResolver(prober Prober, opts Options) *Resolver {
	if prober == nil {
		prober = port.NewProber(port.DefaultProbeTimeout)
	}
	return &Resolver{
		prober: prober,
		opts:   opts,
	}
}

// Options returns the options the resolver was created with.
func (r *Resolver) Options() Options {
	return r.opts
}

// ResolveMachine resolves the forwarded ports of m against its usable port
// range, rewriting m.Networks in place.
func (r *Resolver) ResolveMachine(m *model.Machine) ([]Repair, error) {
	return r.Resolve(m.Name, m.ForwardedPorts(), m.UsablePorts())
}

// ResolveMachines resolves several machines one after another. The final
// host ports of each resolved machine are treated as in use for the
// machines after it, so no two machines end up with the same host port.
//
// On failure the repairs made so far are returned with the error.
func (r *Resolver) ResolveMachines(machines []*model.Machine) ([]Repair, error) {
	var all []Repair
	claimed := append([]int(nil), r.opts.ExtraInUse...)

	for _, m := range machines {
		opts := r.opts
		opts.ExtraInUse = claimed

		sub := &Resolver{prober: r.prober, opts: opts, OnRepair: r.OnRepair, Logf: r.Logf}
		repairs, err := sub.ResolveMachine(m)
		all = append(all, repairs...)
		if err != nil {
			return all, err
		}
		claimed = append(claimed, m.HostPorts()...)
	}
	return all, nil
}

// Resolve checks rules in order and repairs or rejects collisions.
//
// Rules are mutated in place: a remapped rule takes its remapped host port
// before the collision check, whatever the outcome, and a repaired rule takes
// the replacement port. Rules that are not forwarded ports are ignored. On
// failure the offending rule gets no replacement, earlier repairs stay
// applied, and the repairs made so far are returned with the error, which is
// a *PortCollisionError or a *NoUsablePortsError.
func (r *Resolver) Resolve(machine string, rules []*model.NetworkRule, usable []int) ([]Repair, error) {
	forwarded := make([]*model.NetworkRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil && rule.IsForwardedPort() {
			forwarded = append(forwarded, rule)
		}
	}

	extraInUse := make(map[int]struct{}, len(r.opts.ExtraInUse))
	for _, p := range r.opts.ExtraInUse {
		extraInUse[p] = struct{}{}
	}

	// Pass one: candidate pool = usable range minus extra in-use ports.
	pool := port.NewPool(usable)
	pool.Subtract(r.opts.ExtraInUse)
	r.logf("machine %s: %d usable ports after excluding %d extra in-use ports", machine, pool.Len(), len(extraInUse))

	// Pass two: every declared host port is reserved, even for rules that
	// have not been visited yet, along with the port it is remapped to.
	for _, rule := range forwarded {
		if pool.Remove(rule.HostPort) {
			r.logf("machine %s: reserved declared host port %d", machine, rule.HostPort)
		}
		if remapped, ok := r.opts.Remap[rule.HostPort]; ok && pool.Remove(remapped) {
			r.logf("machine %s: reserved remap target %d", machine, remapped)
		}
	}

	// Pass three: detect and handle collisions in declaration order.
	var repairs []Repair
	for _, rule := range forwarded {
		hostPort := rule.HostPort
		if remapped, ok := r.opts.Remap[hostPort]; ok {
			r.logf("machine %s: remap port override %d => %d", machine, hostPort, remapped)
			hostPort = remapped
			rule.HostPort = remapped
		}

		if !r.inUse(extraInUse, rule.HostIP, hostPort) {
			continue
		}
		r.logf("machine %s: host port %d for guest port %d is in use", machine, hostPort, rule.GuestPort)

		if !rule.CanAutoCorrect(r.opts.Repair) {
			return repairs, &PortCollisionError{GuestPort: rule.GuestPort, HostPort: hostPort}
		}

		replacement, ok := r.takeReplacement(pool, rule.HostIP)
		if !ok {
			return repairs, &NoUsablePortsError{Machine: machine, GuestPort: rule.GuestPort, HostPort: hostPort}
		}

		rule.HostPort = replacement
		rep := Repair{
			Machine:     machine,
			RuleID:      rule.ID,
			GuestPort:   rule.GuestPort,
			OldHostPort: hostPort,
			NewHostPort: replacement,
		}
		repairs = append(repairs, rep)
		r.logf("machine %s: repaired collision %d => %d", machine, hostPort, replacement)

		if r.OnRepair != nil {
			r.OnRepair(rep)
		}
	}

	return repairs, nil
}

// inUse reports whether hostPort collides: listed as extra in use, or open
// according to the prober. Extra in-use ports are never probed.
func (r *Resolver) inUse(extraInUse map[int]struct{}, hostIP string, hostPort int) bool {
	if _, ok := extraInUse[hostPort]; ok {
		return true
	}
	return r.prober.IsPortOpen(hostIP, hostPort)
}

// takeReplacement removes and returns the smallest pool port. With
// ProbeCandidates, open candidates are discarded until a closed one is found.
func (r *Resolver) takeReplacement(pool *port.Pool, hostIP string) (int, bool) {
	for {
		candidate, ok := pool.TakeSmallest()
		if !ok {
			return 0, false
		}
		if !r.opts.ProbeCandidates || !r.prober.IsPortOpen(hostIP, candidate) {
			return candidate, true
		}
		r.logf("replacement port %d is also in use, trying another", candidate)
	}
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

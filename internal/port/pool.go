package port

import "sort"

// Pool is the set of candidate host ports available for repairs.
//
// A Pool only shrinks: ports are removed when reserved by a declared
// mapping or handed out as a replacement, and never re-added. It is not safe
// for concurrent use; each resolution run owns its own Pool.
type Pool struct {
	// sorted holds every port the pool started with, ascending. Removed
	// ports stay in the slice; members is the source of truth.
	sorted []int

	// next indexes the first entry of sorted that may still be a member.
	// Everything before it is known to be removed.
	next int

	members map[int]struct{}
}

// NewPool creates a pool from the given ports. Duplicates are collapsed and
// order does not matter.
func NewPool(ports []int) *Pool {
	members := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		members[p] = struct{}{}
	}

	sorted := make([]int, 0, len(members))
	for p := range members {
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)

	return &Pool{
		sorted:  sorted,
		members: members,
	}
}

// Subtract removes every given port that is in the pool.
func (p *Pool) Subtract(ports []int) {
	for _, port := range ports {
		p.Remove(port)
	}
}

// Remove deletes port from the pool. It reports whether the port was
// present.
func (p *Pool) Remove(port int) bool {
	if _, ok := p.members[port]; !ok {
		return false
	}
	delete(p.members, port)
	return true
}

// Contains reports whether port is still available.
func (p *Pool) Contains(port int) bool {
	_, ok := p.members[port]
	return ok
}

// Len returns the number of ports still available.
func (p *Pool) Len() int {
	return len(p.members)
}

// Empty reports whether no ports remain.
func (p *Pool) Empty() bool {
	return len(p.members) == 0
}

// Smallest returns the numerically smallest remaining port without
// removing it.
func (p *Pool) Smallest() (int, bool) {
	for p.next < len(p.sorted) {
		candidate := p.sorted[p.next]
		if _, ok := p.members[candidate]; ok {
			return candidate, true
		}
		p.next++
	}
	return 0, false
}

// TakeSmallest removes and returns the numerically smallest remaining port.
// The boolean is false when the pool is empty.
func (p *Pool) TakeSmallest() (int, bool) {
	port, ok := p.Smallest()
	if !ok {
		return 0, false
	}
	delete(p.members, port)
	p.next++
	return port, true
}

// Ports returns the remaining ports in ascending order.
func (p *Pool) Ports() []int {
	ports := make([]int, 0, len(p.members))
	for _, candidate := range p.sorted[p.next:] {
		if _, ok := p.members[candidate]; ok {
			ports = append(ports, candidate)
		}
	}
	return ports
}

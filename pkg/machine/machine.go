// Package machine provides the process-wide registry of vending machines
// and the actuator interface used to command physical dispenses.
package machine

import (
	"fmt"
	"sync/atomic"
)

// Machine is one networked vending machine in the fleet. Machines are
// created at startup and live for the process lifetime; only the
// connectivity flag mutates after construction.
type Machine struct {
	// Alias is the short identifier clients select with MACHINE
	// (e.g. "d", "ld", "s").
	Alias string

	// DisplayName is the human label used in welcome lines.
	DisplayName string

	// Actuator commands the machine's physical dispense hardware.
	Actuator Actuator

	connected atomic.Bool
}

// Connected reports whether the actuator link is currently healthy.
func (m *Machine) Connected() bool {
	return m.connected.Load()
}

// SetConnected records actuator link health. Called by the link monitor,
// read-only to everything else.
func (m *Machine) SetConnected(up bool) {
	m.connected.Store(up)
}

// Registry is the static fleet of machines plus the mapping from client
// source address to default machine alias. Populated once at startup and
// read-mostly thereafter, so no lock is needed: the only mutable field
// is each machine's atomic connectivity flag.
type Registry struct {
	machines      map[string]*Machine
	addrToAlias   map[string]string
	fallbackAlias string
}

// NewRegistry creates an empty registry with the given fallback alias,
// used when a peer address has no mapping.
func NewRegistry(fallbackAlias string) *Registry {
	return &Registry{
		machines:      make(map[string]*Machine),
		addrToAlias:   make(map[string]string),
		fallbackAlias: fallbackAlias,
	}
}

// Add registers a machine. It returns an error on a duplicate alias so
// a misconfigured fleet fails at startup, not at drop time.
func (r *Registry) Add(m *Machine) error {
	if _, ok := r.machines[m.Alias]; ok {
		return fmt.Errorf("duplicate machine alias %q", m.Alias)
	}
	r.machines[m.Alias] = m
	return nil
}

// MapAddress associates a client source IP with a default machine alias.
func (r *Registry) MapAddress(ip, alias string) {
	r.addrToAlias[ip] = alias
}

// Get returns the machine with the given alias.
func (r *Registry) Get(alias string) (*Machine, bool) {
	m, ok := r.machines[alias]
	return m, ok
}

// ResolveAddr returns the default machine alias for a peer IP, falling
// back to the registry's fallback alias when the address is unmapped.
func (r *Registry) ResolveAddr(ip string) string {
	if alias, ok := r.addrToAlias[ip]; ok {
		return alias
	}
	return r.fallbackAlias
}

// Aliases returns the registered aliases. Order is not defined.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.machines))
	for alias := range r.machines {
		out = append(out, alias)
	}
	return out
}

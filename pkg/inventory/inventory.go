// Package inventory provides read access to the per-machine slot
// inventory. Slots are fetched per query, never cached: the store is
// authoritative and mutates underneath us whenever hardware reports a
// dispense.
package inventory

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrSlotNotFound means no slot record exists for the key.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrMachineNotFound means the alias has no persistent machine id.
	ErrMachineNotFound = errors.New("machine not found")
)

// Slot is one addressable dispensing position within a machine.
type Slot struct {
	// Machine is the owning machine's alias.
	Machine string

	// Number addresses the slot within its machine.
	Number int

	// ItemID identifies the stocked item.
	ItemID int

	// ItemName is the human label for the stocked item.
	ItemName string

	// Price is the item cost in credits.
	Price int

	// Available is the count the hardware last reported in the slot.
	Available int

	// Enabled is false when an operator has disabled the slot.
	Enabled bool
}

// Store defines the inventory reads the server needs.
type Store interface {
	// Slot returns the record for (machine alias, slot number).
	// Returns ErrSlotNotFound when no such slot exists.
	Slot(ctx context.Context, machine string, number int) (*Slot, error)

	// Slots returns all slots for a machine ordered by slot number.
	Slots(ctx context.Context, machine string) ([]Slot, error)

	// MachineID resolves a machine alias to its persistent id, the key
	// used by the audit log. Returns ErrMachineNotFound for an unknown
	// alias.
	MachineID(ctx context.Context, alias string) (int, error)
}

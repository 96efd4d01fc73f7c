// Package audit provides the drop audit trail: one append-only record
// per purchase attempt that reached the hardware.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome values recorded for a drop.
const (
	// OutcomeOK is a confirmed dispense with a settled charge.
	OutcomeOK = "ok"
)

// DropEvent is one audit record.
type DropEvent struct {
	// ID is the unique event identifier.
	ID string

	// Timestamp is when the drop settled.
	Timestamp time.Time

	// MachineID is the machine's persistent id, not its alias; aliases
	// can be remapped between deployments, audit rows must not move.
	MachineID int

	// Username is the charged account.
	Username string

	// Slot is the slot number that dispensed.
	Slot int

	// ItemID identifies the dispensed item.
	ItemID int

	// Price is the charge in credits.
	Price int

	// Outcome records how the drop concluded.
	Outcome string
}

// NewDropEvent creates a drop event stamped with a fresh id and the
// current time.
func NewDropEvent(machineID int, username string, slot, itemID, price int, outcome string) DropEvent {
	return DropEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		MachineID: machineID,
		Username:  username,
		Slot:      slot,
		ItemID:    itemID,
		Price:     price,
		Outcome:   outcome,
	}
}

// Logger appends drop events to the audit trail.
type Logger interface {
	// LogDrop appends one event.
	LogDrop(ctx context.Context, event DropEvent) error
}

// Package drop implements the purchase transaction: the linear saga
// that validates a DROP request, commands the physical dispense, and
// settles the charge against the ledger and audit trail.
//
// The saga has no rollback. A dispense is a physical event; once the
// hardware confirms it, every later failure is reported and logged but
// never retried or reversed. The per-slot lock set is the only guard
// against two sessions dispensing from the same slot at once.
package drop

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/vendsys/sunday/pkg/audit"
	"github.com/vendsys/sunday/pkg/directory"
	"github.com/vendsys/sunday/pkg/inventory"
	"github.com/vendsys/sunday/pkg/machine"
	"github.com/vendsys/sunday/pkg/protocol"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultActuatorTimeout = 30 * time.Second
)

// Request carries one DROP invocation through the pipeline.
type Request struct {
	// Machine is the session's selected machine alias; empty means no
	// machine is selected.
	Machine string

	// SlotToken is the raw slot argument, unparsed.
	SlotToken string

	// DelayToken is the raw optional delay argument; empty means absent.
	DelayToken string

	// Username is the purchasing account.
	Username string

	// Balance is the session's cached balance snapshot.
	Balance int

	// Owner identifies the session for slot lock ownership.
	Owner string
}

// Result is the pipeline's reply to the session.
type Result struct {
	// Code is the catalog reply code.
	Code protocol.Code

	// Extra is appended to the reply prefix.
	Extra string

	// Charged is true when the ledger was debited. It can be true even
	// on a failure code: a settle-stage fault after the charge is
	// reported to the client but the charge stands.
	Charged bool

	// NewBalance is the balance after the charge, valid when Charged.
	NewBalance int
}

// Config tunes pipeline timeouts.
type Config struct {
	// StoreTimeout bounds inventory, ledger, and audit calls.
	StoreTimeout time.Duration

	// ActuatorTimeout bounds the hardware dispense command.
	ActuatorTimeout time.Duration
}

// Pipeline executes drop transactions against the shared collaborators.
// Safe for concurrent use by all sessions.
type Pipeline struct {
	registry  *machine.Registry
	inventory inventory.Store
	directory directory.Service
	audit     audit.Logger
	locks     *LockSet
	logger    *slog.Logger

	storeTimeout    time.Duration
	actuatorTimeout time.Duration
}

// NewPipeline creates a drop pipeline. Zero timeouts select defaults.
func NewPipeline(
	registry *machine.Registry,
	inv inventory.Store,
	dir directory.Service,
	auditLog audit.Logger,
	locks *LockSet,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.ActuatorTimeout <= 0 {
		cfg.ActuatorTimeout = defaultActuatorTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:        registry,
		inventory:       inv,
		directory:       dir,
		audit:           auditLog,
		locks:           locks,
		logger:          logger,
		storeTimeout:    cfg.StoreTimeout,
		actuatorTimeout: cfg.ActuatorTimeout,
	}
}

// Run executes one drop transaction to completion. The per-slot lock is
// held from acquisition through settlement and released on every exit
// path. Run never blocks waiting for a contended slot.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	// VALIDATING
	if req.Machine == "" {
		return Result{Code: protocol.CodeNoMachine}
	}
	slot, err := strconv.Atoi(req.SlotToken)
	if err != nil {
		return Result{Code: protocol.CodeBadSlot}
	}
	delay := 0
	if req.DelayToken != "" {
		delay, err = strconv.Atoi(req.DelayToken)
		if err != nil {
			return Result{Code: protocol.CodeBadDelay}
		}
	}
	mach, ok := p.registry.Get(req.Machine)
	if !ok {
		return Result{Code: protocol.CodeBadMachine}
	}
	if !mach.Connected() {
		return Result{Code: protocol.CodeMachineOffline}
	}

	// LOCKED
	if !p.locks.TryAcquire(req.Machine, slot, req.Owner) {
		return Result{Code: protocol.CodeDropInProgress}
	}
	defer p.locks.Release(req.Machine, slot)

	// CHECKING_INVENTORY
	rec, err := p.fetchSlot(ctx, req.Machine, slot)
	if err != nil {
		if errors.Is(err, inventory.ErrSlotNotFound) {
			return Result{Code: protocol.CodeSlotNotFound}
		}
		p.logger.Error("slot lookup failed", "machine", req.Machine, "slot", slot, "error", err)
		return Result{Code: protocol.CodeUnknownFailure, Extra: " Slot lookup failed"}
	}
	if !rec.Enabled {
		return Result{Code: protocol.CodeSlotDisabled}
	}
	if rec.Available == 0 {
		return Result{Code: protocol.CodeSlotEmpty}
	}

	// CHECKING_FUNDS
	// An unauthenticated request has no account to charge, so it fails
	// the funds check regardless of price.
	if req.Username == "" || req.Balance < rec.Price {
		return Result{Code: protocol.CodePoor}
	}

	// ACTUATING
	resp, err := p.dispense(ctx, mach, slot, delay)
	if err != nil {
		p.logger.Error("actuator fault during drop",
			"machine", req.Machine, "slot", slot, "error", err)
		return Result{Code: protocol.CodeDropFailed}
	}
	if !machine.DispenseOK(resp) {
		p.logger.Warn("hardware rejected drop",
			"machine", req.Machine, "slot", slot, "response", resp)
		return Result{Code: protocol.CodeDropFailed}
	}

	// SETTLING
	return p.settle(ctx, req, mach, rec, slot)
}

// settle charges the ledger and appends the audit record after a
// confirmed dispense. Failures here leave the user dispensed but
// uncharged (ledger fault) or charged but unlogged (audit fault); both
// are reported and logged for out-of-band reconciliation, never rolled
// back: the drink is already in the chute.
func (p *Pipeline) settle(ctx context.Context, req Request, mach *machine.Machine, rec *inventory.Slot, slot int) Result {
	newBalance := req.Balance - rec.Price

	if err := p.setBalance(ctx, req.Username, newBalance); err != nil {
		p.logger.Error("ledger update failed after dispense; user uncharged",
			"machine", req.Machine, "slot", slot,
			"username", req.Username, "price", rec.Price, "error", err)
		return Result{Code: protocol.CodeUnknownFailure, Extra: " LDAP Error"}
	}

	machineID, err := p.machineID(ctx, req.Machine)
	if err != nil {
		p.logger.Error("machine id lookup failed after charge; drop unlogged",
			"machine", req.Machine, "slot", slot,
			"username", req.Username, "error", err)
		return Result{Code: protocol.CodeUnknownFailure, Extra: " Bad Machine ID", Charged: true, NewBalance: newBalance}
	}

	event := audit.NewDropEvent(machineID, req.Username, slot, rec.ItemID, rec.Price, audit.OutcomeOK)
	if err := p.logDrop(ctx, event); err != nil {
		p.logger.Error("audit append failed after charge; drop unlogged",
			"machine", req.Machine, "slot", slot,
			"username", req.Username, "error", err)
		return Result{Code: protocol.CodeUnknownFailure, Extra: " Drop log failed", Charged: true, NewBalance: newBalance}
	}

	p.logger.Info("drop complete",
		"machine", req.Machine, "slot", slot,
		"username", req.Username, "item", rec.ItemName, "price", rec.Price)

	mach.Actuator.RefreshSlots()

	return Result{
		Code:       protocol.CodeOK,
		Extra:      " Dropping drink",
		Charged:    true,
		NewBalance: newBalance,
	}
}

func (p *Pipeline) fetchSlot(ctx context.Context, alias string, slot int) (*inventory.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	return p.inventory.Slot(ctx, alias, slot)
}

func (p *Pipeline) dispense(ctx context.Context, mach *machine.Machine, slot, delay int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.actuatorTimeout)
	defer cancel()
	return mach.Actuator.Dispense(ctx, slot, delay)
}

func (p *Pipeline) setBalance(ctx context.Context, username string, balance int) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	return p.directory.SetBalance(ctx, username, balance)
}

func (p *Pipeline) machineID(ctx context.Context, alias string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	return p.inventory.MachineID(ctx, alias)
}

func (p *Pipeline) logDrop(ctx context.Context, event audit.DropEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	return p.audit.LogDrop(ctx, event)
}

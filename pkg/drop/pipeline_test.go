package drop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendsys/sunday/pkg/audit"
	"github.com/vendsys/sunday/pkg/directory"
	"github.com/vendsys/sunday/pkg/inventory"
	"github.com/vendsys/sunday/pkg/machine"
	"github.com/vendsys/sunday/pkg/protocol"
)

const (
	testBalance = 500
	testPrice   = 100
	testSlot    = 3
)

// scriptedActuator records dispense calls and returns a scripted
// response. An optional gate blocks Dispense until released, for
// concurrency tests.
type scriptedActuator struct {
	response  string
	err       error
	dispenses atomic.Int32
	refreshes atomic.Int32
	entered   chan struct{}
	gate      chan struct{}
}

func (a *scriptedActuator) Dispense(context.Context, int, int) (string, error) {
	a.dispenses.Add(1)
	if a.entered != nil {
		close(a.entered)
	}
	if a.gate != nil {
		<-a.gate
	}
	return a.response, a.err
}

func (a *scriptedActuator) RefreshSlots()                                { a.refreshes.Add(1) }
func (a *scriptedActuator) Temperature(context.Context) (float64, error) { return 2.5, nil }
func (a *scriptedActuator) Ping(context.Context) error                   { return nil }

// faultStore wraps a memory inventory store with scripted faults.
type faultStore struct {
	*inventory.MemoryStore
	slotErr      error
	machineIDErr error
}

func (s *faultStore) Slot(ctx context.Context, m string, n int) (*inventory.Slot, error) {
	if s.slotErr != nil {
		return nil, s.slotErr
	}
	return s.MemoryStore.Slot(ctx, m, n)
}

func (s *faultStore) MachineID(ctx context.Context, alias string) (int, error) {
	if s.machineIDErr != nil {
		return 0, s.machineIDErr
	}
	return s.MemoryStore.MachineID(ctx, alias)
}

// faultDirectory wraps a memory directory with a scripted SetBalance
// fault.
type faultDirectory struct {
	*directory.Memory
	setBalanceErr error
}

func (d *faultDirectory) SetBalance(ctx context.Context, username string, balance int) error {
	if d.setBalanceErr != nil {
		return d.setBalanceErr
	}
	return d.Memory.SetBalance(ctx, username, balance)
}

type fixture struct {
	pipeline  *Pipeline
	actuator  *scriptedActuator
	store     *faultStore
	directory *faultDirectory
	audit     *audit.MemoryLogger
	locks     *LockSet
	machine   *machine.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	actuator := &scriptedActuator{response: "4 drop complete"}
	mach := &machine.Machine{Alias: "d", DisplayName: "Drink Machine", Actuator: actuator}
	mach.SetConnected(true)

	registry := machine.NewRegistry("d")
	require.NoError(t, registry.Add(mach))

	mem := inventory.NewMemoryStore()
	mem.AddMachine("d", 2)
	mem.PutSlot(inventory.Slot{
		Machine: "d", Number: testSlot, ItemID: 7, ItemName: "Cola",
		Price: testPrice, Available: 5, Enabled: true,
	})
	store := &faultStore{MemoryStore: mem}

	dir := &faultDirectory{Memory: directory.NewMemory(
		directory.MemoryAccount{Username: "alice", Password: "secret", Balance: testBalance},
	)}

	auditLog := audit.NewMemoryLogger()
	locks := NewLockSet()

	return &fixture{
		pipeline:  NewPipeline(registry, store, dir, auditLog, locks, Config{}, nil),
		actuator:  actuator,
		store:     store,
		directory: dir,
		audit:     auditLog,
		locks:     locks,
		machine:   mach,
	}
}

func (f *fixture) request() Request {
	return Request{
		Machine:   "d",
		SlotToken: "3",
		Username:  "alice",
		Balance:   testBalance,
		Owner:     "sess-1",
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeOK, result.Code)
	assert.Equal(t, " Dropping drink", result.Extra)
	assert.True(t, result.Charged)
	assert.Equal(t, testBalance-testPrice, result.NewBalance)

	balance, err := f.directory.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, testBalance-testPrice, balance)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].MachineID)
	assert.Equal(t, "alice", events[0].Username)
	assert.Equal(t, testSlot, events[0].Slot)
	assert.Equal(t, audit.OutcomeOK, events[0].Outcome)

	assert.Equal(t, int32(1), f.actuator.refreshes.Load(), "post-dispense refresh triggered")
	assert.False(t, f.locks.Held("d", testSlot), "lock released after success")
}

func TestRunNoMachineSelected(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Machine = ""

	result := f.pipeline.Run(context.Background(), req)

	assert.Equal(t, protocol.CodeNoMachine, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
}

func TestRunBadSlotToken(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.SlotToken = "three"

	result := f.pipeline.Run(context.Background(), req)

	assert.Equal(t, protocol.CodeBadSlot, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
}

func TestRunBadDelayToken(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.DelayToken = "soon"

	result := f.pipeline.Run(context.Background(), req)

	assert.Equal(t, protocol.CodeBadDelay, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
}

func TestRunMachineOffline(t *testing.T) {
	f := newFixture(t)
	f.machine.SetConnected(false)

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeMachineOffline, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
}

func TestRunSlotContended(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.locks.TryAcquire("d", testSlot, "other-session"))

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeDropInProgress, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load(), "no actuator call for the loser")
	assert.True(t, f.locks.Held("d", testSlot), "holder's lock is untouched")
}

func TestRunConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	f.actuator.entered = make(chan struct{})
	f.actuator.gate = make(chan struct{})

	var first Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.pipeline.Run(context.Background(), f.request())
	}()

	// Wait until the first transaction holds the lock inside ACTUATING,
	// then race a second one against it.
	select {
	case <-f.actuator.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first drop never reached the actuator")
	}

	req2 := f.request()
	req2.Owner = "sess-2"
	second := f.pipeline.Run(context.Background(), req2)
	assert.Equal(t, protocol.CodeDropInProgress, second.Code)

	close(f.actuator.gate)
	wg.Wait()

	assert.Equal(t, protocol.CodeOK, first.Code)
	assert.Equal(t, int32(1), f.actuator.dispenses.Load(), "loser never reached hardware")
}

func TestRunSlotNotFound(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.SlotToken = "99"

	result := f.pipeline.Run(context.Background(), req)

	assert.Equal(t, protocol.CodeSlotNotFound, result.Code)
	assert.False(t, f.locks.Held("d", 99), "lock released after rejection")
}

func TestRunInventoryFault(t *testing.T) {
	f := newFixture(t)
	f.store.slotErr = errors.New("connection refused")

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeUnknownFailure, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
	assert.False(t, f.locks.Held("d", testSlot))
}

func TestRunSlotEmpty(t *testing.T) {
	f := newFixture(t)
	f.store.PutSlot(inventory.Slot{
		Machine: "d", Number: testSlot, ItemID: 7, ItemName: "Cola",
		Price: testPrice, Available: 0, Enabled: true,
	})

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeSlotEmpty, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load())
}

func TestRunSlotDisabled(t *testing.T) {
	f := newFixture(t)
	f.store.PutSlot(inventory.Slot{
		Machine: "d", Number: testSlot, ItemID: 7, ItemName: "Cola",
		Price: testPrice, Available: 5, Enabled: false,
	})

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeSlotDisabled, result.Code)
}

func TestRunSlotDisabledAndEmptyReportsDisabled(t *testing.T) {
	f := newFixture(t)
	f.store.PutSlot(inventory.Slot{
		Machine: "d", Number: testSlot, ItemID: 7, ItemName: "Cola",
		Price: testPrice, Available: 0, Enabled: false,
	})

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeSlotDisabled, result.Code, "disabled wins when both conditions hold")
}

func TestRunInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Balance = testPrice - 1

	result := f.pipeline.Run(context.Background(), req)

	assert.Equal(t, protocol.CodePoor, result.Code)
	assert.Equal(t, int32(0), f.actuator.dispenses.Load(), "no actuator call without funds")

	balance, err := f.directory.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, testBalance, balance, "no charge without funds")
}

func TestRunHardwareRejectsDrop(t *testing.T) {
	f := newFixture(t)
	f.actuator.response = "5 slot jammed"

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeDropFailed, result.Code)
	assert.False(t, result.Charged)

	balance, err := f.directory.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, testBalance, balance, "no funds move on hardware failure")
	assert.Empty(t, f.audit.Events())
	assert.False(t, f.locks.Held("d", testSlot))
}

func TestRunActuatorFault(t *testing.T) {
	f := newFixture(t)
	f.actuator.err = errors.New("read timeout")
	f.actuator.response = ""

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeDropFailed, result.Code)
	assert.False(t, result.Charged)
}

func TestRunLedgerFaultAfterDispense(t *testing.T) {
	f := newFixture(t)
	f.directory.setBalanceErr = errors.New("ldap unreachable")

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeUnknownFailure, result.Code)
	assert.Equal(t, " LDAP Error", result.Extra)
	assert.False(t, result.Charged)
	assert.Empty(t, f.audit.Events())
	assert.False(t, f.locks.Held("d", testSlot))
}

func TestRunBadMachineIDAfterCharge(t *testing.T) {
	f := newFixture(t)
	f.store.machineIDErr = inventory.ErrMachineNotFound

	result := f.pipeline.Run(context.Background(), f.request())

	assert.Equal(t, protocol.CodeUnknownFailure, result.Code)
	assert.Equal(t, " Bad Machine ID", result.Extra)
	assert.True(t, result.Charged, "charge already settled")
	assert.Equal(t, testBalance-testPrice, result.NewBalance)

	balance, err := f.directory.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, testBalance-testPrice, balance, "charge stands despite audit failure")
}

package drop

import "sync"

// slotKey identifies one physical slot across the fleet.
type slotKey struct {
	machine string
	slot    int
}

// LockSet tracks (machine, slot) pairs with a dispense in flight.
// Acquisition is try-once and non-blocking: a second session targeting
// the same slot is rejected immediately, never queued. Locks on
// different slots are independent.
type LockSet struct {
	mu   sync.Mutex
	held map[slotKey]string
}

// NewLockSet creates an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[slotKey]string)}
}

// TryAcquire claims (machine, slot) for owner. It returns false without
// waiting when another owner already holds the pair.
func (l *LockSet) TryAcquire(machine string, slot int, owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := slotKey{machine: machine, slot: slot}
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = owner
	return true
}

// Release frees (machine, slot).
func (l *LockSet) Release(machine string, slot int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, slotKey{machine: machine, slot: slot})
}

// ReleaseOwner frees every pair held by owner and returns how many were
// released. The pipeline releases its own lock on every exit path, so
// this normally releases nothing; session teardown calls it anyway as a
// defensive invariant against an abrupt disconnect.
func (l *LockSet) ReleaseOwner(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, holder := range l.held {
		if holder == owner {
			delete(l.held, key)
			n++
		}
	}
	return n
}

// Held reports whether (machine, slot) is currently locked.
func (l *LockSet) Held(machine string, slot int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[slotKey{machine: machine, slot: slot}]
	return taken
}

package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with an in-memory slot table. Used by
// tests and by dev mode when no database is configured.
type MemoryStore struct {
	mu         sync.Mutex
	slots      map[string]map[int]Slot
	machineIDs map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty memory inventory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:      make(map[string]map[int]Slot),
		machineIDs: make(map[string]int),
	}
}

// AddMachine registers a machine alias with its persistent id.
func (s *MemoryStore) AddMachine(alias string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machineIDs[alias] = id
}

// PutSlot inserts or replaces a slot record.
func (s *MemoryStore) PutSlot(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[slot.Machine] == nil {
		s.slots[slot.Machine] = make(map[int]Slot)
	}
	s.slots[slot.Machine][slot.Number] = slot
}

// Slot returns the record for (machine alias, slot number).
func (s *MemoryStore) Slot(_ context.Context, machine string, number int) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[machine][number]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

// Slots returns all slots for a machine ordered by slot number.
func (s *MemoryStore) Slots(_ context.Context, machine string) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Slot, 0, len(s.slots[machine]))
	for _, slot := range s.slots[machine] {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// MachineID resolves a machine alias to its persistent id.
func (s *MemoryStore) MachineID(_ context.Context, alias string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.machineIDs[alias]
	if !ok {
		return 0, ErrMachineNotFound
	}
	return id, nil
}

package audit

import (
	"context"
	"sync"
)

// MemoryLogger implements Logger in memory. Used by tests and dev mode.
type MemoryLogger struct {
	mu     sync.Mutex
	events []DropEvent
}

var _ Logger = (*MemoryLogger)(nil)

// NewMemoryLogger creates an empty memory audit log.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// LogDrop appends one event.
func (l *MemoryLogger) LogDrop(_ context.Context, event DropEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of all logged events in append order.
func (l *MemoryLogger) Events() []DropEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DropEvent, len(l.events))
	copy(out, l.events)
	return out
}

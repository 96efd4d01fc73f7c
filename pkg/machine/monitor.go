package machine

import (
	"context"
	"log/slog"
	"time"
)

const defaultPingInterval = 15 * time.Second

// Monitor keeps each machine's connectivity flag in sync with its
// actuator link by pinging on an interval. It is the only writer of the
// flag; the drop pipeline only reads it.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a link monitor over the registry. A zero interval
// selects the default ping interval.
func NewMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{registry: registry, interval: interval, logger: logger}
}

// Run pings every machine on the interval until ctx is canceled. The
// first sweep runs immediately so machines come up connected without
// waiting a full interval.
func (m *Monitor) Run(ctx context.Context) {
	m.sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, alias := range m.registry.Aliases() {
		mach, ok := m.registry.Get(alias)
		if !ok {
			continue
		}
		err := mach.Actuator.Ping(ctx)
		up := err == nil
		if up != mach.Connected() {
			if up {
				m.logger.Info("machine link up", "machine", alias)
			} else {
				m.logger.Warn("machine link down", "machine", alias, "error", err)
			}
		}
		mach.SetConnected(up)
	}
}

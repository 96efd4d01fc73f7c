package machine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultCommandTimeout = 10 * time.Second

// NetActuator speaks the line-oriented actuator protocol over TCP. One
// command is in flight at a time per machine; the hardware cannot
// interleave, so calls serialize on a mutex.
type NetActuator struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

var _ Actuator = (*NetActuator)(nil)

// NewNetActuator creates an actuator client for the hardware at addr.
// The connection is established lazily on first command. A zero timeout
// selects the default per-command timeout.
func NewNetActuator(addr string, timeout time.Duration, logger *slog.Logger) *NetActuator {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NetActuator{addr: addr, timeout: timeout, logger: logger}
}

// Dispense commands a drop and returns the hardware's raw response line.
func (a *NetActuator) Dispense(ctx context.Context, slot, delay int) (string, error) {
	return a.command(ctx, fmt.Sprintf("DROP %d %d", slot, delay))
}

// Temperature reads the compressor temperature.
func (a *NetActuator) Temperature(ctx context.Context) (float64, error) {
	resp, err := a.command(ctx, "TEMP")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(resp)
	reading := resp
	if len(fields) > 1 {
		reading = fields[len(fields)-1]
	}
	temp, err := strconv.ParseFloat(reading, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing temperature response %q: %w", resp, err)
	}
	return temp, nil
}

// RefreshSlots asks the hardware to re-check slot availability without
// blocking the caller. Failures are logged; availability converges on
// the next successful refresh.
func (a *NetActuator) RefreshSlots() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.command(ctx, "SLOTCHECK"); err != nil {
			a.logger.Warn("slot availability refresh failed", "addr", a.addr, "error", err)
		}
	}()
}

// Ping verifies the actuator link is alive.
func (a *NetActuator) Ping(ctx context.Context) error {
	_, err := a.command(ctx, "PING")
	return err
}

// command sends one line and reads one reply line under the per-command
// timeout. Any transport fault drops the cached connection so the next
// command redials.
func (a *NetActuator) command(ctx context.Context, line string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deadline := time.Now().Add(a.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if a.conn == nil {
		conn, err := net.DialTimeout("tcp", a.addr, time.Until(deadline))
		if err != nil {
			return "", fmt.Errorf("dialing actuator %s: %w", a.addr, err)
		}
		a.conn = conn
		a.rd = bufio.NewReader(conn)
	}

	if err := a.conn.SetDeadline(deadline); err != nil {
		a.drop()
		return "", fmt.Errorf("setting actuator deadline: %w", err)
	}

	if _, err := fmt.Fprintf(a.conn, "%s\r\n", line); err != nil {
		a.drop()
		return "", fmt.Errorf("writing actuator command: %w", err)
	}

	resp, err := a.rd.ReadString('\n')
	if err != nil {
		a.drop()
		return "", fmt.Errorf("reading actuator response: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// drop discards the cached connection after a transport fault.
func (a *NetActuator) drop() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
		a.rd = nil
	}
}

// Close releases the cached connection.
func (a *NetActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.rd = nil
	return err
}

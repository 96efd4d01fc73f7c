package machine

import "context"

// dispenseOKIndicator is the leading byte of an actuator response that
// confirms a successful drop. Anything else is a hardware-reported
// failure.
const dispenseOKIndicator = '4'

// Actuator commands one machine's physical dispense hardware.
type Actuator interface {
	// Dispense commands a drop from slot after delay seconds and returns
	// the hardware's raw response line. Callers interpret the response
	// with DispenseOK; a transport error or timeout is returned as err
	// and treated the same as a hardware fault.
	Dispense(ctx context.Context, slot, delay int) (string, error)

	// RefreshSlots asks the hardware to re-check slot availability.
	// Fire-and-forget: it must not block the caller.
	RefreshSlots()

	// Temperature reads the machine's compressor temperature.
	Temperature(ctx context.Context) (float64, error)

	// Ping verifies the actuator link is alive.
	Ping(ctx context.Context) error
}

// DispenseOK reports whether an actuator response line carries the
// success indicator.
func DispenseOK(resp string) bool {
	return len(resp) > 0 && resp[0] == dispenseOKIndicator
}

// Package health provides readiness state tracking and HTTP health
// check handlers for the sunday server.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vendsys/sunday/pkg/machine"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker tracks the readiness state of the server and reports fleet
// connectivity. It is safe for concurrent use.
type Checker struct {
	state    atomic.Int32
	db       Pinger
	registry *machine.Registry
}

// NewChecker creates a Checker in the Starting state. db may be nil in
// dev mode; readiness then skips the database ping.
func NewChecker(db Pinger, registry *machine.Registry) *Checker {
	return &Checker{db: db, registry: registry}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready and the database answers
// a ping.
func (c *Checker) IsReady(ctx context.Context) bool {
	if c.state.Load() != stateReady {
		return false
	}
	if c.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.db.PingContext(ctx) == nil
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status   string          `json:"status"`
	Machines map[string]bool `json:"machines,omitempty"`
}

// machines reports per-machine link health.
func (c *Checker) machines() map[string]bool {
	if c.registry == nil {
		return nil
	}
	out := make(map[string]bool)
	for _, alias := range c.registry.Aliases() {
		if m, ok := c.registry.Get(alias); ok {
			out[alias] = m.Connected()
		}
	}
	return out
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when
// ready and 503 when starting, draining, or cut off from the database.
// The body includes per-machine link health either way.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthResponse{Status: c.State(), Machines: c.machines()}
		if c.IsReady(r.Context()) {
			writeJSON(w, http.StatusOK, body)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

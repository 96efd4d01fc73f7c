// Package session provides per-connection session state and the command
// dispatcher that routes protocol verbs against it.
package session

import (
	"github.com/google/uuid"

	"github.com/vendsys/sunday/pkg/directory"
)

// Identity is the authenticated principal of a session. A nil Identity
// means the session is unauthenticated.
type Identity struct {
	// Username is the authenticated account name.
	Username string

	// Method records how the session authenticated.
	Method directory.AuthMethod

	// Admin marks administrative accounts.
	Admin bool
}

// Session is the mutable state of one client connection. It is owned
// exclusively by that connection's handler goroutine and discarded on
// disconnect; nothing in it is shared or persisted.
//
// Identity is set only by the PASS and IBUTTON handlers. Balance is a
// cached snapshot for display and the pipeline's funds pre-check; the
// directory is authoritative.
type Session struct {
	// ID uniquely identifies the connection for logging and slot lock
	// ownership.
	ID string

	// RemoteAddr is the client's source address.
	RemoteAddr string

	// PendingUser is the username recorded by USER, awaiting PASS.
	PendingUser string

	// Identity is the authenticated principal, nil until PASS or
	// IBUTTON succeeds.
	Identity *Identity

	// Balance is the cached credit balance, refreshed on auth and after
	// each successful purchase.
	Balance int

	// SelectedMachine is the machine alias targeted by DROP, STAT, and
	// TEMP. Seeded from the peer address mapping at connect.
	SelectedMachine string
}

// New creates a session for a connection from remoteAddr with the given
// default machine.
func New(remoteAddr, defaultMachine string) *Session {
	return &Session{
		ID:              uuid.NewString(),
		RemoteAddr:      remoteAddr,
		SelectedMachine: defaultMachine,
	}
}

// Authenticated reports whether the session has an identity.
func (s *Session) Authenticated() bool {
	return s.Identity != nil
}

// Username returns the authenticated username, or "" when the session
// is unauthenticated.
func (s *Session) Username() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Username
}

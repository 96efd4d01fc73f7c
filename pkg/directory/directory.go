// Package directory provides the account directory and credit ledger:
// the authoritative store of users, credentials, and balances. The
// session layer authenticates against it and the drop pipeline settles
// charges through it.
package directory

import (
	"context"
	"errors"
)

// AuthMethod identifies how a session authenticated.
type AuthMethod string

const (
	// AuthPassword is username/password authentication.
	AuthPassword AuthMethod = "password"

	// AuthToken is hardware-token (ibutton) authentication.
	AuthToken AuthMethod = "token"
)

// Sentinel errors returned by Service implementations. Anything else is
// an infrastructure fault (directory unreachable, bad response shape).
var (
	// ErrInvalidCredentials means the username/password or token did not
	// match an account.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound means no account exists for the username.
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientFunds means a transfer exceeds the sender's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is a directory record for one user.
type Account struct {
	// Username is the canonical account name.
	Username string

	// IButton is the account's hardware token serial, if enrolled.
	IButton string

	// Admin marks administrative accounts.
	Admin bool

	// Balance is the account's credit balance at lookup time.
	Balance int
}

// Service defines the directory and ledger operations the server needs.
type Service interface {
	// Authenticate verifies username/password and returns the account.
	// Returns ErrInvalidCredentials on a failed bind.
	Authenticate(ctx context.Context, username, password string) (*Account, error)

	// AuthenticateToken verifies a hardware token serial and returns the
	// owning account. Returns ErrInvalidCredentials on an unknown token.
	AuthenticateToken(ctx context.Context, ibutton string) (*Account, error)

	// Balance returns the current credit balance for username.
	// Returns ErrUserNotFound when the account does not exist.
	Balance(ctx context.Context, username string) (int, error)

	// SetBalance overwrites the credit balance for username.
	SetBalance(ctx context.Context, username string, balance int) error

	// Transfer moves amount credits from one account to another and
	// returns the sender's new balance. Returns ErrUserNotFound when the
	// recipient does not exist and ErrInsufficientFunds when the sender
	// cannot cover the amount.
	Transfer(ctx context.Context, from, to string, amount int) (int, error)
}

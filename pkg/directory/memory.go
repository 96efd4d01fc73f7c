package directory

import (
	"context"
	"sync"
)

// MemoryAccount seeds one account in a memory directory.
type MemoryAccount struct {
	Username string
	Password string
	IButton  string
	Admin    bool
	Balance  int
}

// Memory implements Service with an in-memory account table. Used by
// tests and by dev mode when no directory backend is configured.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*MemoryAccount
	byToken  map[string]string
}

var _ Service = (*Memory)(nil)

// NewMemory creates a memory directory seeded with accounts.
func NewMemory(accounts ...MemoryAccount) *Memory {
	m := &Memory{
		accounts: make(map[string]*MemoryAccount),
		byToken:  make(map[string]string),
	}
	for i := range accounts {
		acct := accounts[i]
		m.accounts[acct.Username] = &acct
		if acct.IButton != "" {
			m.byToken[acct.IButton] = acct.Username
		}
	}
	return m
}

// Authenticate verifies username/password.
func (m *Memory) Authenticate(_ context.Context, username, password string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[username]
	if !ok || acct.Password != password {
		return nil, ErrInvalidCredentials
	}
	return acct.account(), nil
}

// AuthenticateToken verifies a hardware token serial.
func (m *Memory) AuthenticateToken(_ context.Context, ibutton string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	username, ok := m.byToken[ibutton]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return m.accounts[username].account(), nil
}

// Balance returns the current balance for username.
func (m *Memory) Balance(_ context.Context, username string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[username]
	if !ok {
		return 0, ErrUserNotFound
	}
	return acct.Balance, nil
}

// SetBalance overwrites the balance for username.
func (m *Memory) SetBalance(_ context.Context, username string, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[username]
	if !ok {
		return ErrUserNotFound
	}
	acct.Balance = balance
	return nil
}

// Transfer moves credits between accounts and returns the sender's new
// balance.
func (m *Memory) Transfer(_ context.Context, from, to string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[from]
	if !ok {
		return 0, ErrUserNotFound
	}
	recipient, ok := m.accounts[to]
	if !ok {
		return 0, ErrUserNotFound
	}
	if sender.Balance < amount {
		return 0, ErrInsufficientFunds
	}

	sender.Balance -= amount
	recipient.Balance += amount
	return sender.Balance, nil
}

func (a *MemoryAccount) account() *Account {
	return &Account{
		Username: a.Username,
		IButton:  a.IButton,
		Admin:    a.Admin,
		Balance:  a.Balance,
	}
}

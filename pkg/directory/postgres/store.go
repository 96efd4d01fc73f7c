// Package postgres provides PostgreSQL storage for the account
// directory and credit ledger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/vendsys/sunday/pkg/directory"
)

// Store implements directory.Service using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ directory.Service = (*Store)(nil)

// New creates a new PostgreSQL directory store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const accountColumns = "username, ibutton, admin, balance"

// Authenticate verifies username/password against the stored bcrypt hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*directory.Account, error) {
	query := `
		SELECT username, ibutton, admin, balance, password_hash
		FROM users
		WHERE username = $1
	`

	var acct directory.Account
	var hash string
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&acct.Username,
		&acct.IButton,
		&acct.Admin,
		&acct.Balance,
		&hash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, directory.ErrInvalidCredentials
	}
	return &acct, nil
}

// AuthenticateToken verifies a hardware token serial.
func (s *Store) AuthenticateToken(ctx context.Context, ibutton string) (*directory.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM users
		WHERE ibutton = $1
	`

	var acct directory.Account
	err := s.db.QueryRowContext(ctx, query, ibutton).Scan(
		&acct.Username,
		&acct.IButton,
		&acct.Admin,
		&acct.Balance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	return &acct, nil
}

// Balance returns the current balance for username.
func (s *Store) Balance(ctx context.Context, username string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE username = $1`, username,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, directory.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites the balance for username.
func (s *Store) SetBalance(ctx context.Context, username string, balance int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = $2 WHERE username = $1`, username, balance,
	)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if n == 0 {
		return directory.ErrUserNotFound
	}
	return nil
}

// Transfer moves amount credits from one account to another inside a
// single transaction and returns the sender's new balance.
func (s *Store) Transfer(ctx context.Context, from, to string, amount int) (newBalance int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transfer: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var senderBalance int
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE username = $1 FOR UPDATE`, from,
	).Scan(&senderBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, directory.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("locking sender row: %w", err)
	}
	if senderBalance < amount {
		return 0, directory.ErrInsufficientFunds
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + $2 WHERE username = $1`, to, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("crediting recipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("crediting recipient: %w", err)
	}
	if n == 0 {
		return 0, directory.ErrUserNotFound
	}

	newBalance = senderBalance - amount
	if _, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = $2 WHERE username = $1`, from, newBalance,
	); err != nil {
		return 0, fmt.Errorf("debiting sender: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transfer: %w", err)
	}
	return newBalance, nil
}

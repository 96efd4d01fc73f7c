// Package postgres provides PostgreSQL storage for the drop audit trail.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/vendsys/sunday/pkg/audit"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ audit.Logger = (*Store)(nil)

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// LogDrop appends one drop event.
func (s *Store) LogDrop(ctx context.Context, event audit.DropEvent) error {
	query, args, err := psq.Insert("drop_logs").
		Columns("id", "timestamp", "machine_id", "username", "slot_num", "item_id", "item_price", "outcome").
		Values(
			event.ID,
			event.Timestamp,
			event.MachineID,
			event.Username,
			event.Slot,
			event.ItemID,
			event.Price,
			event.Outcome,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building drop log insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting drop log: %w", err)
	}
	return nil
}

// Package postgres provides PostgreSQL storage for the slot inventory.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/vendsys/sunday/pkg/inventory"
)

// slotStatusEnabled is the status column value for a dispensable slot.
const slotStatusEnabled = "enabled"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// slotColumns lists columns returned by slot SELECT queries.
var slotColumns = []string{
	"machine_alias", "slot_num", "item_id", "item_name", "item_price",
	"available", "status",
}

// Store implements inventory.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ inventory.Store = (*Store)(nil)

// New creates a new PostgreSQL inventory store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Slot returns the record for (machine alias, slot number).
func (s *Store) Slot(ctx context.Context, machine string, number int) (*inventory.Slot, error) {
	query, args, err := psq.Select(slotColumns...).
		From("slots").
		Where(sq.Eq{"machine_alias": machine, "slot_num": number}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building slot query: %w", err)
	}

	slot, err := scanSlot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying slot %s/%d: %w", machine, number, err)
	}
	return slot, nil
}

// Slots returns all slots for a machine ordered by slot number.
func (s *Store) Slots(ctx context.Context, machine string) ([]inventory.Slot, error) {
	query, args, err := psq.Select(slotColumns...).
		From("slots").
		Where(sq.Eq{"machine_alias": machine}).
		OrderBy("slot_num ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building slots query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying slots for %s: %w", machine, err)
	}
	defer func() { _ = rows.Close() }()

	slots := make([]inventory.Slot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning slot row: %w", err)
		}
		slots = append(slots, *slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slot rows: %w", err)
	}
	return slots, nil
}

// MachineID resolves a machine alias to its persistent id.
func (s *Store) MachineID(ctx context.Context, alias string) (int, error) {
	query, args, err := psq.Select("id").
		From("machines").
		Where(sq.Eq{"alias": alias}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building machine id query: %w", err)
	}

	var id int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, inventory.ErrMachineNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying machine id for %s: %w", alias, err)
	}
	return id, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*inventory.Slot, error) {
	var slot inventory.Slot
	var status string
	if err := row.Scan(
		&slot.Machine,
		&slot.Number,
		&slot.ItemID,
		&slot.ItemName,
		&slot.Price,
		&slot.Available,
		&status,
	); err != nil {
		return nil, err
	}
	slot.Enabled = status == slotStatusEnabled
	return &slot, nil
}

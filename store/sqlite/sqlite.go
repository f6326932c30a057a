/*
Package sqlite provides a SQLite-backed cashier.Gateway.

SCHEMA:
  shifts:       one row per drawer working period; patched at stage/close
  transactions: append-only ledger (no UPDATE or DELETE, ever)
  active_shift: single-row claim enforcing the one-open-shift invariant

MONEY:
  Amounts are stored as decimal strings, never as REAL. Timestamps are
  RFC3339 in UTC.

WAL MODE:
  The database is opened with WAL so readers never block the single writer
  and crash recovery is clean.

MIGRATION:
  Schema is auto-migrated on New(). For anything beyond an embedded till
  database, use a versioned migration tool instead.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/beanline/till-engine/cashier"
)

// Store implements cashier.Gateway using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		cash_start TEXT NOT NULL,
		noncash_start TEXT NOT NULL,
		cash_end TEXT NOT NULL DEFAULT '0',
		noncash_end TEXT NOT NULL DEFAULT '0',
		actual_cash TEXT,
		actual_noncash TEXT,
		operator_id TEXT NOT NULL,
		operator_name TEXT NOT NULL
	);

	-- Open-shift lookup is the recovery hot path.
	CREATE INDEX IF NOT EXISTS idx_shifts_end_time
		ON shifts(end_time) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_shifts_start_time
		ON shifts(start_time DESC);

	-- Append-only ledger. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL REFERENCES shifts(id),
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		operator_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		created_at TEXT NOT NULL,
		seq INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_shift
		ON transactions(shift_id, seq);

	-- Single-row claim: the conditional write that makes two concurrent
	-- opens impossible.
	CREATE TABLE IF NOT EXISTS active_shift (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		shift_id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SHIFTS
// =============================================================================

func (s *Store) CreateShift(ctx context.Context, shift cashier.Shift) (cashier.ShiftID, error) {
	id := cashier.ShiftID(uuid.NewString())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, status, start_time, end_time, cash_start, noncash_start, operator_id, operator_name)
		VALUES (?, ?, ?, NULL, ?, ?, ?, ?)
	`, string(id), string(shift.Status), shift.StartTime.UTC().Format(time.RFC3339Nano),
		shift.CashStart.String(), shift.NonCashStart.String(),
		shift.OperatorID, shift.OperatorName)
	if err != nil {
		return "", fmt.Errorf("inserting shift: %w", err)
	}
	return id, nil
}

func (s *Store) GetShift(ctx context.Context, id cashier.ShiftID) (cashier.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, start_time, end_time, cash_start, noncash_start,
		       cash_end, noncash_end, actual_cash, actual_noncash,
		       operator_id, operator_name
		FROM shifts WHERE id = ?
	`, string(id))

	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cashier.Shift{}, cashier.ErrShiftNotFound
	}
	return shift, err
}

func (s *Store) UpdateShift(ctx context.Context, id cashier.ShiftID, patch cashier.ShiftPatch) error {
	set := ""
	var args []any
	add := func(col string, v any) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, v)
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.EndTime != nil {
		add("end_time", patch.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if patch.CashEnd != nil {
		add("cash_end", patch.CashEnd.String())
	}
	if patch.NonCashEnd != nil {
		add("noncash_end", patch.NonCashEnd.String())
	}
	if patch.ActualCash != nil {
		add("actual_cash", patch.ActualCash.String())
	}
	if patch.ActualNonCash != nil {
		add("actual_noncash", patch.ActualNonCash.String())
	}
	if set == "" {
		return nil
	}

	args = append(args, string(id))
	res, err := s.db.ExecContext(ctx, "UPDATE shifts SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating shift: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cashier.ErrShiftNotFound
	}
	return nil
}

func (s *Store) ListShifts(ctx context.Context) ([]cashier.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, start_time, end_time, cash_start, noncash_start,
		       cash_end, noncash_end, actual_cash, actual_noncash,
		       operator_id, operator_name
		FROM shifts ORDER BY start_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []cashier.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

func (s *Store) FindOpenShift(ctx context.Context) (*cashier.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, start_time, end_time, cash_start, noncash_start,
		       cash_end, noncash_end, actual_cash, actual_noncash,
		       operator_id, operator_name
		FROM shifts WHERE end_time IS NULL LIMIT 1
	`)

	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx cashier.Transaction) (cashier.TransactionID, error) {
	id := cashier.TransactionID(uuid.NewString())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, shift_id, tx_type, amount, description, operator_id, channel, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions WHERE shift_id = ?))
	`, string(id), string(tx.ShiftID), string(tx.Type), tx.Amount.String(),
		tx.Description, tx.OperatorID, string(tx.Channel),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano), string(tx.ShiftID))
	if err != nil {
		return "", fmt.Errorf("appending transaction: %w", err)
	}
	return id, nil
}

func (s *Store) TransactionsForShift(ctx context.Context, shiftID cashier.ShiftID) ([]cashier.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, tx_type, amount, description, operator_id, channel, created_at
		FROM transactions WHERE shift_id = ? ORDER BY seq
	`, string(shiftID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []cashier.Transaction
	for rows.Next() {
		var tx cashier.Transaction
		var id, sid, txType, amount, channel, createdAt string
		if err := rows.Scan(&id, &sid, &txType, &amount, &tx.Description, &tx.OperatorID, &channel, &createdAt); err != nil {
			return nil, err
		}
		tx.ID = cashier.TransactionID(id)
		tx.ShiftID = cashier.ShiftID(sid)
		tx.Type = cashier.TransactionType(txType)
		tx.Channel = cashier.PaymentChannel(channel)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// ACTIVE SHIFT CLAIM
// =============================================================================

func (s *Store) ClaimActiveShift(ctx context.Context, shiftID cashier.ShiftID) error {
	// Write into the single slot; on conflict only the current holder wins.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO active_shift (slot, shift_id) VALUES (1, ?)
		ON CONFLICT(slot) DO UPDATE SET shift_id = excluded.shift_id
		WHERE active_shift.shift_id = excluded.shift_id
	`, string(shiftID))
	if err != nil {
		return fmt.Errorf("claiming active shift: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cashier.ErrShiftAlreadyOpen
	}
	return nil
}

func (s *Store) ReleaseActiveShift(ctx context.Context, shiftID cashier.ShiftID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM active_shift WHERE slot = 1 AND shift_id = ?
	`, string(shiftID))
	return err
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (cashier.Shift, error) {
	var shift cashier.Shift
	var id, status, startTime, cashStart, nonCashStart, cashEnd, nonCashEnd, opID, opName string
	var endTime, actualCash, actualNonCash sql.NullString

	err := row.Scan(&id, &status, &startTime, &endTime, &cashStart, &nonCashStart,
		&cashEnd, &nonCashEnd, &actualCash, &actualNonCash, &opID, &opName)
	if err != nil {
		return cashier.Shift{}, err
	}

	shift.ID = cashier.ShiftID(id)
	shift.Status = cashier.ShiftStatus(status)
	shift.OperatorID = opID
	shift.OperatorName = opName

	if shift.StartTime, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt start_time %q: %w", startTime, err)
	}
	if endTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, endTime.String)
		if err != nil {
			return cashier.Shift{}, fmt.Errorf("corrupt end_time %q: %w", endTime.String, err)
		}
		shift.EndTime = &t
	}

	if shift.CashStart, err = decimal.NewFromString(cashStart); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt cash_start %q: %w", cashStart, err)
	}
	if shift.NonCashStart, err = decimal.NewFromString(nonCashStart); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt noncash_start %q: %w", nonCashStart, err)
	}
	if shift.CashEnd, err = decimal.NewFromString(cashEnd); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt cash_end %q: %w", cashEnd, err)
	}
	if shift.NonCashEnd, err = decimal.NewFromString(nonCashEnd); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt noncash_end %q: %w", nonCashEnd, err)
	}
	if actualCash.Valid {
		v, err := decimal.NewFromString(actualCash.String)
		if err != nil {
			return cashier.Shift{}, fmt.Errorf("corrupt actual_cash %q: %w", actualCash.String, err)
		}
		shift.ActualCash = &v
	}
	if actualNonCash.Valid {
		v, err := decimal.NewFromString(actualNonCash.String)
		if err != nil {
			return cashier.Shift{}, fmt.Errorf("corrupt actual_noncash %q: %w", actualNonCash.String, err)
		}
		shift.ActualNonCash = &v
	}

	return shift, nil
}

/*
gateway.go - Persistence contract consumed by the engine

PURPOSE:
  The engine never talks to a database directly; it consumes this Gateway.
  Two logical collections back it: shifts and transactions, related by a
  shift-id foreign key. Transactions are append-only; shifts are patched
  exactly twice in a normal lifecycle (actuals staged, then closed).

ACTIVE-SHIFT CLAIM:
  The single-open-shift invariant is not left to application convention.
  ClaimActiveShift is a conditional write on a single well-known record:
  it succeeds only when no claim is held (or the same shift already holds
  it), so two concurrent opens cannot both commit.

IMPLEMENTATIONS:
  - store/memory:    in-memory, for tests and development
  - store/sqlite:    embedded SQLite
  - store/firestore: Cloud Firestore document store
*/
package cashier

import "context"

// Gateway is the durable store contract.
//
// Error contract: implementations return ErrShiftNotFound for unknown shift
// ids and ErrShiftAlreadyOpen for a lost claim race; any other failure is
// an infrastructure error and is propagated untouched.
type Gateway interface {
	// CreateShift persists a new shift and returns the assigned id.
	CreateShift(ctx context.Context, shift Shift) (ShiftID, error)

	// GetShift returns a shift by id.
	GetShift(ctx context.Context, id ShiftID) (Shift, error)

	// UpdateShift applies a partial update. Nil patch fields are untouched.
	UpdateShift(ctx context.Context, id ShiftID, patch ShiftPatch) error

	// ListShifts returns all shifts, newest first.
	ListShifts(ctx context.Context) ([]Shift, error)

	// FindOpenShift returns the shift with a nil end time, or nil if every
	// shift is closed.
	FindOpenShift(ctx context.Context) (*Shift, error)

	// AppendTransaction persists a ledger entry and returns the assigned id.
	// Append-only: there is no update or delete for transactions.
	AppendTransaction(ctx context.Context, tx Transaction) (TransactionID, error)

	// TransactionsForShift returns the full ledger for a shift in creation
	// order.
	TransactionsForShift(ctx context.Context, shiftID ShiftID) ([]Transaction, error)

	// ClaimActiveShift takes the active-shift claim for shiftID. It succeeds
	// if the claim is free or already held by the same shift, and returns
	// ErrShiftAlreadyOpen if another shift holds it.
	ClaimActiveShift(ctx context.Context, shiftID ShiftID) error

	// ReleaseActiveShift releases the claim if held by shiftID. Releasing a
	// claim that is not held is not an error.
	ReleaseActiveShift(ctx context.Context, shiftID ShiftID) error
}

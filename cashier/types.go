/*
Package cashier is the core cash-drawer engine: shift lifecycle, the
append-only transaction ledger, running balances, and reconciliation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Shift: one operator's drawer working period, Open -> PendingClose -> Closed
  - Transaction: an immutable ledger entry belonging to a shift
  - SessionState: the live in-memory view of the currently open shift
  - ShiftReport: a derived, never-persisted reconciliation view

DESIGN PRINCIPLES:
  1. Money is decimal.Decimal, never float64
  2. Transactions are append-only; corrections are new entries, not edits
  3. Balances are always derivable by replaying the ledger
  4. Everything the UI sees is plain data (no callbacks, no live handles)

SEE ALSO:
  - session.go: Session manager (lifecycle + running balances)
  - report.go: Reconciliation engine
  - gateway.go: Persistence contract consumed by both
*/
package cashier

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ShiftID string
type TransactionID string

// =============================================================================
// PAYMENT CHANNELS
// =============================================================================

// PaymentChannel is one of the two independently tracked drawer balances.
type PaymentChannel string

const (
	ChannelCash    PaymentChannel = "cash"
	ChannelNonCash PaymentChannel = "nonCash"
)

func (c PaymentChannel) Valid() bool {
	return c == ChannelCash || c == ChannelNonCash
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionType string

const (
	TxDeposit  TransactionType = "deposit"
	TxWithdraw TransactionType = "withdraw" // carries a NEGATIVE amount
	// Synthetic markers written by the session manager at open/close.
	// Excluded from reconciliation sums and never accepted from callers.
	TxShiftOpen  TransactionType = "shift_open"
	TxShiftClose TransactionType = "shift_close"
)

// Synthetic reports whether t is a shift_open/shift_close marker.
func (t TransactionType) Synthetic() bool {
	return t == TxShiftOpen || t == TxShiftClose
}

// Transaction is an immutable monetary event belonging to a shift.
// Sign convention: withdraw amounts are negative, everything else is
// non-negative. The session layer trusts the caller's sign (it does not
// re-derive it from Type) but rejects synthetic types outright.
type Transaction struct {
	ID          TransactionID
	ShiftID     ShiftID
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	OperatorID  string
	Channel     PaymentChannel
	CreatedAt   time.Time
}

// TransactionInput is what callers supply to AddTransaction. The ID and
// CreatedAt are assigned at append time.
type TransactionInput struct {
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	OperatorID  string
	Channel     PaymentChannel
}

// =============================================================================
// SHIFTS
// =============================================================================

// ShiftStatus is the explicit shift lifecycle. The two-step close flow is
// Open -> PendingClose (actuals staged) -> Closed; EndSession is rejected
// from any state but PendingClose.
type ShiftStatus string

const (
	ShiftOpen         ShiftStatus = "open"
	ShiftPendingClose ShiftStatus = "pending_close"
	ShiftClosed       ShiftStatus = "closed"
)

// Shift is one cash-drawer working period.
//
// INVARIANT: at most one shift with a nil EndTime exists system-wide.
// The gateway's active-shift claim enforces this across processes.
type Shift struct {
	ID           ShiftID
	Status       ShiftStatus
	StartTime    time.Time
	EndTime      *time.Time // nil while the shift is not closed
	CashStart    decimal.Decimal
	NonCashStart decimal.Decimal
	CashEnd      decimal.Decimal // counted amounts, set at close
	NonCashEnd   decimal.Decimal

	// Staged by SubmitActualAmounts before the operator confirms the close.
	ActualCash    *decimal.Decimal
	ActualNonCash *decimal.Decimal

	OperatorID   string
	OperatorName string
}

// Closed reports whether the shift has been closed out.
func (s Shift) Closed() bool { return s.Status == ShiftClosed }

// ShiftPatch is a partial update applied to a stored shift. Nil fields are
// left untouched. Only the session manager issues patches; the ledger itself
// is never updated.
type ShiftPatch struct {
	Status        *ShiftStatus
	EndTime       *time.Time
	CashEnd       *decimal.Decimal
	NonCashEnd    *decimal.Decimal
	ActualCash    *decimal.Decimal
	ActualNonCash *decimal.Decimal
}

// =============================================================================
// LIVE SESSION STATE
// =============================================================================

// SessionState is the plain-data snapshot handed to the UI layer.
//
// INVARIANT: CashBalance == CashStart + sum of signed cash amounts recorded
// so far for the current shift, excluding synthetic markers. Same for
// NonCashBalance on the nonCash channel.
type SessionState struct {
	Open           bool
	ShiftID        ShiftID
	StartTime      time.Time
	CashBalance    decimal.Decimal
	NonCashBalance decimal.Decimal
	Transactions   []Transaction
	OperatorID     string
	OperatorName   string
}

// =============================================================================
// DERIVED REPORTS
// =============================================================================

// ShiftReport is a computed, never-persisted reconciliation view of a shift.
// Expected amounts are derived purely from recorded transactions, excluding
// synthetic markers and the starting float.
type ShiftReport struct {
	ShiftID         ShiftID
	Status          ShiftStatus
	StartTime       time.Time
	EndTime         *time.Time
	CashStart       decimal.Decimal
	NonCashStart    decimal.Decimal
	CashEnd         decimal.Decimal
	NonCashEnd      decimal.Decimal
	ExpectedCash    decimal.Decimal
	ExpectedNonCash decimal.Decimal
	OperatorID      string
	OperatorName    string
	Transactions    []Transaction
}

// ExpectedClosingCash is the full drawer expectation for the cash channel:
// starting float plus recorded movement. Counted actuals are compared
// against this base, not against ExpectedCash alone.
func (r ShiftReport) ExpectedClosingCash() decimal.Decimal {
	return r.CashStart.Add(r.ExpectedCash)
}

func (r ShiftReport) ExpectedClosingNonCash() decimal.Decimal {
	return r.NonCashStart.Add(r.ExpectedNonCash)
}

// Reconciliation compares operator-counted amounts against a report.
// A non-zero difference is information for the operator, never a blocking
// error: shifts may close with a discrepancy, which stays visible here.
type Reconciliation struct {
	ShiftID               ShiftID
	ExpectedClosingCash   decimal.Decimal
	ExpectedClosingNonCash decimal.Decimal
	ActualCash            decimal.Decimal
	ActualNonCash         decimal.Decimal
	CashDifference        decimal.Decimal // actual - expected closing
	NonCashDifference     decimal.Decimal
}

// Reconcile evaluates counted actuals against the report's expectation.
func Reconcile(r ShiftReport, actualCash, actualNonCash decimal.Decimal) Reconciliation {
	expCash := r.ExpectedClosingCash()
	expNonCash := r.ExpectedClosingNonCash()
	return Reconciliation{
		ShiftID:                r.ShiftID,
		ExpectedClosingCash:    expCash,
		ExpectedClosingNonCash: expNonCash,
		ActualCash:             actualCash,
		ActualNonCash:          actualNonCash,
		CashDifference:         actualCash.Sub(expCash),
		NonCashDifference:      actualNonCash.Sub(expNonCash),
	}
}

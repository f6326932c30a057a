/*
session.go - Shift session manager

PURPOSE:
  Owns the lifecycle of exactly one open shift at a time and maintains the
  running cash/nonCash balances for it. Every mutation is durable-first:
  the gateway write happens before the in-memory update, so a failed write
  leaves the live state exactly as it was.

LIFECYCLE:
  StartSession        -> shift created, claim taken, shift_open marker
  AddTransaction      -> ledger append + balance update
  SubmitActualAmounts -> Open -> PendingClose, reconciliation returned
  EndSession          -> PendingClose -> Closed, shift_close marker, claim
                         released, live state reset
  GetActiveSession    -> restart recovery: replay the ledger of the open
                         shift into fresh in-memory state

CONCURRENCY:
  A single mutex serializes every state mutation. Two concurrent
  AddTransaction calls cannot interleave their read-modify-write of the
  balances, and the recompute-after-await hazard of the original platform
  model disappears entirely.

SEE ALSO:
  - report.go: reconciliation engine used by SubmitActualAmounts
  - gateway.go: the claim that closes the two-devices race on StartSession
*/
package cashier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	descShiftOpened = "shift opened"
	descShiftClosed = "shift closed"
)

// SessionManager enforces single-active-shift semantics and maintains the
// running balances of the open shift. One instance per process; construct
// with NewSessionManager and share by reference.
type SessionManager struct {
	mu  sync.Mutex
	gw  Gateway
	log *logrus.Logger
	now func() time.Time

	state SessionState
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) { m.now = now }
}

// WithLogger sets the logger. Defaults to the standard logrus logger.
func WithLogger(log *logrus.Logger) Option {
	return func(m *SessionManager) { m.log = log }
}

func NewSessionManager(gw Gateway, opts ...Option) *SessionManager {
	m := &SessionManager{
		gw:  gw,
		log: logrus.StandardLogger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// StartSession opens a new shift with the given starting floats and seeds
// the live state. Returns ErrShiftAlreadyOpen if any shift is open
// system-wide, including one opened concurrently from another device.
func (m *SessionManager) StartSession(ctx context.Context, operatorID, operatorName string, startingCash, startingNonCash decimal.Decimal) (SessionState, error) {
	if err := validateNonNegative("startingCash", startingCash); err != nil {
		return SessionState{}, err
	}
	if err := validateNonNegative("startingNonCash", startingNonCash); err != nil {
		return SessionState{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Open {
		return SessionState{}, &StateError{ShiftID: m.state.ShiftID, From: ShiftOpen, Attempted: "open another shift while"}
	}

	// Re-query before commit: cheap detection of a shift opened elsewhere.
	// The claim below is what actually closes the race.
	if open, err := m.gw.FindOpenShift(ctx); err != nil {
		return SessionState{}, fmt.Errorf("checking for open shift: %w", err)
	} else if open != nil {
		return SessionState{}, fmt.Errorf("shift %s: %w", open.ID, ErrShiftAlreadyOpen)
	}

	startedAt := m.now()
	shiftID, err := m.gw.CreateShift(ctx, Shift{
		Status:       ShiftOpen,
		StartTime:    startedAt,
		CashStart:    startingCash,
		NonCashStart: startingNonCash,
		OperatorID:   operatorID,
		OperatorName: operatorName,
	})
	if err != nil {
		return SessionState{}, fmt.Errorf("creating shift: %w", err)
	}

	if err := m.gw.ClaimActiveShift(ctx, shiftID); err != nil {
		// Lost the race: another device committed first. Void the record we
		// just created so it never shows up as a second open shift.
		m.voidShift(ctx, shiftID, startedAt)
		return SessionState{}, fmt.Errorf("claiming active shift: %w", err)
	}

	openTx := Transaction{
		ShiftID:     shiftID,
		Type:        TxShiftOpen,
		Amount:      startingCash.Add(startingNonCash),
		Description: descShiftOpened,
		OperatorID:  operatorID,
		Channel:     ChannelCash,
		CreatedAt:   startedAt,
	}
	txID, err := m.gw.AppendTransaction(ctx, openTx)
	if err != nil {
		return SessionState{}, fmt.Errorf("appending shift_open marker: %w", err)
	}
	openTx.ID = txID

	m.state = SessionState{
		Open:           true,
		ShiftID:        shiftID,
		StartTime:      startedAt,
		CashBalance:    startingCash,
		NonCashBalance: startingNonCash,
		Transactions:   []Transaction{openTx},
		OperatorID:     operatorID,
		OperatorName:   operatorName,
	}

	m.log.WithFields(logrus.Fields{
		"shiftID":  shiftID,
		"operator": operatorID,
		"cash":     startingCash,
		"nonCash":  startingNonCash,
	}).Info("shift opened")

	return m.snapshotLocked(), nil
}

// AddTransaction appends a durable ledger entry for the currently open shift
// and updates the matching running balance. The caller owns the sign
// convention (withdraw negative); this layer does not re-derive it.
func (m *SessionManager) AddTransaction(ctx context.Context, shiftID ShiftID, input TransactionInput) (Transaction, error) {
	if input.Type.Synthetic() {
		return Transaction{}, ErrReservedTransactionType
	}
	if input.Type != TxDeposit && input.Type != TxWithdraw {
		return Transaction{}, fmt.Errorf("unknown transaction type %q: %w", input.Type, ErrReservedTransactionType)
	}
	if !input.Channel.Valid() {
		return Transaction{}, fmt.Errorf("channel %q: %w", input.Channel, ErrInvalidChannel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Open {
		return Transaction{}, ErrShiftNotOpen
	}
	if m.state.ShiftID != shiftID {
		return Transaction{}, fmt.Errorf("shift %s is not the open shift: %w", shiftID, ErrShiftNotOpen)
	}

	tx := Transaction{
		ShiftID:     shiftID,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		OperatorID:  input.OperatorID,
		Channel:     input.Channel,
		CreatedAt:   m.now(),
	}
	txID, err := m.gw.AppendTransaction(ctx, tx)
	if err != nil {
		// Durable write failed: live state stays untouched.
		return Transaction{}, fmt.Errorf("appending transaction: %w", err)
	}
	tx.ID = txID

	m.state.Transactions = append(m.state.Transactions, tx)
	switch tx.Channel {
	case ChannelCash:
		m.state.CashBalance = m.state.CashBalance.Add(tx.Amount)
	case ChannelNonCash:
		m.state.NonCashBalance = m.state.NonCashBalance.Add(tx.Amount)
	}

	return tx, nil
}

// SubmitActualAmounts stages the operator's physically counted amounts and
// moves the shift from Open to PendingClose. The returned reconciliation
// shows the per-channel difference; a discrepancy is surfaced, not blocking.
// Resubmitting while PendingClose replaces the staged amounts.
func (m *SessionManager) SubmitActualAmounts(ctx context.Context, shiftID ShiftID, actualCash, actualNonCash decimal.Decimal) (Reconciliation, error) {
	if err := validateNonNegative("actualCash", actualCash); err != nil {
		return Reconciliation{}, err
	}
	if err := validateNonNegative("actualNonCash", actualNonCash); err != nil {
		return Reconciliation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	shift, err := m.gw.GetShift(ctx, shiftID)
	if err != nil {
		return Reconciliation{}, err
	}
	if shift.Status != ShiftOpen && shift.Status != ShiftPendingClose {
		return Reconciliation{}, &StateError{ShiftID: shiftID, From: shift.Status, Attempted: "submit actual amounts for"}
	}

	pending := ShiftPendingClose
	patch := ShiftPatch{
		Status:        &pending,
		ActualCash:    &actualCash,
		ActualNonCash: &actualNonCash,
	}
	if err := m.gw.UpdateShift(ctx, shiftID, patch); err != nil {
		return Reconciliation{}, fmt.Errorf("staging actual amounts: %w", err)
	}

	txs, err := m.gw.TransactionsForShift(ctx, shiftID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("loading ledger: %w", err)
	}
	shift.Status = pending
	report := buildReport(shift, txs)
	return Reconcile(report, actualCash, actualNonCash), nil
}

// EndSession closes a shift that is in PendingClose: sets the end time and
// counted ending amounts, appends the shift_close marker, releases the
// active-shift claim, and resets the live state. Closing from any other
// state fails; double-close never silently succeeds.
func (m *SessionManager) EndSession(ctx context.Context, shiftID ShiftID, actualCash, actualNonCash decimal.Decimal) error {
	if err := validateNonNegative("actualCash", actualCash); err != nil {
		return err
	}
	if err := validateNonNegative("actualNonCash", actualNonCash); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	shift, err := m.gw.GetShift(ctx, shiftID)
	if err != nil {
		return err
	}
	if shift.Status != ShiftPendingClose {
		return &StateError{ShiftID: shiftID, From: shift.Status, Attempted: "close"}
	}

	endedAt := m.now()
	closed := ShiftClosed
	patch := ShiftPatch{
		Status:     &closed,
		EndTime:    &endedAt,
		CashEnd:    &actualCash,
		NonCashEnd: &actualNonCash,
	}
	if err := m.gw.UpdateShift(ctx, shiftID, patch); err != nil {
		return fmt.Errorf("closing shift: %w", err)
	}

	closeTx := Transaction{
		ShiftID:     shiftID,
		Type:        TxShiftClose,
		Amount:      actualCash.Add(actualNonCash),
		Description: descShiftClosed,
		OperatorID:  shift.OperatorID,
		Channel:     ChannelCash,
		CreatedAt:   endedAt,
	}
	if _, err := m.gw.AppendTransaction(ctx, closeTx); err != nil {
		return fmt.Errorf("appending shift_close marker: %w", err)
	}

	if err := m.gw.ReleaseActiveShift(ctx, shiftID); err != nil {
		// The shift is durably closed; a stale claim only blocks the next
		// open, which recovers it via GetActiveSession. Log and move on.
		m.log.WithField("shiftID", shiftID).WithError(err).Warn("failed to release active shift claim")
	}

	if m.state.ShiftID == shiftID {
		m.state = SessionState{}
	}

	m.log.WithFields(logrus.Fields{
		"shiftID": shiftID,
		"cash":    actualCash,
		"nonCash": actualNonCash,
	}).Info("shift closed")

	return nil
}

// =============================================================================
// RECOVERY & SNAPSHOTS
// =============================================================================

// GetActiveSession rebuilds the live state from the durable store. This is
// the only way session state survives a process restart: it finds the (at
// most one) shift with a nil end time and replays its ledger.
//
// Both balances are replayed the same way: starting float plus the sum of
// signed amounts on that channel, synthetic markers excluded. This matches
// the running-balance invariant exactly, so a recovered session is
// indistinguishable from one that never restarted.
func (m *SessionManager) GetActiveSession(ctx context.Context) (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shift, err := m.gw.FindOpenShift(ctx)
	if err != nil {
		return SessionState{}, fmt.Errorf("finding open shift: %w", err)
	}
	if shift == nil {
		m.state = SessionState{}
		return m.snapshotLocked(), nil
	}

	txs, err := m.gw.TransactionsForShift(ctx, shift.ID)
	if err != nil {
		return SessionState{}, fmt.Errorf("loading ledger for shift %s: %w", shift.ID, err)
	}

	cash, nonCash := replayBalances(*shift, txs)
	m.state = SessionState{
		Open:           true,
		ShiftID:        shift.ID,
		StartTime:      shift.StartTime,
		CashBalance:    cash,
		NonCashBalance: nonCash,
		Transactions:   txs,
		OperatorID:     shift.OperatorID,
		OperatorName:   shift.OperatorName,
	}

	// Re-take the claim in case it was lost with the process. Held-by-same
	// is a no-op; held-by-other means the store disagrees with itself and
	// deserves a loud log line.
	if err := m.gw.ClaimActiveShift(ctx, shift.ID); err != nil {
		m.log.WithField("shiftID", shift.ID).WithError(err).Warn("active shift claim held by another shift")
	}

	return m.snapshotLocked(), nil
}

// Snapshot returns a copy of the live session state.
func (m *SessionManager) Snapshot() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *SessionManager) snapshotLocked() SessionState {
	snap := m.state
	snap.Transactions = append([]Transaction(nil), m.state.Transactions...)
	return snap
}

// voidShift closes an orphan shift record created after a lost claim race.
// Best effort: the record is already unreachable as "open" once the winner
// holds the claim.
func (m *SessionManager) voidShift(ctx context.Context, shiftID ShiftID, at time.Time) {
	closed := ShiftClosed
	zero := decimal.Zero
	patch := ShiftPatch{Status: &closed, EndTime: &at, CashEnd: &zero, NonCashEnd: &zero}
	if err := m.gw.UpdateShift(ctx, shiftID, patch); err != nil {
		m.log.WithField("shiftID", shiftID).WithError(err).Error("failed to void orphan shift after lost claim race")
	}
}

// replayBalances derives both channel balances from the ledger. Synthetic
// markers never contribute; the starting floats come from the shift record.
func replayBalances(shift Shift, txs []Transaction) (cash, nonCash decimal.Decimal) {
	cash = shift.CashStart
	nonCash = shift.NonCashStart
	for _, tx := range txs {
		if tx.Type.Synthetic() {
			continue
		}
		switch tx.Channel {
		case ChannelCash:
			cash = cash.Add(tx.Amount)
		case ChannelNonCash:
			nonCash = nonCash.Add(tx.Amount)
		}
	}
	return cash, nonCash
}

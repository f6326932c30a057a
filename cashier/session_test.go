package cashier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beanline/till-engine/cashier"
	"github.com/beanline/till-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestManager(t *testing.T) (*cashier.SessionManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	mgr := cashier.NewSessionManager(store)
	return mgr, store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func deposit(amount, channel string) cashier.TransactionInput {
	return cashier.TransactionInput{
		Type:       cashier.TxDeposit,
		Amount:     dec(amount),
		OperatorID: "op-1",
		Channel:    cashier.PaymentChannel(channel),
	}
}

func withdraw(amount, description string) cashier.TransactionInput {
	return cashier.TransactionInput{
		Type:        cashier.TxWithdraw,
		Amount:      dec(amount),
		Description: description,
		OperatorID:  "op-1",
		Channel:     cashier.ChannelCash,
	}
}

// openShift opens a shift with the given floats and returns its id.
func openShift(t *testing.T, mgr *cashier.SessionManager, cash, nonCash string) cashier.ShiftID {
	t.Helper()
	state, err := mgr.StartSession(context.Background(), "op-1", "Dana", dec(cash), dec(nonCash))
	require.NoError(t, err)
	require.True(t, state.Open)
	return state.ShiftID
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestStartSession_SeedsStateAndLedger(t *testing.T) {
	// GIVEN: no open shift
	// WHEN: a shift is opened with cash=1000 nonCash=250
	// THEN: balances equal the floats and the ledger holds one open marker

	mgr, store := newTestManager(t)
	ctx := context.Background()

	state, err := mgr.StartSession(ctx, "op-1", "Dana", dec("1000"), dec("250"))
	require.NoError(t, err)

	assert.True(t, state.Open)
	assert.True(t, state.CashBalance.Equal(dec("1000")))
	assert.True(t, state.NonCashBalance.Equal(dec("250")))
	require.Len(t, state.Transactions, 1)
	assert.Equal(t, cashier.TxShiftOpen, state.Transactions[0].Type)
	assert.True(t, state.Transactions[0].Amount.Equal(dec("1250")), "open marker carries the full float")

	txs, err := store.TransactionsForShift(ctx, state.ShiftID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, cashier.TxShiftOpen, txs[0].Type)
}

func TestStartSession_RejectsSecondOpen(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	openShift(t, mgr, "100", "0")

	_, err := mgr.StartSession(ctx, "op-2", "Robin", dec("50"), dec("0"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, cashier.ErrInvalidShiftState)
}

func TestStartSession_RejectsOpenShiftFromAnotherDevice(t *testing.T) {
	// GIVEN: another process opened a shift against the same store
	// WHEN: this manager (with empty in-memory state) tries to open
	// THEN: the open is rejected before any write

	store := memory.New()
	other := cashier.NewSessionManager(store)
	openShift(t, other, "100", "0")

	mgr := cashier.NewSessionManager(store)
	_, err := mgr.StartSession(context.Background(), "op-2", "Robin", dec("50"), dec("0"))
	assert.ErrorIs(t, err, cashier.ErrShiftAlreadyOpen)
}

func TestStartSession_RejectsNegativeFloat(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.StartSession(context.Background(), "op-1", "Dana", dec("-5"), dec("0"))
	assert.ErrorIs(t, err, cashier.ErrInvalidAmount)

	var amountErr *cashier.AmountError
	require.ErrorAs(t, err, &amountErr)
	assert.Equal(t, "startingCash", amountErr.Field)
}

// =============================================================================
// RUNNING BALANCES
// =============================================================================

func TestAddTransaction_BalanceInvariant(t *testing.T) {
	// For any sequence of transactions, cashBalance equals the starting
	// float plus the signed sum of cash amounts, and likewise for nonCash.

	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "200", "100")

	inputs := []cashier.TransactionInput{
		deposit("50", "cash"),
		deposit("75.25", "nonCash"),
		withdraw("-30", "supplies"),
		deposit("10", "cash"),
		{Type: cashier.TxWithdraw, Amount: dec("-25.25"), OperatorID: "op-1", Channel: cashier.ChannelNonCash},
	}
	for _, input := range inputs {
		_, err := mgr.AddTransaction(ctx, shiftID, input)
		require.NoError(t, err)
	}

	state := mgr.Snapshot()
	assert.True(t, state.CashBalance.Equal(dec("230")), "200 + 50 - 30 + 10, got %s", state.CashBalance)
	assert.True(t, state.NonCashBalance.Equal(dec("150")), "100 + 75.25 - 25.25, got %s", state.NonCashBalance)
	assert.Len(t, state.Transactions, 6, "open marker plus five entries")
}

func TestAddTransaction_RejectsWhenNoShiftOpen(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.AddTransaction(context.Background(), "shift-x", deposit("10", "cash"))
	assert.ErrorIs(t, err, cashier.ErrShiftNotOpen)
}

func TestAddTransaction_RejectsWrongShift(t *testing.T) {
	mgr, _ := newTestManager(t)
	openShift(t, mgr, "100", "0")

	_, err := mgr.AddTransaction(context.Background(), "some-other-shift", deposit("10", "cash"))
	assert.ErrorIs(t, err, cashier.ErrShiftNotOpen)
}

func TestAddTransaction_RejectsSyntheticTypes(t *testing.T) {
	mgr, _ := newTestManager(t)
	shiftID := openShift(t, mgr, "100", "0")

	_, err := mgr.AddTransaction(context.Background(), shiftID, cashier.TransactionInput{
		Type:       cashier.TxShiftOpen,
		Amount:     dec("100"),
		OperatorID: "op-1",
		Channel:    cashier.ChannelCash,
	})
	assert.ErrorIs(t, err, cashier.ErrReservedTransactionType)
}

func TestAddTransaction_RejectsInvalidChannel(t *testing.T) {
	mgr, _ := newTestManager(t)
	shiftID := openShift(t, mgr, "100", "0")

	_, err := mgr.AddTransaction(context.Background(), shiftID, cashier.TransactionInput{
		Type:       cashier.TxDeposit,
		Amount:     dec("10"),
		OperatorID: "op-1",
		Channel:    "voucher",
	})
	assert.ErrorIs(t, err, cashier.ErrInvalidChannel)
}

func TestAddTransaction_FailedWriteLeavesStateUntouched(t *testing.T) {
	// GIVEN: a gateway whose appends start failing
	// WHEN: AddTransaction fails durably
	// THEN: balances and the transaction list are exactly as before

	store := memory.New()
	flaky := &flakyGateway{Gateway: store}
	mgr := cashier.NewSessionManager(flaky)
	ctx := context.Background()

	state, err := mgr.StartSession(ctx, "op-1", "Dana", dec("500"), dec("0"))
	require.NoError(t, err)

	flaky.failAppend = true
	_, err = mgr.AddTransaction(ctx, state.ShiftID, deposit("100", "cash"))
	require.Error(t, err)

	after := mgr.Snapshot()
	assert.True(t, after.CashBalance.Equal(dec("500")))
	assert.Len(t, after.Transactions, 1, "only the open marker")
}

// =============================================================================
// TWO-STEP CLOSE
// =============================================================================

func TestSubmitActualAmounts_ReportsDifference(t *testing.T) {
	// Scenario from the reconciliation design: open with cash=1000,
	// deposit +500, withdraw -200 ("snack"). Counted 1290 -> difference -10.

	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "1000", "0")

	_, err := mgr.AddTransaction(ctx, shiftID, deposit("500", "cash"))
	require.NoError(t, err)
	_, err = mgr.AddTransaction(ctx, shiftID, withdraw("-200", "snack"))
	require.NoError(t, err)

	assert.True(t, mgr.Snapshot().CashBalance.Equal(dec("1300")))

	rec, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("1290"), dec("0"))
	require.NoError(t, err)

	assert.True(t, rec.ExpectedClosingCash.Equal(dec("1300")), "float plus movement")
	assert.True(t, rec.CashDifference.Equal(dec("-10")), "shortage is surfaced, not hidden")
	assert.True(t, rec.NonCashDifference.IsZero())
}

func TestSubmitActualAmounts_AllowsResubmission(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "100", "0")

	_, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("90"), dec("0"))
	require.NoError(t, err)

	// Operator recounts.
	rec, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("100"), dec("0"))
	require.NoError(t, err)
	assert.True(t, rec.CashDifference.IsZero())
}

func TestEndSession_RequiresStagedActuals(t *testing.T) {
	// EndSession is the PendingClose -> Closed transition only.

	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "100", "0")

	err := mgr.EndSession(ctx, shiftID, dec("100"), dec("0"))
	assert.ErrorIs(t, err, cashier.ErrInvalidShiftState)

	var stateErr *cashier.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, cashier.ShiftOpen, stateErr.From)
}

func TestEndSession_ClosesAndResets(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "100", "50")

	_, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("100"), dec("50"))
	require.NoError(t, err)
	require.NoError(t, mgr.EndSession(ctx, shiftID, dec("100"), dec("50")))

	state := mgr.Snapshot()
	assert.False(t, state.Open)
	assert.Empty(t, state.Transactions)

	shift, err := store.GetShift(ctx, shiftID)
	require.NoError(t, err)
	assert.Equal(t, cashier.ShiftClosed, shift.Status)
	require.NotNil(t, shift.EndTime)
	assert.True(t, shift.CashEnd.Equal(dec("100")))

	txs, err := store.TransactionsForShift(ctx, shiftID)
	require.NoError(t, err)
	assert.Equal(t, cashier.TxShiftClose, txs[len(txs)-1].Type)

	// The claim is released: a new shift can open.
	_, err = mgr.StartSession(ctx, "op-2", "Robin", dec("80"), dec("0"))
	assert.NoError(t, err)
}

func TestEndSession_DoubleCloseFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "100", "0")

	_, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("100"), dec("0"))
	require.NoError(t, err)
	require.NoError(t, mgr.EndSession(ctx, shiftID, dec("100"), dec("0")))

	err = mgr.EndSession(ctx, shiftID, dec("100"), dec("0"))
	assert.Error(t, err, "double close must fail loudly")
	assert.ErrorIs(t, err, cashier.ErrShiftAlreadyClosed)
}

func TestEndSession_UnknownShiftFails(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.EndSession(context.Background(), "no-such-shift", dec("0"), dec("0"))
	assert.ErrorIs(t, err, cashier.ErrShiftNotFound)
}

// =============================================================================
// RESTART RECOVERY
// =============================================================================

func TestGetActiveSession_RoundTrip(t *testing.T) {
	// GIVEN: an open shift with recorded movement
	// WHEN: a fresh manager (simulating a restart) recovers from the store
	// THEN: both balances match a direct replay of the ledger

	store := memory.New()
	before := cashier.NewSessionManager(store)
	ctx := context.Background()

	state, err := before.StartSession(ctx, "op-1", "Dana", dec("1000"), dec("300"))
	require.NoError(t, err)
	shiftID := state.ShiftID

	_, err = before.AddTransaction(ctx, shiftID, deposit("500", "cash"))
	require.NoError(t, err)
	_, err = before.AddTransaction(ctx, shiftID, deposit("120.50", "nonCash"))
	require.NoError(t, err)
	_, err = before.AddTransaction(ctx, shiftID, withdraw("-200", "snack"))
	require.NoError(t, err)

	live := before.Snapshot()

	// "Restart": brand new manager over the same durable store.
	after := cashier.NewSessionManager(store)
	recovered, err := after.GetActiveSession(ctx)
	require.NoError(t, err)

	assert.True(t, recovered.Open)
	assert.Equal(t, shiftID, recovered.ShiftID)
	assert.True(t, recovered.CashBalance.Equal(live.CashBalance),
		"recovered %s, live %s", recovered.CashBalance, live.CashBalance)
	assert.True(t, recovered.NonCashBalance.Equal(live.NonCashBalance),
		"recovered %s, live %s", recovered.NonCashBalance, live.NonCashBalance)
	assert.Len(t, recovered.Transactions, len(live.Transactions))
	assert.Equal(t, "op-1", recovered.OperatorID)
	assert.Equal(t, "Dana", recovered.OperatorName)
}

func TestGetActiveSession_NoOpenShift(t *testing.T) {
	mgr, _ := newTestManager(t)

	state, err := mgr.GetActiveSession(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.Empty(t, state.Transactions)
}

func TestGetActiveSession_AfterClose(t *testing.T) {
	store := memory.New()
	mgr := cashier.NewSessionManager(store)
	ctx := context.Background()

	shiftID := openShift(t, mgr, "100", "0")
	_, err := mgr.SubmitActualAmounts(ctx, shiftID, dec("100"), dec("0"))
	require.NoError(t, err)
	require.NoError(t, mgr.EndSession(ctx, shiftID, dec("100"), dec("0")))

	after := cashier.NewSessionManager(store)
	state, err := after.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, state.Open, "closed shifts are not recovered")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAddTransaction_ConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	// Two goroutines hammer the same shift; the final balance must equal
	// the full sum - no interleaved read-modify-write may drop a deposit.

	mgr, _ := newTestManager(t)
	ctx := context.Background()
	shiftID := openShift(t, mgr, "0", "0")

	const perWorker = 50
	done := make(chan struct{}, 2)
	for w := 0; w < 2; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < perWorker; i++ {
				_, err := mgr.AddTransaction(ctx, shiftID, deposit("1", "cash"))
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for workers")
		}
	}

	state := mgr.Snapshot()
	assert.True(t, state.CashBalance.Equal(dec("100")), "got %s", state.CashBalance)
}

// =============================================================================
// FAILURE-INJECTING GATEWAY
// =============================================================================

var errGatewayDown = errors.New("gateway down")

type flakyGateway struct {
	cashier.Gateway
	failAppend bool
	failLoad   map[cashier.ShiftID]bool
}

func (f *flakyGateway) AppendTransaction(ctx context.Context, tx cashier.Transaction) (cashier.TransactionID, error) {
	if f.failAppend {
		return "", errGatewayDown
	}
	return f.Gateway.AppendTransaction(ctx, tx)
}

func (f *flakyGateway) TransactionsForShift(ctx context.Context, shiftID cashier.ShiftID) ([]cashier.Transaction, error) {
	if f.failLoad[shiftID] {
		return nil, errGatewayDown
	}
	return f.Gateway.TransactionsForShift(ctx, shiftID)
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beanline/till-engine/cashier"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createShift(t *testing.T, store *Store, start time.Time) cashier.ShiftID {
	t.Helper()
	id, err := store.CreateShift(context.Background(), cashier.Shift{
		Status:       cashier.ShiftOpen,
		StartTime:    start,
		CashStart:    decimal.RequireFromString("1000.50"),
		NonCashStart: decimal.RequireFromString("250"),
		OperatorID:   "op-1",
		OperatorName: "Dana",
	})
	require.NoError(t, err)
	return id
}

func TestShiftRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	id := createShift(t, store, start)

	shift, err := store.GetShift(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, shift.ID)
	assert.Equal(t, cashier.ShiftOpen, shift.Status)
	assert.True(t, shift.StartTime.Equal(start), "stored %v, got %v", start, shift.StartTime)
	assert.True(t, shift.CashStart.Equal(decimal.RequireFromString("1000.50")), "no float rounding on the way through")
	assert.Nil(t, shift.EndTime)
	assert.Nil(t, shift.ActualCash)
}

func TestGetShift_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetShift(context.Background(), "missing")
	assert.ErrorIs(t, err, cashier.ErrShiftNotFound)
}

func TestUpdateShift_StageThenClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := createShift(t, store, time.Now())

	// Stage actuals.
	pending := cashier.ShiftPendingClose
	actualCash := decimal.RequireFromString("990.25")
	actualNonCash := decimal.RequireFromString("250")
	require.NoError(t, store.UpdateShift(ctx, id, cashier.ShiftPatch{
		Status:        &pending,
		ActualCash:    &actualCash,
		ActualNonCash: &actualNonCash,
	}))

	shift, err := store.GetShift(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cashier.ShiftPendingClose, shift.Status)
	require.NotNil(t, shift.ActualCash)
	assert.True(t, shift.ActualCash.Equal(actualCash))
	assert.Nil(t, shift.EndTime, "staging must not set the end time")

	// Confirm the close.
	closed := cashier.ShiftClosed
	endedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpdateShift(ctx, id, cashier.ShiftPatch{
		Status:     &closed,
		EndTime:    &endedAt,
		CashEnd:    &actualCash,
		NonCashEnd: &actualNonCash,
	}))

	shift, err = store.GetShift(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cashier.ShiftClosed, shift.Status)
	require.NotNil(t, shift.EndTime)
	assert.True(t, shift.EndTime.Equal(endedAt))
	assert.True(t, shift.CashEnd.Equal(actualCash))
}

func TestUpdateShift_NotFound(t *testing.T) {
	store := newTestStore(t)
	closed := cashier.ShiftClosed

	err := store.UpdateShift(context.Background(), "missing", cashier.ShiftPatch{Status: &closed})
	assert.ErrorIs(t, err, cashier.ErrShiftNotFound)
}

func TestListShifts_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	older := createShift(t, store, base.Add(-2*time.Hour))
	newer := createShift(t, store, base)

	shifts, err := store.ListShifts(ctx)
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.Equal(t, newer, shifts[0].ID)
	assert.Equal(t, older, shifts[1].ID)
}

func TestFindOpenShift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open, err := store.FindOpenShift(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	id := createShift(t, store, time.Now())

	open, err = store.FindOpenShift(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)

	closed := cashier.ShiftClosed
	endedAt := time.Now()
	require.NoError(t, store.UpdateShift(ctx, id, cashier.ShiftPatch{Status: &closed, EndTime: &endedAt}))

	open, err = store.FindOpenShift(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestTransactions_OrderedBySequence(t *testing.T) {
	// The per-shift seq column, not insertion timing, defines ledger order.

	store := newTestStore(t)
	ctx := context.Background()
	id := createShift(t, store, time.Now())

	sameInstant := time.Now().UTC()
	amounts := []string{"10", "-2.50", "30"}
	for _, amount := range amounts {
		_, err := store.AppendTransaction(ctx, cashier.Transaction{
			ShiftID:    id,
			Type:       cashier.TxDeposit,
			Amount:     decimal.RequireFromString(amount),
			OperatorID: "op-1",
			Channel:    cashier.ChannelCash,
			CreatedAt:  sameInstant,
		})
		require.NoError(t, err)
	}

	txs, err := store.TransactionsForShift(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, amount := range amounts {
		assert.True(t, txs[i].Amount.Equal(decimal.RequireFromString(amount)),
			"position %d: want %s, got %s", i, amount, txs[i].Amount)
	}
}

func TestTransactions_IsolatedPerShift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := createShift(t, store, time.Now().Add(-time.Hour))
	second := createShift(t, store, time.Now())

	for _, shiftID := range []cashier.ShiftID{first, second} {
		_, err := store.AppendTransaction(ctx, cashier.Transaction{
			ShiftID:    shiftID,
			Type:       cashier.TxDeposit,
			Amount:     decimal.NewFromInt(5),
			OperatorID: "op-1",
			Channel:    cashier.ChannelCash,
			CreatedAt:  time.Now(),
		})
		require.NoError(t, err)
	}

	txs, err := store.TransactionsForShift(ctx, first)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, first, txs[0].ShiftID)
}

func TestClaimActiveShift_ConditionalWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ClaimActiveShift(ctx, "shift-a"))
	require.NoError(t, store.ClaimActiveShift(ctx, "shift-a"), "holder re-claim is a no-op")

	err := store.ClaimActiveShift(ctx, "shift-b")
	assert.ErrorIs(t, err, cashier.ErrShiftAlreadyOpen)

	require.NoError(t, store.ReleaseActiveShift(ctx, "shift-b"), "non-holder release changes nothing")
	assert.ErrorIs(t, store.ClaimActiveShift(ctx, "shift-b"), cashier.ErrShiftAlreadyOpen)

	require.NoError(t, store.ReleaseActiveShift(ctx, "shift-a"))
	assert.NoError(t, store.ClaimActiveShift(ctx, "shift-b"))
}

func TestClaimSurvivesReopen(t *testing.T) {
	// The claim lives in the database, not the process: a reopened store
	// still sees it.

	dir := t.TempDir()
	path := filepath.Join(dir, "till.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.ClaimActiveShift(context.Background(), "shift-a"))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	err = reopened.ClaimActiveShift(context.Background(), "shift-b")
	assert.ErrorIs(t, err, cashier.ErrShiftAlreadyOpen)
	assert.NoError(t, reopened.ClaimActiveShift(context.Background(), "shift-a"))
}

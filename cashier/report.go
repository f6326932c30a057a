/*
report.go - Reconciliation engine

PURPOSE:
  Produces point-in-time reports for any shift, open or closed. A report is
  recomputed from the ledger on every request - nothing is cached, so it can
  never go stale. Expected amounts are what normal operation put into each
  channel: signed sums of deposits and withdrawals, excluding the synthetic
  open/close markers and the starting float.

ADMIN LISTING:
  ListReports hydrates every shift into a full report. One shift's failure
  is recorded and skipped; it never aborts the rest of the listing.
*/
package cashier

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine computes shift reports from the durable store.
type Engine struct {
	gw  Gateway
	log *logrus.Logger
}

func NewEngine(gw Gateway, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{gw: gw, log: log}
}

// GetReport fetches the shift and its full ledger and builds the
// reconciliation view. Returns ErrShiftNotFound for unknown ids.
// Calling it twice without intervening transactions yields identical
// results; the transaction list is returned in creation order and left
// unsorted beyond that (presentation owns ordering).
func (e *Engine) GetReport(ctx context.Context, shiftID ShiftID) (ShiftReport, error) {
	shift, err := e.gw.GetShift(ctx, shiftID)
	if err != nil {
		return ShiftReport{}, err
	}

	txs, err := e.gw.TransactionsForShift(ctx, shiftID)
	if err != nil {
		return ShiftReport{}, fmt.Errorf("loading ledger for shift %s: %w", shiftID, err)
	}

	return buildReport(shift, txs), nil
}

// ReportFailure flags a shift whose report could not be built during a
// bulk listing.
type ReportFailure struct {
	ShiftID ShiftID
	Err     error
}

// ListReports returns a report for every shift, newest first. Cost is
// O(shifts x transactions-per-shift). Failures are collected per shift and
// returned alongside the successes.
func (e *Engine) ListReports(ctx context.Context) ([]ShiftReport, []ReportFailure, error) {
	shifts, err := e.gw.ListShifts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing shifts: %w", err)
	}

	reports := make([]ShiftReport, 0, len(shifts))
	var failures []ReportFailure
	for _, shift := range shifts {
		txs, err := e.gw.TransactionsForShift(ctx, shift.ID)
		if err != nil {
			e.log.WithField("shiftID", shift.ID).WithError(err).Warn("skipping shift in report listing")
			failures = append(failures, ReportFailure{ShiftID: shift.ID, Err: err})
			continue
		}
		reports = append(reports, buildReport(shift, txs))
	}
	return reports, failures, nil
}

// buildReport partitions the ledger into channels and sums the signed
// amounts, excluding shift_open/shift_close markers.
func buildReport(shift Shift, txs []Transaction) ShiftReport {
	expectedCash := decimal.Zero
	expectedNonCash := decimal.Zero
	for _, tx := range txs {
		if tx.Type.Synthetic() {
			continue
		}
		switch tx.Channel {
		case ChannelCash:
			expectedCash = expectedCash.Add(tx.Amount)
		case ChannelNonCash:
			expectedNonCash = expectedNonCash.Add(tx.Amount)
		}
	}

	return ShiftReport{
		ShiftID:         shift.ID,
		Status:          shift.Status,
		StartTime:       shift.StartTime,
		EndTime:         shift.EndTime,
		CashStart:       shift.CashStart,
		NonCashStart:    shift.NonCashStart,
		CashEnd:         shift.CashEnd,
		NonCashEnd:      shift.NonCashEnd,
		ExpectedCash:    expectedCash,
		ExpectedNonCash: expectedNonCash,
		OperatorID:      shift.OperatorID,
		OperatorName:    shift.OperatorName,
		Transactions:    txs,
	}
}

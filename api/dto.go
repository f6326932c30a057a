/*
dto.go - Data Transfer Objects for API requests and responses

Amounts travel as decimal strings ("125.50"), never as JSON numbers, so no
client ever rounds money through a float64. Validation tags cover shape;
sign and parse checks happen in the handlers where they can map onto the
engine's error taxonomy.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/beanline/till-engine/cashier"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// StartSessionRequest opens a new shift with the starting floats.
type StartSessionRequest struct {
	StartingCash    string `json:"starting_cash" validate:"required"`
	StartingNonCash string `json:"starting_non_cash" validate:"required"`
}

// AddTransactionRequest appends a ledger entry to the open shift.
type AddTransactionRequest struct {
	Type        string `json:"type" validate:"required,oneof=deposit withdraw"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"max=500"`
	Channel     string `json:"channel" validate:"required,oneof=cash nonCash"`
}

// ActualAmountsRequest carries operator-counted closing amounts, used both
// to stage actuals and to confirm the close.
type ActualAmountsRequest struct {
	ActualCash    string `json:"actual_cash" validate:"required"`
	ActualNonCash string `json:"actual_non_cash" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SessionStateDTO is the live session snapshot.
type SessionStateDTO struct {
	Open           bool             `json:"open"`
	ShiftID        string           `json:"shift_id,omitempty"`
	StartTime      string           `json:"start_time,omitempty"`
	CashBalance    string           `json:"cash_balance"`
	NonCashBalance string           `json:"non_cash_balance"`
	OperatorID     string           `json:"operator_id,omitempty"`
	OperatorName   string           `json:"operator_name,omitempty"`
	Transactions   []TransactionDTO `json:"transactions"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID          string `json:"id"`
	ShiftID     string `json:"shift_id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	OperatorID  string `json:"operator_id"`
	Channel     string `json:"channel"`
	CreatedAt   string `json:"created_at"`
}

// ShiftReportDTO is the reconciliation view of one shift.
type ShiftReportDTO struct {
	ShiftID               string           `json:"shift_id"`
	Status                string           `json:"status"`
	StartTime             string           `json:"start_time"`
	EndTime               *string          `json:"end_time"`
	CashStart             string           `json:"cash_start"`
	NonCashStart          string           `json:"non_cash_start"`
	CashEnd               string           `json:"cash_end"`
	NonCashEnd            string           `json:"non_cash_end"`
	ExpectedCash          string           `json:"expected_cash"`
	ExpectedNonCash       string           `json:"expected_non_cash"`
	ExpectedClosingCash   string           `json:"expected_closing_cash"`
	ExpectedClosingNonCash string          `json:"expected_closing_non_cash"`
	OperatorID            string           `json:"operator_id"`
	OperatorName          string           `json:"operator_name"`
	Transactions          []TransactionDTO `json:"transactions"`
}

// ReconciliationDTO compares counted actuals with the expectation.
type ReconciliationDTO struct {
	ShiftID                string `json:"shift_id"`
	ExpectedClosingCash    string `json:"expected_closing_cash"`
	ExpectedClosingNonCash string `json:"expected_closing_non_cash"`
	ActualCash             string `json:"actual_cash"`
	ActualNonCash          string `json:"actual_non_cash"`
	CashDifference         string `json:"cash_difference"`
	NonCashDifference      string `json:"non_cash_difference"`
}

// ReportListDTO is the admin listing: every shift's report plus any shifts
// whose report could not be built.
type ReportListDTO struct {
	Reports []ShiftReportDTO   `json:"reports"`
	Failed  []ReportFailureDTO `json:"failed,omitempty"`
}

type ReportFailureDTO struct {
	ShiftID string `json:"shift_id"`
	Error   string `json:"error"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSessionStateDTO(s cashier.SessionState) SessionStateDTO {
	dto := SessionStateDTO{
		Open:           s.Open,
		ShiftID:        string(s.ShiftID),
		CashBalance:    s.CashBalance.String(),
		NonCashBalance: s.NonCashBalance.String(),
		OperatorID:     s.OperatorID,
		OperatorName:   s.OperatorName,
		Transactions:   toTransactionDTOs(s.Transactions),
	}
	if s.Open {
		dto.StartTime = s.StartTime.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTO(tx cashier.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		ShiftID:     string(tx.ShiftID),
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		OperatorID:  tx.OperatorID,
		Channel:     string(tx.Channel),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []cashier.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toShiftReportDTO(r cashier.ShiftReport) ShiftReportDTO {
	dto := ShiftReportDTO{
		ShiftID:                string(r.ShiftID),
		Status:                 string(r.Status),
		StartTime:              r.StartTime.Format(time.RFC3339),
		CashStart:              r.CashStart.String(),
		NonCashStart:           r.NonCashStart.String(),
		CashEnd:                r.CashEnd.String(),
		NonCashEnd:             r.NonCashEnd.String(),
		ExpectedCash:           r.ExpectedCash.String(),
		ExpectedNonCash:        r.ExpectedNonCash.String(),
		ExpectedClosingCash:    r.ExpectedClosingCash().String(),
		ExpectedClosingNonCash: r.ExpectedClosingNonCash().String(),
		OperatorID:             r.OperatorID,
		OperatorName:           r.OperatorName,
		Transactions:           toTransactionDTOs(r.Transactions),
	}
	if r.EndTime != nil {
		s := r.EndTime.Format(time.RFC3339)
		dto.EndTime = &s
	}
	return dto
}

func toReconciliationDTO(rec cashier.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		ShiftID:                string(rec.ShiftID),
		ExpectedClosingCash:    rec.ExpectedClosingCash.String(),
		ExpectedClosingNonCash: rec.ExpectedClosingNonCash.String(),
		ActualCash:             rec.ActualCash.String(),
		ActualNonCash:          rec.ActualNonCash.String(),
		CashDifference:         rec.CashDifference.String(),
		NonCashDifference:      rec.NonCashDifference.String(),
	}
}

// parseAmount parses a decimal string from a request body.
func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

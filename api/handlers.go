/*
handlers.go - HTTP handlers for the till engine

ENDPOINTS:
  GET  /api/session                   Live session snapshot
  POST /api/session                   Open a shift (starting floats)
  POST /api/session/recover           Rebuild session state from the store
  POST /api/shifts/{id}/transactions  Append a deposit/withdraw
  POST /api/shifts/{id}/actuals       Stage counted actuals -> reconciliation
  POST /api/shifts/{id}/close         Confirm close (PendingClose -> Closed)
  GET  /api/shifts/{id}/report        Reconciliation report for one shift
  GET  /api/reports                   Admin: every shift's report

ERROR HANDLING:
  Engine errors map onto HTTP statuses via the cashier error taxonomy:
  - 400: validation (bad amounts, bad channel/type)
  - 401: missing operator identity
  - 403: role not allowed
  - 404: unknown shift
  - 409: lifecycle conflicts (already open, already closed, wrong state)
  - 500: persistence failures
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/beanline/till-engine/auth"
	"github.com/beanline/till-engine/cashier"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Sessions *cashier.SessionManager
	Reports  *cashier.Engine
	Log      *logrus.Logger

	validate *validator.Validate
}

// NewHandler wires the engine into HTTP handlers.
func NewHandler(sessions *cashier.SessionManager, reports *cashier.Engine, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Sessions: sessions,
		Reports:  reports,
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// GetSession returns the live session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionStateDTO(h.Sessions.Snapshot()))
}

// StartSession opens a new shift for the authenticated operator.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	op, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Operator identity required", err)
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	startingCash, err := parseAmount(req.StartingCash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid starting_cash", err)
		return
	}
	startingNonCash, err := parseAmount(req.StartingNonCash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid starting_non_cash", err)
		return
	}

	state, err := h.Sessions.StartSession(r.Context(), op.ID, op.Name, startingCash, startingNonCash)
	if err != nil {
		h.writeEngineError(w, "Failed to start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionStateDTO(state))
}

// RecoverSession rebuilds session state from the durable store. Called by
// the app on startup.
func (h *Handler) RecoverSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.Sessions.GetActiveSession(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to recover session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateDTO(state))
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

// AddTransaction appends a deposit or withdrawal to the open shift.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	op, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Operator identity required", err)
		return
	}
	shiftID := cashier.ShiftID(chi.URLParam(r, "id"))

	var req AddTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Sessions.AddTransaction(r.Context(), shiftID, cashier.TransactionInput{
		Type:        cashier.TransactionType(req.Type),
		Amount:      amount,
		Description: req.Description,
		OperatorID:  op.ID,
		Channel:     cashier.PaymentChannel(req.Channel),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to add transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// SubmitActuals stages counted closing amounts and returns the
// reconciliation so the operator can review the differences before
// confirming the close.
func (h *Handler) SubmitActuals(w http.ResponseWriter, r *http.Request) {
	shiftID := cashier.ShiftID(chi.URLParam(r, "id"))

	actualCash, actualNonCash, ok := h.decodeActuals(w, r)
	if !ok {
		return
	}

	rec, err := h.Sessions.SubmitActualAmounts(r.Context(), shiftID, actualCash, actualNonCash)
	if err != nil {
		h.writeEngineError(w, "Failed to submit actual amounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// CloseShift confirms the close with the same counted amounts.
func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	shiftID := cashier.ShiftID(chi.URLParam(r, "id"))

	actualCash, actualNonCash, ok := h.decodeActuals(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.EndSession(r.Context(), shiftID, actualCash, actualNonCash); err != nil {
		h.writeEngineError(w, "Failed to close shift", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReport returns the reconciliation report for one shift.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	shiftID := cashier.ShiftID(chi.URLParam(r, "id"))

	report, err := h.Reports.GetReport(r.Context(), shiftID)
	if err != nil {
		h.writeEngineError(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftReportDTO(report))
}

// ListReports returns every shift's report (admin view). A shift whose
// report fails is listed under "failed" instead of aborting the response.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, failures, err := h.Reports.ListReports(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list reports", err)
		return
	}

	dto := ReportListDTO{Reports: make([]ShiftReportDTO, len(reports))}
	for i, report := range reports {
		dto.Reports[i] = toShiftReportDTO(report)
	}
	for _, f := range failures {
		dto.Failed = append(dto.Failed, ReportFailureDTO{ShiftID: string(f.ShiftID), Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeActuals(w http.ResponseWriter, r *http.Request) (decimal.Decimal, decimal.Decimal, bool) {
	var req ActualAmountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return decimal.Zero, decimal.Zero, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return decimal.Zero, decimal.Zero, false
	}

	actualCash, err := parseAmount(req.ActualCash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actual_cash", err)
		return decimal.Zero, decimal.Zero, false
	}
	actualNonCash, err := parseAmount(req.ActualNonCash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actual_non_cash", err)
		return decimal.Zero, decimal.Zero, false
	}
	return actualCash, actualNonCash, true
}

// writeEngineError maps engine errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, msg string, err error) {
	switch {
	case cashier.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Shift not found", err)
	case errors.Is(err, cashier.ErrInvalidAmount),
		errors.Is(err, cashier.ErrInvalidChannel),
		errors.Is(err, cashier.ErrReservedTransactionType):
		writeError(w, http.StatusBadRequest, msg, err)
	case cashier.IsClientError(err):
		writeError(w, http.StatusConflict, msg, err)
	default:
		h.Log.WithError(err).Error(msg)
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Code = err.Error()
	}
	writeJSON(w, status, resp)
}

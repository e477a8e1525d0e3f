package handler

import (
	"net/http"
	"time"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// MarginHandler exposes loan positions, liquidation and interest accrual.
type MarginHandler struct {
	executor *usecase.Executor
}

// NewMarginHandler creates a new MarginHandler.
func NewMarginHandler(executor *usecase.Executor) *MarginHandler {
	return &MarginHandler{executor: executor}
}

// Positions lists open loans. ?liquidatable=true keeps only positions below the
// liquidation threshold.
func (h *MarginHandler) Positions(w http.ResponseWriter, r *http.Request) {
	onlyLiquidatable := r.URL.Query().Get("liquidatable") == "true"

	positions := []usecase.LoanPosition{}
	for _, p := range h.executor.Risk().LoanPositions() {
		if onlyLiquidatable && !p.Liquidatable {
			continue
		}
		positions = append(positions, p)
	}
	writeJSON(w, http.StatusOK, dto.PositionsResponse{Positions: positions})
}

// Liquidate force-closes part of an under-margined loan.
func (h *MarginHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req dto.LiquidationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	result, err := h.executor.Liquidate(r.Context(), req.CorrelationID, req.UserID, req.LiquidatorID, req.Asset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, executionStatus(result), dto.ExecutionFromResult(result))
}

// AccrueInterest compounds one day of interest into every open loan.
func (h *MarginHandler) AccrueInterest(w http.ResponseWriter, r *http.Request) {
	var req dto.InterestRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	rate, day, err := req.Parse(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	entries, err := h.executor.AccrueInterest(r.Context(), rate, day)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, dto.InterestResponse{Entries: entries})
}

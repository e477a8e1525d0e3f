package handler

import (
	"net/http"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// BalanceHandler exposes balances derived by the risk engine.
type BalanceHandler struct {
	risk *usecase.RiskEngine
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(risk *usecase.RiskEngine) *BalanceHandler {
	return &BalanceHandler{risk: risk}
}

// List returns balances whose account key starts with ?prefix=.
func (h *BalanceHandler) List(w http.ResponseWriter, r *http.Request) {
	balances := h.risk.Balances(r.URL.Query().Get("prefix"))
	if balances == nil {
		balances = []usecase.AccountBalance{}
	}
	writeJSON(w, http.StatusOK, dto.BalancesResponse{
		Balances:    balances,
		LastApplied: h.risk.LastApplied(),
	})
}

package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// ComplianceHandler exposes the compliance ledger and the local watchlist.
type ComplianceHandler struct {
	engine    *usecase.ComplianceEngine
	watchlist *usecase.Watchlist
}

// NewComplianceHandler creates a new ComplianceHandler.
func NewComplianceHandler(engine *usecase.ComplianceEngine, watchlist *usecase.Watchlist) *ComplianceHandler {
	return &ComplianceHandler{engine: engine, watchlist: watchlist}
}

// Records returns compliance records starting at ?from= (default 1).
func (h *ComplianceHandler) Records(w http.ResponseWriter, r *http.Request) {
	ledger := h.engine.Ledger()
	from := parseUintQuery(r, "from", 1)
	limit, _ := domain.ClampPage(parseIntQuery(r, "limit", 0), 0, 100)

	records := ledger.Records(from, limit)
	page := dto.ComplianceRecordsPage{Records: records, Height: ledger.Height()}
	if page.Records == nil {
		page.Records = []*domain.ComplianceRecord{}
	}
	if n := len(records); n == limit {
		page.Next = records[n-1].Sequence + 1
	}
	writeJSON(w, http.StatusOK, page)
}

// Verify re-walks the compliance hash chain.
func (h *ComplianceHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ledger := h.engine.Ledger()
	resp := dto.VerifyResponse{Valid: true, Height: ledger.Height()}
	if err := ledger.Verify(); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListWatchlist returns the locally sanctioned parties.
func (h *ComplianceHandler) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	parties := h.watchlist.List()
	if parties == nil {
		parties = []string{}
	}
	writeJSON(w, http.StatusOK, dto.WatchlistResponse{Parties: parties})
}

// AddToWatchlist adds a party and records the change.
func (h *ComplianceHandler) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req dto.WatchlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	party := strings.TrimSpace(req.Party)
	if party == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "party is required")
		return
	}

	if !h.watchlist.Add(party) {
		writeJSON(w, http.StatusOK, map[string]string{"party": party, "status": "unchanged"})
		return
	}
	if err := h.engine.RecordWatchlistChange(r.Context(), party, true); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"party": party, "status": "added"})
}

// RemoveFromWatchlist removes a party and records the change.
func (h *ComplianceHandler) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	party := chi.URLParam(r, "party")
	if !h.watchlist.Remove(party) {
		writeError(w, http.StatusNotFound, "party not listed", "")
		return
	}
	if err := h.engine.RecordWatchlistChange(r.Context(), party, false); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"party": party, "status": "removed"})
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// JournalHandler exposes the committed journal.
type JournalHandler struct {
	journal *usecase.Journal
}

// NewJournalHandler creates a new JournalHandler.
func NewJournalHandler(journal *usecase.Journal) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// List returns entries starting at ?from= (default 1).
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	from := parseUintQuery(r, "from", 1)
	limit, _ := domain.ClampPage(parseIntQuery(r, "limit", 0), 0, 100)

	entries := h.journal.Range(from, limit)
	page := dto.JournalPage{Entries: entries, Height: h.journal.Height()}
	if page.Entries == nil {
		page.Entries = []*domain.JournalEntry{}
	}
	if n := len(entries); n == limit {
		page.Next = entries[n-1].Sequence + 1
	}
	writeJSON(w, http.StatusOK, page)
}

// Get returns the entry at a sequence.
func (h *JournalHandler) Get(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil || seq == 0 {
		writeError(w, http.StatusBadRequest, "invalid sequence", "")
		return
	}

	entry, ok := h.journal.Get(seq)
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found", "")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Verify re-walks the hash chain.
func (h *JournalHandler) Verify(w http.ResponseWriter, r *http.Request) {
	resp := dto.VerifyResponse{Valid: true, Height: h.journal.Height()}
	if err := h.journal.Verify(); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/adapter/http/middleware"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// ApprovalHandler handles the multi-signature approval workflow.
type ApprovalHandler struct {
	executor *usecase.Executor
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(executor *usecase.Executor) *ApprovalHandler {
	return &ApprovalHandler{executor: executor}
}

// List returns approvals filtered by ?status=a,b. Without a filter only open
// approvals are listed.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := domain.ClampPage(parseIntQuery(r, "limit", 0), parseIntQuery(r, "offset", 0), domain.DefaultPageSize)

	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err.Error())
		return
	}

	workflow := h.executor.Approvals()
	var approvals []*domain.PendingApproval
	if len(statuses) == 0 {
		approvals, err = workflow.ListPending(r.Context(), limit, offset)
	} else {
		approvals, err = workflow.List(r.Context(), statuses, limit, offset)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ApprovalsFromDomain(approvals))
}

// Get returns one approval.
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	approval, err := h.executor.Approvals().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ApprovalFromDomain(approval))
}

// Stats counts approvals by status.
func (h *ApprovalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.executor.Approvals().Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sign adds a signature. When it completes the quorum the operation is
// executed and the result is included.
func (h *ApprovalHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req dto.SignApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	if err := checkSigner(r, req.SignerID); err != nil {
		writeDomainError(w, err)
		return
	}

	approval, result, err := h.executor.Sign(r.Context(), chi.URLParam(r, "id"), req.SignerID, req.Signature)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SignApprovalResponse{
		Approval:  dto.ApprovalFromDomain(approval),
		Execution: dto.ExecutionFromResult(result),
	})
}

// Reject rejects an open approval.
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req dto.RejectApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	if err := checkSigner(r, req.SignerID); err != nil {
		writeDomainError(w, err)
		return
	}

	approval, err := h.executor.Reject(r.Context(), chi.URLParam(r, "id"), req.SignerID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ApprovalFromDomain(approval))
}

// Resume executes an approved operation whose execution did not complete.
func (h *ApprovalHandler) Resume(w http.ResponseWriter, r *http.Request) {
	result, err := h.executor.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ExecutionFromResult(result))
}

// checkSigner enforces that a signer-role caller acts only as themselves.
// Without an authenticated operator the request is trusted.
func checkSigner(r *http.Request, signerID string) error {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok || op.Role == domain.RoleAdmin {
		return nil
	}
	if op.ID != signerID {
		return fmt.Errorf("%w: %s cannot sign as %s", domain.ErrForbidden, op.ID, signerID)
	}
	return nil
}

func parseStatuses(raw string) ([]domain.ApprovalStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []domain.ApprovalStatus
	for _, s := range strings.Split(raw, ",") {
		status := domain.ApprovalStatus(strings.ToLower(strings.TrimSpace(s)))
		switch status {
		case domain.ApprovalPending, domain.ApprovalCollecting, domain.ApprovalApproved,
			domain.ApprovalExpired, domain.ApprovalRejected:
			out = append(out, status)
		default:
			return nil, fmt.Errorf("unknown status %q", s)
		}
	}
	return out, nil
}

package dto

import (
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ApprovalResponse represents a pending approval in API responses.
type ApprovalResponse struct {
	ID               string                     `json:"id"`
	Kind             domain.ApprovalKind        `json:"kind"`
	Status           domain.ApprovalStatus      `json:"status"`
	Reason           string                     `json:"reason,omitempty"`
	OperationHash    string                     `json:"operation_hash"`
	Intent           *domain.TransactionIntent  `json:"intent"`
	RequiredSigs     int                        `json:"required_sigs"`
	AuthorizedSigs   int                        `json:"authorized_sigs"`
	CollectedSigs    int                        `json:"collected_sigs"`
	Signatures       []domain.ApprovalSignature `json:"signatures"`
	RejectionReason  string                     `json:"rejection_reason,omitempty"`
	ExecutedSequence *uint64                    `json:"executed_sequence,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	ExpiresAt        time.Time                  `json:"expires_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// ApprovalFromDomain converts a domain approval to a response.
func ApprovalFromDomain(a *domain.PendingApproval) *ApprovalResponse {
	if a == nil {
		return nil
	}
	sigs := a.Signatures
	if sigs == nil {
		sigs = []domain.ApprovalSignature{}
	}
	return &ApprovalResponse{
		ID:               a.ID,
		Kind:             a.Kind,
		Status:           a.Status,
		Reason:           a.Reason,
		OperationHash:    a.OperationHash,
		Intent:           a.Intent,
		RequiredSigs:     a.RequiredSigs,
		AuthorizedSigs:   a.AuthorizedSigs,
		CollectedSigs:    a.CollectedSigs(),
		Signatures:       sigs,
		RejectionReason:  a.RejectionReason,
		ExecutedSequence: a.ExecutedSequence,
		CreatedAt:        a.CreatedAt,
		ExpiresAt:        a.ExpiresAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// ApprovalsFromDomain converts domain approvals to responses.
func ApprovalsFromDomain(approvals []*domain.PendingApproval) []*ApprovalResponse {
	result := make([]*ApprovalResponse, len(approvals))
	for i, a := range approvals {
		result[i] = ApprovalFromDomain(a)
	}
	return result
}

// ExecutionResponse is the outcome of submitting, signing or resuming an intent.
type ExecutionResponse struct {
	Status       usecase.ExecutionStatus `json:"status"`
	Entry        *domain.JournalEntry    `json:"entry,omitempty"`
	Approval     *ApprovalResponse       `json:"approval,omitempty"`
	Decision     string                  `json:"decision"`
	Rules        []string                `json:"rules,omitempty"`
	Compensating []*domain.JournalEntry  `json:"compensating,omitempty"`
	Reviews      []*ApprovalResponse     `json:"reviews,omitempty"`
}

// ExecutionFromResult converts an executor result to a response.
func ExecutionFromResult(r *usecase.ExecutionResult) *ExecutionResponse {
	if r == nil {
		return nil
	}
	return &ExecutionResponse{
		Status:       r.Status,
		Entry:        r.Entry,
		Approval:     ApprovalFromDomain(r.Approval),
		Decision:     r.Decision.String(),
		Rules:        r.Rules,
		Compensating: r.Compensating,
		Reviews:      ApprovalsFromDomain(r.Reviews),
	}
}

// SignApprovalResponse is the approval after a signature, plus the execution
// result when the signature completed the quorum.
type SignApprovalResponse struct {
	Approval  *ApprovalResponse  `json:"approval"`
	Execution *ExecutionResponse `json:"execution,omitempty"`
}

// JournalPage is a page of committed entries.
type JournalPage struct {
	Entries []*domain.JournalEntry `json:"entries"`
	Height  uint64                 `json:"height"`
	Next    uint64                 `json:"next,omitempty"`
}

// ComplianceRecordsPage is a page of compliance ledger records.
type ComplianceRecordsPage struct {
	Records []*domain.ComplianceRecord `json:"records"`
	Height  uint64                     `json:"height"`
	Next    uint64                     `json:"next,omitempty"`
}

// VerifyResponse reports a hash-chain verification result.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Height uint64 `json:"height"`
	Error  string `json:"error,omitempty"`
}

// BalancesResponse lists account balances.
type BalancesResponse struct {
	Balances    []usecase.AccountBalance `json:"balances"`
	LastApplied uint64                   `json:"last_applied"`
}

// WatchlistResponse lists the local sanctions list.
type WatchlistResponse struct {
	Parties []string `json:"parties"`
}

// PositionsResponse lists open margin loans.
type PositionsResponse struct {
	Positions []usecase.LoanPosition `json:"positions"`
}

// InterestResponse lists the accrual entries committed by one run.
type InterestResponse struct {
	Entries []*domain.JournalEntry `json:"entries"`
}

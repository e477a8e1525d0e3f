package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalStatus is the state of a pending approval.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalCollecting ApprovalStatus = "collecting"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalExpired    ApprovalStatus = "expired"
	ApprovalRejected   ApprovalStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalExpired || s == ApprovalRejected
}

// ApprovalKind records why an operation was gated.
type ApprovalKind string

const (
	ApprovalKindThreshold        ApprovalKind = "threshold"
	ApprovalKindComplianceReview ApprovalKind = "compliance_review"
)

// Default approval policy values.
const (
	DefaultApprovalRequired = 2
	DefaultApprovalTTL      = 24 * time.Hour
)

// DefaultWithdrawalThreshold gates withdrawals at or above this amount.
var DefaultWithdrawalThreshold = decimal.NewFromInt(100000)

// ApprovalSignature is one signer's approval of an operation hash.
type ApprovalSignature struct {
	SignerID  string    `json:"signer_id"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

// PendingApproval holds a gated intent until it reaches quorum or is abandoned.
type PendingApproval struct {
	ID               string
	Kind             ApprovalKind
	Intent           *TransactionIntent
	OperationHash    string
	Reason           string
	RequiredSigs     int
	AuthorizedSigs   int
	Signatures       []ApprovalSignature
	Status           ApprovalStatus
	RejectionReason  string
	ExecutedSequence *uint64
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UpdatedAt        time.Time
}

// IsExpired reports whether the deadline has passed at now.
func (a *PendingApproval) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// HasSigned reports whether signerID already signed.
func (a *PendingApproval) HasSigned(signerID string) bool {
	for _, s := range a.Signatures {
		if s.SignerID == signerID {
			return true
		}
	}
	return false
}

// CollectedSigs is the number of distinct signatures.
func (a *PendingApproval) CollectedSigs() int {
	return len(a.Signatures)
}

// ApprovalStats counts approvals by status.
type ApprovalStats struct {
	Pending    int `json:"pending"`
	Collecting int `json:"collecting"`
	Approved   int `json:"approved"`
	Expired    int `json:"expired"`
	Rejected   int `json:"rejected"`
}

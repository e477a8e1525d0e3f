package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ComplianceEventType names a record in the compliance ledger.
type ComplianceEventType string

const (
	ComplianceCheckPerformed     ComplianceEventType = "CheckPerformed"
	ComplianceTransactionFlagged ComplianceEventType = "TransactionFlagged"
	ComplianceReviewCompleted    ComplianceEventType = "ReviewCompleted"
	ComplianceRuleSetChanged     ComplianceEventType = "RuleSetChanged"
	ComplianceWatchlistUpdated   ComplianceEventType = "WatchlistUpdated"
)

// Review outcomes carried in ReviewCompleted records.
const (
	ReviewOutcomeApproved = "approved"
	ReviewOutcomeRejected = "rejected"
	ReviewOutcomeExpired  = "expired"
)

// FailPolicy decides how unreachable external checks resolve.
type FailPolicy string

const (
	FailOpen   FailPolicy = "fail_open"
	FailClosed FailPolicy = "fail_closed"
)

// ParseFailPolicy rejects anything other than the two explicit policies.
func ParseFailPolicy(s string) (FailPolicy, error) {
	switch p := FailPolicy(strings.ToLower(s)); p {
	case FailOpen, FailClosed:
		return p, nil
	default:
		return "", fmt.Errorf("invalid fail policy %q", s)
	}
}

// ComplianceRecord is one hash-chained entry of the compliance ledger.
type ComplianceRecord struct {
	Sequence      uint64              `json:"sequence"`
	PrevHash      string              `json:"prev_hash"`
	Hash          string              `json:"hash"`
	Timestamp     time.Time           `json:"timestamp"`
	EventType     ComplianceEventType `json:"event_type"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	UserID        string              `json:"user_id,omitempty"`
	Decision      AmlDecision         `json:"decision"`
	Rules         []string            `json:"rules,omitempty"`
	Payload       map[string]string   `json:"payload,omitempty"`
}

// ComputeHash returns the hex SHA-256 of the record excluding Hash, using the
// same length-prefixed encoding as journal entries.
func (r *ComplianceRecord) ComputeHash() string {
	w := newCanonicalWriter(sha256.New())

	w.uint64(r.Sequence)
	w.str(r.PrevHash)
	w.str(r.Timestamp.UTC().Format(time.RFC3339Nano))
	w.str(string(r.EventType))
	w.str(r.CorrelationID)
	w.str(r.UserID)
	w.str(r.Decision.String())
	w.strs(r.Rules)
	w.stringMap(r.Payload)
	return w.sum()
}

// VerifyComplianceChain applies the journal chain rules to compliance records.
func VerifyComplianceChain(records []*ComplianceRecord) error {
	prevHash := GenesisPrevHash
	var prevSeq uint64

	for i, r := range records {
		expectedSeq := prevSeq + 1
		if i == 0 && r.Sequence != 1 {
			return &ChainError{Kind: ErrInvalidGenesisSequence, Sequence: r.Sequence, Expected: "1", Actual: fmt.Sprint(r.Sequence)}
		}
		if r.Sequence != expectedSeq {
			return &ChainError{Kind: ErrInvalidSequence, Sequence: r.Sequence, Expected: fmt.Sprint(expectedSeq), Actual: fmt.Sprint(r.Sequence)}
		}
		if r.PrevHash != prevHash {
			return &ChainError{Kind: ErrBrokenHashChain, Sequence: r.Sequence, Expected: prevHash, Actual: r.PrevHash}
		}
		if computed := r.ComputeHash(); r.Hash != computed {
			return &ChainError{Kind: ErrBrokenHashChain, Sequence: r.Sequence, Expected: computed, Actual: r.Hash}
		}
		prevHash = r.Hash
		prevSeq = r.Sequence
	}

	return nil
}

package domain

import "time"

// Event types
const (
	EventTypeEntryCommitted   = "entry.committed"
	EventTypeEntryFlagged     = "entry.flagged"
	EventTypeApprovalCreated  = "approval.created"
	EventTypeApprovalResolved = "approval.resolved"
)

// Aggregate types
const (
	AggregateTypeEntry    = "entry"
	AggregateTypeApproval = "approval"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// EntryCommittedEvent payload
type EntryCommittedEvent struct {
	Sequence      uint64    `json:"sequence"`
	Hash          string    `json:"hash"`
	Intent        string    `json:"intent"`
	CorrelationID string    `json:"correlation_id"`
	CausalityID   string    `json:"causality_id,omitempty"`
	Postings      []Posting `json:"postings"`
	Timestamp     string    `json:"timestamp"`
}

// EntryFlaggedEvent payload
type EntryFlaggedEvent struct {
	Sequence      uint64   `json:"sequence"`
	CorrelationID string   `json:"correlation_id"`
	Decision      string   `json:"decision"`
	Rules         []string `json:"rules"`
	LockSequences []uint64 `json:"lock_sequences,omitempty"`
}

// ApprovalCreatedEvent payload
type ApprovalCreatedEvent struct {
	ApprovalID    string `json:"approval_id"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id"`
	RequiredSigs  int    `json:"required_sigs"`
	ExpiresAt     string `json:"expires_at"`
}

// ApprovalResolvedEvent payload
type ApprovalResolvedEvent struct {
	ApprovalID       string  `json:"approval_id"`
	Status           string  `json:"status"`
	ExecutedSequence *uint64 `json:"executed_sequence,omitempty"`
}

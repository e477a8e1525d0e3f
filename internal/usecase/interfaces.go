package usecase

import (
	"context"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// JournalStore durably persists committed entries in sequence order.
type JournalStore interface {
	Append(ctx context.Context, entry *domain.JournalEntry) error
	ReadAll(ctx context.Context) ([]*domain.JournalEntry, error)
}

// JournalReader yields committed entries from sequence 1 onwards.
type JournalReader interface {
	ReadAll(ctx context.Context) ([]*domain.JournalEntry, error)
}

// ComplianceStore durably persists compliance ledger records.
type ComplianceStore interface {
	Append(ctx context.Context, record *domain.ComplianceRecord) error
	ReadAll(ctx context.Context) ([]*domain.ComplianceRecord, error)
}

// ApprovalRepository defines data access for pending approvals.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *domain.PendingApproval) error
	GetByID(ctx context.Context, id string) (*domain.PendingApproval, error)
	Update(ctx context.Context, approval *domain.PendingApproval) error
	ListByStatus(ctx context.Context, statuses []domain.ApprovalStatus, limit, offset int) ([]*domain.PendingApproval, error)
	ListExpired(ctx context.Context, now time.Time) ([]*domain.PendingApproval, error)
	CountByStatus(ctx context.Context) (map[domain.ApprovalStatus]int, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// WatchlistClient screens a party against a remote sanctions list.
type WatchlistClient interface {
	Screen(ctx context.Context, party string) (bool, error)
}

// EntrySigner produces the system signature attached to committed entries.
type EntrySigner interface {
	Sign(hash string) (*domain.EntrySignature, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a key whose request failed so the client may retry.
	Release(ctx context.Context, key string) error
}

// Clock returns the current time; replaced in tests.
type Clock func() time.Time

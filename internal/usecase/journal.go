package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// Journal is the single writer of the hash-chained ledger. Appends are serialized;
// readers get copies of the committed slice and never block each other.
type Journal struct {
	mu            sync.RWMutex
	store         JournalStore
	signer        EntrySigner
	clock         Clock
	metrics       *metrics.Metrics
	entries       []*domain.JournalEntry
	byCorrelation map[string]uint64
	halted        error
}

// NewJournal creates a journal over store. signer may be nil.
func NewJournal(store JournalStore, signer EntrySigner, m *metrics.Metrics) *Journal {
	return &Journal{
		store:         store,
		signer:        signer,
		clock:         func() time.Time { return time.Now().UTC() },
		metrics:       m,
		byCorrelation: make(map[string]uint64),
	}
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(c Clock) {
	j.clock = c
}

// Load reads the store and verifies the full chain. Any integrity error halts loading.
func (j *Journal) Load(ctx context.Context) error {
	entries, err := j.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	if err := domain.VerifyChain(entries); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = entries
	j.byCorrelation = make(map[string]uint64, len(entries))
	for _, e := range entries {
		j.byCorrelation[e.CorrelationID] = e.Sequence
	}

	if j.metrics != nil {
		j.metrics.JournalHeight.Set(float64(len(entries)))
	}

	return nil
}

// Append validates intent, extends the hash chain and persists the entry.
func (j *Journal) Append(ctx context.Context, intent *domain.TransactionIntent) (*domain.JournalEntry, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.halted != nil {
		return nil, j.halted
	}
	if seq, ok := j.byCorrelation[intent.CorrelationID]; ok {
		return nil, fmt.Errorf("%w: %s at sequence %d", domain.ErrDuplicateCorrelation, intent.CorrelationID, seq)
	}

	start := time.Now()

	prevHash := domain.GenesisPrevHash
	var prevSeq uint64
	if n := len(j.entries); n > 0 {
		prevHash = j.entries[n-1].Hash
		prevSeq = j.entries[n-1].Sequence
	}

	entry := domain.NewJournalEntry(intent, prevSeq+1, prevHash, j.clock())
	entry.Hash = entry.ComputeHash()

	if j.signer != nil {
		sig, err := j.signer.Sign(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("sign entry: %w", err)
		}
		entry.Signature = sig
	}

	if err := j.store.Append(ctx, entry); err != nil {
		err = fmt.Errorf("persist entry %d: %w", entry.Sequence, err)
		if errors.Is(err, domain.ErrStoreFailed) {
			// The store may hold a partial entry; nothing more can be chained safely.
			j.halted = err
		}
		return nil, err
	}

	j.entries = append(j.entries, entry)
	j.byCorrelation[entry.CorrelationID] = entry.Sequence

	if j.metrics != nil {
		j.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		j.metrics.EntriesCommitted.WithLabelValues(string(entry.Intent)).Inc()
		j.metrics.JournalHeight.Set(float64(entry.Sequence))
	}

	return entry, nil
}

// ReadAll returns every committed entry in sequence order.
func (j *Journal) ReadAll(_ context.Context) ([]*domain.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return append([]*domain.JournalEntry(nil), j.entries...), nil
}

// Range returns up to limit entries starting at sequence from.
func (j *Journal) Range(from uint64, limit int) []*domain.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	start := int(from - 1)
	if start >= len(j.entries) {
		return nil
	}
	end := len(j.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return append([]*domain.JournalEntry(nil), j.entries[start:end]...)
}

// Get returns the entry at sequence.
func (j *Journal) Get(sequence uint64) (*domain.JournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if sequence == 0 || sequence > uint64(len(j.entries)) {
		return nil, false
	}
	return j.entries[sequence-1], true
}

// FindByCorrelation returns the entry committed under correlationID.
func (j *Journal) FindByCorrelation(correlationID string) (*domain.JournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	seq, ok := j.byCorrelation[correlationID]
	if !ok {
		return nil, false
	}
	return j.entries[seq-1], true
}

// Height is the sequence of the last committed entry.
func (j *Journal) Height() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return uint64(len(j.entries))
}

// Verify re-walks the in-memory chain.
func (j *Journal) Verify() error {
	entries, _ := j.ReadAll(context.Background())
	return domain.VerifyChain(entries)
}

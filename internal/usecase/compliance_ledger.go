package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// ComplianceLedger is the hash-chained record of compliance decisions. It has its
// own sequence space, independent of the financial journal.
type ComplianceLedger struct {
	mu      sync.RWMutex
	store   ComplianceStore
	clock   Clock
	metrics *metrics.Metrics
	records []*domain.ComplianceRecord
}

// NewComplianceLedger creates a ledger over store.
func NewComplianceLedger(store ComplianceStore, m *metrics.Metrics) *ComplianceLedger {
	return &ComplianceLedger{
		store:   store,
		clock:   func() time.Time { return time.Now().UTC() },
		metrics: m,
	}
}

// SetClock overrides the timestamp source.
func (l *ComplianceLedger) SetClock(c Clock) {
	l.clock = c
}

// Load reads and verifies the stored chain.
func (l *ComplianceLedger) Load(ctx context.Context) error {
	records, err := l.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read compliance ledger: %w", err)
	}
	if err := domain.VerifyComplianceChain(records); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = records
	if l.metrics != nil {
		l.metrics.ComplianceHeight.Set(float64(len(records)))
	}
	return nil
}

// Append chains and persists rec. Sequence, PrevHash, Hash and Timestamp are assigned here.
func (l *ComplianceLedger) Append(ctx context.Context, rec *domain.ComplianceRecord) (*domain.ComplianceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.PrevHash = domain.GenesisPrevHash
	rec.Sequence = 1
	if n := len(l.records); n > 0 {
		rec.PrevHash = l.records[n-1].Hash
		rec.Sequence = l.records[n-1].Sequence + 1
	}
	rec.Timestamp = l.clock()
	rec.Hash = rec.ComputeHash()

	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist compliance record %d: %w", rec.Sequence, err)
	}
	l.records = append(l.records, rec)

	if l.metrics != nil {
		l.metrics.ComplianceHeight.Set(float64(rec.Sequence))
	}
	return rec, nil
}

// Records returns up to limit records starting at sequence from.
func (l *ComplianceLedger) Records(from uint64, limit int) []*domain.ComplianceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	start := int(from - 1)
	if start >= len(l.records) {
		return nil
	}
	end := len(l.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]*domain.ComplianceRecord(nil), l.records[start:end]...)
}

// Height is the sequence of the last record.
func (l *ComplianceLedger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return uint64(len(l.records))
}

// Verify re-walks the in-memory chain.
func (l *ComplianceLedger) Verify() error {
	l.mu.RLock()
	records := append([]*domain.ComplianceRecord(nil), l.records...)
	l.mu.RUnlock()

	return domain.VerifyComplianceChain(records)
}

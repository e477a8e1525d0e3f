package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// MockJournalStore is an in-memory JournalStore.
type MockJournalStore struct {
	mu      sync.RWMutex
	entries []*domain.JournalEntry

	AppendFunc  func(ctx context.Context, entry *domain.JournalEntry) error
	ReadAllFunc func(ctx context.Context) ([]*domain.JournalEntry, error)
}

func NewMockJournalStore(entries ...*domain.JournalEntry) *MockJournalStore {
	return &MockJournalStore{entries: entries}
}

func (m *MockJournalStore) Append(ctx context.Context, entry *domain.JournalEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockJournalStore) ReadAll(ctx context.Context) ([]*domain.JournalEntry, error) {
	if m.ReadAllFunc != nil {
		return m.ReadAllFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.JournalEntry(nil), m.entries...), nil
}

// Len reports the number of persisted entries.
func (m *MockJournalStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MockComplianceStore is an in-memory ComplianceStore.
type MockComplianceStore struct {
	mu      sync.RWMutex
	records []*domain.ComplianceRecord

	AppendFunc func(ctx context.Context, record *domain.ComplianceRecord) error
}

func NewMockComplianceStore() *MockComplianceStore {
	return &MockComplianceStore{}
}

func (m *MockComplianceStore) Append(ctx context.Context, record *domain.ComplianceRecord) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *MockComplianceStore) ReadAll(_ context.Context) ([]*domain.ComplianceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.ComplianceRecord(nil), m.records...), nil
}

// Records returns the persisted records.
func (m *MockComplianceStore) Records() []*domain.ComplianceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.ComplianceRecord(nil), m.records...)
}

// MockApprovalRepository is an in-memory ApprovalRepository. Stored approvals are
// deep-copied so callers cannot mutate repository state without Update.
type MockApprovalRepository struct {
	mu        sync.RWMutex
	approvals map[string]*domain.PendingApproval

	CreateFunc func(ctx context.Context, approval *domain.PendingApproval) error
	UpdateFunc func(ctx context.Context, approval *domain.PendingApproval) error
}

func NewMockApprovalRepository() *MockApprovalRepository {
	return &MockApprovalRepository{approvals: make(map[string]*domain.PendingApproval)}
}

func cloneApproval(a *domain.PendingApproval) *domain.PendingApproval {
	data, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	var out domain.PendingApproval
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *MockApprovalRepository) Create(ctx context.Context, approval *domain.PendingApproval) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, approval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[approval.ID]; ok {
		return fmt.Errorf("approval %s already exists", approval.ID)
	}
	m.approvals[approval.ID] = cloneApproval(approval)
	return nil
}

func (m *MockApprovalRepository) GetByID(_ context.Context, id string) (*domain.PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	return cloneApproval(a), nil
}

func (m *MockApprovalRepository) Update(ctx context.Context, approval *domain.PendingApproval) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, approval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[approval.ID]; !ok {
		return domain.ErrApprovalNotFound
	}
	m.approvals[approval.ID] = cloneApproval(approval)
	return nil
}

func (m *MockApprovalRepository) sorted() []*domain.PendingApproval {
	out := make([]*domain.PendingApproval, 0, len(m.approvals))
	for _, a := range m.approvals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MockApprovalRepository) ListByStatus(_ context.Context, statuses []domain.ApprovalStatus, limit, offset int) ([]*domain.PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[domain.ApprovalStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*domain.PendingApproval
	for _, a := range m.sorted() {
		if len(want) == 0 || want[a.Status] {
			out = append(out, cloneApproval(a))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockApprovalRepository) ListExpired(_ context.Context, now time.Time) ([]*domain.PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.PendingApproval
	for _, a := range m.sorted() {
		if !a.Status.IsTerminal() && a.IsExpired(now) {
			out = append(out, cloneApproval(a))
		}
	}
	return out, nil
}

func (m *MockApprovalRepository) CountByStatus(_ context.Context) (map[domain.ApprovalStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.ApprovalStatus]int)
	for _, a := range m.approvals {
		counts[a.Status]++
	}
	return counts, nil
}

// MockOutbox is an in-memory OutboxRepository.
type MockOutbox struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func NewMockOutbox() *MockOutbox {
	return &MockOutbox{}
}

func (m *MockOutbox) Create(_ context.Context, event *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockOutbox) GetUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if !e.Published {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockOutbox) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
			return nil
		}
	}
	return fmt.Errorf("event %s not found", id)
}

func (m *MockOutbox) DeletePublished(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, e := range m.events {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return nil
}

// EventTypes lists the types of all recorded events in order.
func (m *MockOutbox) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// MockIDGenerator returns sequential IDs.
type MockIDGenerator struct {
	counter atomic.Int64
	Prefix  string
}

func (m *MockIDGenerator) Generate() string {
	return fmt.Sprintf("%s%06d", m.Prefix, m.counter.Add(1))
}

// MockCache is an in-memory Cache.
type MockCache struct {
	mu   sync.Mutex
	data map[string][]byte

	GetFunc func(ctx context.Context, key string) ([]byte, error)
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string][]byte)}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCacheMiss, key)
	}
	return v, nil
}

func (m *MockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FakeWatchlistClient screens against a fixed set, or ScreenFunc when set.
type FakeWatchlistClient struct {
	Listed     map[string]bool
	ScreenFunc func(ctx context.Context, party string) (bool, error)
	calls      atomic.Int64
}

func (m *FakeWatchlistClient) Screen(ctx context.Context, party string) (bool, error) {
	m.calls.Add(1)
	if m.ScreenFunc != nil {
		return m.ScreenFunc(ctx, party)
	}
	return m.Listed[party], nil
}

// Calls reports how many times Screen ran.
func (m *FakeWatchlistClient) Calls() int {
	return int(m.calls.Load())
}

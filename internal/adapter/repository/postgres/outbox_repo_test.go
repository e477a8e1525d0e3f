package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
)

func TestOutboxRepository_Create(t *testing.T) {
	mockPool := newMockPool(t)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	mockPool.ExpectExec("INSERT INTO outbox_events").
		WithArgs("EVT-1", "7", domain.AggregateTypeEntry, domain.EventTypeEntryCommitted, []byte(`{"sequence":7}`), now, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewOutboxRepository(mockPool)
	err := repo.Create(context.Background(), &domain.OutboxEvent{
		ID:            "EVT-1",
		AggregateID:   "7",
		AggregateType: domain.AggregateTypeEntry,
		EventType:     domain.EventTypeEntryCommitted,
		Payload:       map[string]any{"sequence": 7},
		CreatedAt:     now,
	})
	require.NoError(t, err)
	assertExpectations(t, mockPool)
}

func TestOutboxRepository_GetUnpublished(t *testing.T) {
	mockPool := newMockPool(t)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	mockPool.ExpectQuery("FROM outbox_events WHERE published = FALSE").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "aggregate_id", "aggregate_type", "event_type", "payload", "created_at", "published_at", "published",
		}).AddRow("EVT-1", "APPR-1", domain.AggregateTypeApproval, domain.EventTypeApprovalCreated,
			[]byte(`{"approval_id":"APPR-1"}`), now, (*time.Time)(nil), false))

	events, err := NewOutboxRepository(mockPool).GetUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "APPR-1", events[0].Payload["approval_id"])
	assert.Nil(t, events[0].PublishedAt)
	assertExpectations(t, mockPool)
}

func TestOutboxRepository_MarkAndDeletePublished(t *testing.T) {
	mockPool := newMockPool(t)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	mockPool.ExpectExec("UPDATE outbox_events SET published = TRUE").
		WithArgs("EVT-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec("DELETE FROM outbox_events").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	repo := NewOutboxRepository(mockPool)
	require.NoError(t, repo.MarkPublished(context.Background(), "EVT-1", now))
	require.NoError(t, repo.DeletePublished(context.Background(), now))
	assertExpectations(t, mockPool)
}

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/eventpublisher"
	"github.com/maithanhduyan/bibank/internal/usecase"
	"github.com/maithanhduyan/bibank/tests/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func TestOutbox_CommitEmitsEvents(t *testing.T) {
	ctx := context.Background()

	testDB := testutil.NewTestDB(t)
	defer testDB.Cleanup()
	testDB.TruncateAll(ctx)

	stack := testDB.NewStack(ctx, t.TempDir())
	stack.Fund(t, ctx, "alice", "USDT", decimal.NewFromInt(1000))

	result, err := stack.Executor.Submit(ctx, usecase.SubmitInput{
		Intent: domain.NewTransfer("t-outbox", "alice", "bob", "USDT", decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	require.Equal(t, usecase.StatusCommitted, result.Status)

	events, err := stack.Outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeEntryCommitted, events[0].EventType)
	assert.Equal(t, "t-outbox", events[0].Payload["correlation_id"])
}

func TestOutbox_PublisherDrainsEvents(t *testing.T) {
	ctx := context.Background()

	testDB := testutil.NewTestDB(t)
	defer testDB.Cleanup()
	testDB.TruncateAll(ctx)

	stack := testDB.NewStack(ctx, t.TempDir())
	stack.Fund(t, ctx, "alice", "USDT", decimal.NewFromInt(200000))

	_, err := stack.Executor.Submit(ctx, usecase.SubmitInput{
		Intent: domain.NewTransfer("t-small", "alice", "bob", "USDT", decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	_, err = stack.Executor.Submit(ctx, usecase.SubmitInput{
		Intent: domain.NewWithdrawal("w-gated", "alice", "USDT", decimal.NewFromInt(150000)),
	})
	require.NoError(t, err)

	recorder := &recordingPublisher{}
	publisher := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: stack.Outbox,
		Publisher:  recorder,
		Logger:     zerolog.Nop(),
		Interval:   50 * time.Millisecond,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = publisher.Start(runCtx)
	}()

	require.Eventually(t, func() bool {
		pending, err := stack.Outbox.GetUnpublished(ctx, 10)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []string{domain.EventTypeEntryCommitted, domain.EventTypeApprovalCreated}, recorder.types())
}

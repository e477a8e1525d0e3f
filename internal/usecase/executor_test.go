package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
	"github.com/maithanhduyan/bibank/internal/usecase/mocks"
)

func TestExecutor_Submit_Commits(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(1000))
	ctx := context.Background()

	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewTransfer("t-1", "alice", "bob", "USDT", d(100))})
	require.NoError(t, err)

	assert.Equal(t, usecase.StatusCommitted, result.Status)
	require.NotNil(t, result.Entry)
	assert.Equal(t, uint64(3), result.Entry.Sequence)
	assert.Equal(t, domain.DecisionAllow, result.Decision)
	assert.Empty(t, result.Compensating)

	assert.True(t, h.risk.Balance(domain.UserAvailable("alice", "USDT")).Equal(d(900)))
	assert.True(t, h.risk.Balance(domain.UserAvailable("bob", "USDT")).Equal(d(100)))
	assert.Equal(t, []string{domain.EventTypeEntryCommitted}, h.outbox.EventTypes())

	records := h.compStore.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.ComplianceCheckPerformed, records[0].EventType)
	assert.Equal(t, "t-1", records[0].CorrelationID)
}

func TestExecutor_Submit_Rejections(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(1000))
	ctx := context.Background()

	_, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewTransfer("t-1", "alice", "bob", "USDT", d(1))})
	require.NoError(t, err)

	tests := []struct {
		name    string
		intent  *domain.TransactionIntent
		wantErr error
	}{
		{"duplicate correlation", domain.NewTransfer("t-1", "alice", "bob", "USDT", d(1)), domain.ErrDuplicateCorrelation},
		{"insufficient balance", domain.NewTransfer("t-2", "alice", "bob", "USDT", d(5000)), domain.ErrInsufficientBalance},
		{"empty correlation", domain.NewTransfer("", "alice", "bob", "USDT", d(1)), domain.ErrEmptyCorrelationID},
		{"nil intent", nil, domain.ErrUnknownIntent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			height := h.journal.Height()
			_, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: tt.intent})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, height, h.journal.Height(), "rejected intent must not reach the journal")
		})
	}
}

func TestExecutor_Submit_SanctionsBlock(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(1000))
	h.watchlist.Add("X")

	_, err := h.executor.Submit(context.Background(), usecase.SubmitInput{Intent: domain.NewTransfer("t-x", "alice", "x", "USDT", d(10))})

	var rejected *domain.HookRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, usecase.CodeSanctionsBlocked, rejected.Code)

	_, found := h.journal.FindByCorrelation("t-x")
	assert.False(t, found)
	assert.Equal(t, uint64(2), h.journal.Height())
	assert.Empty(t, h.compStore.Records(), "blocked intents never reach compliance")
	assert.Empty(t, h.outbox.EventTypes())
}

func TestExecutor_Submit_WithdrawalNeedsTwoOfThree(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(200000))
	ctx := context.Background()
	alice := domain.UserAvailable("alice", "USDT")

	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-big", "alice", "USDT", d(150000))})
	require.NoError(t, err)
	require.Equal(t, usecase.StatusPendingApproval, result.Status)
	require.NotNil(t, result.Approval)
	approval := result.Approval

	assert.Nil(t, result.Entry)
	assert.Equal(t, uint64(2), h.journal.Height(), "ledger write is deferred")
	assert.True(t, h.risk.Available(alice).Equal(d(50000)), "gated amount is held")

	_, err = h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-other", "alice", "USDT", d(60000))})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance, "held funds cannot be spent twice")

	pending, res, err := h.executor.Sign(ctx, approval.ID, signerA.id, signerA.sign(approval))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, domain.ApprovalCollecting, pending.Status)
	assert.Equal(t, uint64(2), h.journal.Height())

	done, res, err := h.executor.Sign(ctx, approval.ID, signerB.id, signerB.sign(approval))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, usecase.StatusCommitted, res.Status)
	assert.Equal(t, domain.ApprovalApproved, done.Status)
	require.NotNil(t, done.ExecutedSequence)
	assert.Equal(t, uint64(3), *done.ExecutedSequence)
	assert.Equal(t, "w-big", res.Entry.CorrelationID)

	assert.True(t, h.risk.Balance(alice).Equal(d(50000)))
	assert.True(t, h.risk.Available(alice).Equal(d(50000)), "hold is consumed by the commit")

	assert.Equal(t, []string{
		domain.EventTypeApprovalCreated,
		domain.EventTypeEntryCommitted,
		domain.EventTypeEntryFlagged,
		domain.EventTypeApprovalResolved,
	}, h.outbox.EventTypes())
}

func TestExecutor_ThresholdApprovalAbandoned(t *testing.T) {
	tests := []struct {
		name    string
		abandon func(h *harness, approval *domain.PendingApproval) error
		status  domain.ApprovalStatus
	}{
		{
			name: "rejected",
			abandon: func(h *harness, approval *domain.PendingApproval) error {
				_, err := h.executor.Reject(context.Background(), approval.ID, signerC.id, "not today")
				return err
			},
			status: domain.ApprovalRejected,
		},
		{
			name: "expired",
			abandon: func(h *harness, approval *domain.PendingApproval) error {
				h.clock.Advance(24 * time.Hour)
				n, err := h.executor.ExpireApprovals(context.Background())
				if n != 1 {
					return errors.New("expected one expired approval")
				}
				return err
			},
			status: domain.ApprovalExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(t, "alice", d(200000))
			ctx := context.Background()

			result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-big", "alice", "USDT", d(150000))})
			require.NoError(t, err)

			require.NoError(t, tt.abandon(h, result.Approval))

			stored, err := h.workflow.Get(ctx, result.Approval.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
			assert.True(t, h.risk.Available(domain.UserAvailable("alice", "USDT")).Equal(d(200000)), "hold is released")
			assert.Equal(t, uint64(2), h.journal.Height())

			_, _, err = h.executor.Sign(ctx, result.Approval.ID, signerA.id, signerA.sign(result.Approval))
			assert.Error(t, err)
			assert.Equal(t, uint64(2), h.journal.Height())
		})
	}
}

func TestExecutor_FailedResumeIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(200000))
	ctx := context.Background()
	alice := domain.UserAvailable("alice", "USDT")

	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-big", "alice", "USDT", d(150000))})
	require.NoError(t, err)
	approval := result.Approval

	// Screening changes while the approval collects signatures.
	h.watchlist.Add("alice")

	_, _, err = h.executor.Sign(ctx, approval.ID, signerA.id, signerA.sign(approval))
	require.NoError(t, err)
	_, _, err = h.executor.Sign(ctx, approval.ID, signerB.id, signerB.sign(approval))
	require.ErrorIs(t, err, domain.ErrHookRejected)

	stored, err := h.workflow.Get(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, stored.Status)
	assert.True(t, strings.HasPrefix(stored.RejectionReason, usecase.ExecutionFailedReason), stored.RejectionReason)
	assert.Nil(t, stored.ExecutedSequence)
	assert.True(t, h.risk.Available(alice).Equal(d(200000)), "hold is released")
	assert.Equal(t, []string{
		domain.EventTypeApprovalCreated,
		domain.EventTypeApprovalResolved,
	}, h.outbox.EventTypes())

	// A restart must not pick the operation up again.
	h.watchlist.Remove("alice")
	require.NoError(t, h.executor.Recover(ctx))
	assert.Equal(t, uint64(2), h.journal.Height())
	_, found := h.journal.FindByCorrelation("w-big")
	assert.False(t, found)

	_, err = h.executor.Resume(ctx, approval.ID)
	assert.ErrorIs(t, err, domain.ErrApprovalNotApproved)
}

func TestExecutor_Submit_ConcurrentSequencesAreContiguous(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(1000))
	ctx := context.Background()

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[uint64]string, workers)
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c-%02d", i)
			res, err := h.executor.Submit(ctx, usecase.SubmitInput{
				Intent: domain.NewTransfer(id, "alice", fmt.Sprintf("user%02d", i), "USDT", d(1)),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if prev, dup := seqs[res.Entry.Sequence]; dup {
				errs = append(errs, fmt.Errorf("sequence %d assigned to %s and %s", res.Entry.Sequence, prev, id))
			}
			seqs[res.Entry.Sequence] = id
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, seqs, workers)

	entries, err := h.journal.ReadAll(ctx)
	require.NoError(t, err)
	require.NoError(t, domain.VerifyChain(entries))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Sequence, "sequences are strictly increasing without gaps")
	}
	assert.Equal(t, uint64(len(entries)), h.journal.Height())
	assert.Equal(t, h.journal.Height(), h.risk.LastApplied())
	assert.Equal(t, len(entries), h.store.Len())
	assert.True(t, h.risk.Balance(domain.UserAvailable("alice", "USDT")).Equal(d(1000-workers)))
}

func TestExecutor_PostCommitFlagLocksFunds(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(20000))
	ctx := context.Background()
	bobAvailable := domain.UserAvailable("bob", "USDT")
	bobLocked := domain.UserLocked("bob", "USDT")

	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewTransfer("t-big", "alice", "bob", "USDT", d(15000))})
	require.NoError(t, err)

	assert.Equal(t, usecase.StatusCommitted, result.Status)
	assert.Equal(t, domain.DecisionFlag, result.Decision)
	assert.Contains(t, result.Rules, usecase.RuleLargeTx)

	require.Len(t, result.Compensating, 1)
	lock := result.Compensating[0]
	assert.Equal(t, domain.IntentFundLock, lock.Intent)
	assert.Equal(t, "t-big", lock.CausalityID)
	assert.Equal(t, result.Entry.Sequence+1, lock.Sequence)

	assert.True(t, h.risk.Balance(bobAvailable).IsZero())
	assert.True(t, h.risk.Balance(bobLocked).Equal(d(15000)))
	require.NoError(t, h.journal.Verify())

	require.Len(t, result.Reviews, 1)
	review := result.Reviews[0]
	assert.Equal(t, domain.ApprovalKindComplianceReview, review.Kind)
	assert.Equal(t, domain.IntentFundRelease, review.Intent.Intent)

	assert.Equal(t, []string{
		domain.EventTypeEntryCommitted,
		domain.EventTypeEntryCommitted,
		domain.EventTypeEntryFlagged,
		domain.EventTypeApprovalCreated,
	}, h.outbox.EventTypes())

	t.Run("approved review releases funds", func(t *testing.T) {
		_, _, err := h.executor.Sign(ctx, review.ID, signerA.id, signerA.sign(review))
		require.NoError(t, err)
		_, res, err := h.executor.Sign(ctx, review.ID, signerB.id, signerB.sign(review))
		require.NoError(t, err)
		require.NotNil(t, res)

		assert.Equal(t, domain.IntentFundRelease, res.Entry.Intent)
		assert.True(t, h.risk.Balance(bobAvailable).Equal(d(15000)))
		assert.True(t, h.risk.Balance(bobLocked).IsZero())

		records := h.compStore.Records()
		last := records[len(records)-1]
		assert.Equal(t, domain.ComplianceReviewCompleted, last.EventType)
		assert.Equal(t, domain.ReviewOutcomeApproved, last.Payload["outcome"])
		assert.Equal(t, "t-big", last.CorrelationID)
	})
}

func TestExecutor_ReviewExpiryKeepsFundsLocked(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(20000))
	ctx := context.Background()

	_, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewTransfer("t-big", "alice", "bob", "USDT", d(15000))})
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	n, err := h.executor.ExpireApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, h.risk.Balance(domain.UserLocked("bob", "USDT")).Equal(d(15000)))

	records := h.compStore.Records()
	last := records[len(records)-1]
	assert.Equal(t, domain.ComplianceReviewCompleted, last.EventType)
	assert.Equal(t, domain.ReviewOutcomeExpired, last.Payload["outcome"])
	assert.Equal(t, domain.DecisionBlock, last.Decision)
	assert.NoError(t, h.compliance.Ledger().Verify())
}

func TestExecutor_LocksEachCreditedUser(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(20000))
	ctx := context.Background()

	h.hooks.RegisterPost(&stubPostHook{name: "flag_all", decision: usecase.Flag("manual", usecase.SeverityLow)})
	multi := &domain.TransactionIntent{
		Intent:        domain.IntentTransfer,
		CorrelationID: "t-3",
		Postings: []domain.Posting{
			domain.Debit(domain.UserAvailable("alice", "USDT"), d(300)),
			domain.Credit(domain.UserAvailable("bob", "USDT"), d(100)),
			domain.Credit(domain.UserAvailable("carol", "USDT"), d(200)),
		},
	}
	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: multi})
	require.NoError(t, err)

	require.Len(t, result.Compensating, 2)
	assert.Equal(t, "t-3:lock", result.Compensating[0].CorrelationID)
	assert.Equal(t, "t-3:lock:2", result.Compensating[1].CorrelationID)
	assert.True(t, h.risk.Balance(domain.UserLocked("bob", "USDT")).Equal(d(100)))
	assert.True(t, h.risk.Balance(domain.UserLocked("carol", "USDT")).Equal(d(200)))
	assert.True(t, h.risk.Balance(domain.UserAvailable("alice", "USDT")).Equal(d(19700)), "debited user is untouched")
	assert.Len(t, result.Reviews, 2)
}

func TestExecutor_StartRestoresState(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(200000))
	ctx := context.Background()

	result, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-big", "alice", "USDT", d(150000))})
	require.NoError(t, err)

	// A fresh process over the same stores.
	journal := usecase.NewJournal(h.store, nil, nil)
	risk := usecase.NewRiskEngine(nil)
	ledger := usecase.NewComplianceLedger(h.compStore, nil)
	compliance := usecase.NewComplianceEngine(usecase.DefaultComplianceConfig(), h.watchlist, nil, ledger, zerolog.Nop(), nil)
	workflow, err := usecase.NewApprovalWorkflow(h.approvals, testPolicy(), &mocks.MockIDGenerator{Prefix: "R"}, zerolog.Nop(), nil)
	require.NoError(t, err)
	workflow.SetClock(h.clock.Now)

	restarted := usecase.NewExecutor(usecase.ExecutorDeps{
		Journal:    journal,
		Risk:       risk,
		Hooks:      h.hooks,
		Compliance: compliance,
		Approvals:  workflow,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, restarted.Start(ctx))

	assert.Equal(t, uint64(2), journal.Height())
	assert.True(t, risk.Balance(domain.UserAvailable("alice", "USDT")).Equal(d(200000)))
	assert.True(t, risk.Available(domain.UserAvailable("alice", "USDT")).Equal(d(50000)), "hold restored for open approval")

	approval := result.Approval
	_, _, err = restarted.Sign(ctx, approval.ID, signerA.id, signerA.sign(approval))
	require.NoError(t, err)
	_, res, err := restarted.Sign(ctx, approval.ID, signerC.id, signerC.sign(approval))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Entry.Sequence)
}

func TestExecutor_StartHaltsOnTamperedJournal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(100))

	entries, _ := h.store.ReadAll(context.Background())
	entries[1].Postings[0].Amount = d(1000000)

	journal := usecase.NewJournal(h.store, nil, nil)
	restarted := usecase.NewExecutor(usecase.ExecutorDeps{
		Journal: journal,
		Risk:    usecase.NewRiskEngine(nil),
		Hooks:   usecase.NewHookRegistry(domain.FailClosed, zerolog.Nop(), nil),
		Logger:  zerolog.Nop(),
	})

	err := restarted.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrBrokenHashChain)
}

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
	"github.com/maithanhduyan/bibank/internal/usecase/mocks"
)

func newTestComplianceEngine(cfg usecase.ComplianceConfig, wl *usecase.Watchlist, screener usecase.Screener) (*usecase.ComplianceEngine, *mocks.MockComplianceStore) {
	store := mocks.NewMockComplianceStore()
	ledger := usecase.NewComplianceLedger(store, nil)
	ledger.SetClock(newFakeClock().Now)
	engine := usecase.NewComplianceEngine(cfg, wl, screener, ledger, zerolog.Nop(), nil)
	engine.SetClock(newFakeClock().Now)
	return engine, store
}

func hookContextFor(intent *domain.TransactionIntent, at time.Time) *domain.HookContext {
	return domain.NewHookContext(intent, at)
}

func TestComplianceEngine_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		intent    *domain.TransactionIntent
		metadata  map[string]string
		want      domain.AmlDecision
		wantRules []string
	}{
		{
			name:   "small transfer allowed",
			intent: domain.NewTransfer("t-1", "alice", "bob", "USDT", d(100)),
			want:   domain.DecisionAllow,
		},
		{
			name:      "large transfer flagged with CTR",
			intent:    domain.NewTransfer("t-2", "alice", "bob", "USDT", d(15000)),
			want:      domain.DecisionFlag,
			wantRules: []string{usecase.RuleLargeTx, usecase.RuleCTRThreshold},
		},
		{
			name:      "watchlisted party blocked",
			intent:    domain.NewTransfer("t-3", "alice", "mallory", "USDT", d(10)),
			want:      domain.DecisionBlock,
			wantRules: []string{usecase.RuleSanctionsMatch},
		},
		{
			name:      "PEP routed to review",
			intent:    domain.NewTransfer("t-4", "alice", "bob", "USDT", d(10)),
			metadata:  map[string]string{domain.MetaIsPEP: "true"},
			want:      domain.DecisionReview,
			wantRules: []string{usecase.RulePEPReview},
		},
		{
			name:      "new account moving half the large threshold",
			intent:    domain.NewDeposit("dep-1", "alice", "USDT", d(5000)),
			metadata:  map[string]string{domain.MetaAccountAgeDays: "1"},
			want:      domain.DecisionFlag,
			wantRules: []string{usecase.RuleNewAccountLargeTx},
		},
		{
			name:      "lattice takes the maximum",
			intent:    domain.NewTransfer("t-5", "alice", "mallory", "USDT", d(20000)),
			metadata:  map[string]string{domain.MetaIsPEP: "true"},
			want:      domain.DecisionBlock,
			wantRules: []string{usecase.RuleSanctionsMatch, usecase.RuleLargeTx, usecase.RuleCTRThreshold, usecase.RulePEPReview},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestComplianceEngine(usecase.DefaultComplianceConfig(), usecase.NewWatchlist("mallory"), nil)
			tt.intent.Metadata = tt.metadata

			result := engine.Evaluate(context.Background(), hookContextFor(tt.intent, baseTime))

			assert.Equal(t, tt.want, result.Decision)
			for _, rule := range tt.wantRules {
				assert.Contains(t, result.RuleNames(), rule)
			}
		})
	}
}

func TestComplianceEngine_Structuring(t *testing.T) {
	engine, _ := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)
	ctx := context.Background()

	var result *domain.ComplianceResult
	for i, amount := range []int64{3000, 3000, 3500} {
		intent := domain.NewDeposit(fmt.Sprintf("dep-%d", i), "alice", "USDT", d(amount))
		result = engine.Evaluate(ctx, hookContextFor(intent, baseTime.Add(time.Duration(i)*10*time.Minute)))
	}

	assert.Equal(t, domain.DecisionReview, result.Decision)
	assert.Contains(t, result.RuleNames(), usecase.RuleStructuring)
	assert.True(t, engine.RequiresReview(result.Decision))
}

func TestComplianceEngine_StructuringSkippedWhenReported(t *testing.T) {
	engine, _ := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)
	ctx := context.Background()

	var result *domain.ComplianceResult
	for i, amount := range []int64{12000, 3000, 3000} {
		intent := domain.NewDeposit(fmt.Sprintf("dep-%d", i), "alice", "USDT", d(amount))
		result = engine.Evaluate(ctx, hookContextFor(intent, baseTime.Add(time.Duration(i)*time.Minute)))
	}

	assert.NotContains(t, result.RuleNames(), usecase.RuleStructuring)
}

func TestComplianceEngine_Velocity(t *testing.T) {
	engine, _ := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)
	ctx := context.Background()

	var result *domain.ComplianceResult
	for i := 0; i < 5; i++ {
		intent := domain.NewDeposit(fmt.Sprintf("dep-%d", i), "alice", "USDT", d(10))
		result = engine.Evaluate(ctx, hookContextFor(intent, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	assert.Contains(t, result.RuleNames(), usecase.RuleVelocity)

	later := domain.NewDeposit("dep-later", "alice", "USDT", d(10))
	result = engine.Evaluate(ctx, hookContextFor(later, baseTime.Add(3*time.Hour)))
	assert.NotContains(t, result.RuleNames(), usecase.RuleVelocity)
}

func TestComplianceEngine_ExternalFailure(t *testing.T) {
	timeout := &mocks.FakeWatchlistClient{
		ScreenFunc: func(context.Context, string) (bool, error) {
			return false, &domain.ExternalServiceError{Service: "watchlist", Err: domain.ErrExternalServiceTimeout}
		},
	}
	down := &mocks.FakeWatchlistClient{
		ScreenFunc: func(context.Context, string) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	tests := []struct {
		name     string
		policy   domain.FailPolicy
		screener usecase.Screener
		want     domain.AmlDecision
		wantRule string
	}{
		{"timeout fail-closed", domain.FailClosed, timeout, domain.DecisionBlock, usecase.RuleExternalTimeout},
		{"timeout fail-open", domain.FailOpen, timeout, domain.DecisionAllow, usecase.RuleExternalTimeout},
		{"unavailable fail-closed", domain.FailClosed, down, domain.DecisionBlock, usecase.RuleExternalUnavailable},
		{"unavailable fail-open", domain.FailOpen, down, domain.DecisionAllow, usecase.RuleExternalUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := usecase.DefaultComplianceConfig()
			cfg.FailPolicy = tt.policy
			engine, _ := newTestComplianceEngine(cfg, nil, tt.screener)

			result := engine.Evaluate(context.Background(), hookContextFor(domain.NewTransfer("t-1", "alice", "bob", "USDT", d(10)), baseTime))

			assert.Equal(t, tt.want, result.Decision)
			assert.Contains(t, result.RuleNames(), tt.wantRule)
		})
	}
}

func TestComplianceEngine_Record(t *testing.T) {
	engine, store := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)
	ctx := context.Background()

	hc := hookContextFor(domain.NewTransfer("t-1", "alice", "bob", "USDT", d(100)), baseTime)
	require.NoError(t, engine.Record(ctx, engine.Evaluate(ctx, hc), hc))

	big := hookContextFor(domain.NewTransfer("t-2", "alice", "bob", "USDT", d(20000)), baseTime)
	require.NoError(t, engine.Record(ctx, engine.Evaluate(ctx, big), big))

	records := store.Records()
	require.Len(t, records, 3)
	assert.Equal(t, domain.ComplianceCheckPerformed, records[0].EventType)
	assert.Equal(t, domain.ComplianceCheckPerformed, records[1].EventType)
	assert.Equal(t, domain.ComplianceTransactionFlagged, records[2].EventType)
	assert.Equal(t, baseTime.Add(72*time.Hour).Format(time.RFC3339), records[2].Payload["expires_at"])

	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, domain.GenesisPrevHash, records[0].PrevHash)
	assert.Equal(t, records[1].Hash, records[2].PrevHash)
	assert.NoError(t, engine.Ledger().Verify())
}

func TestComplianceEngine_RecordReview(t *testing.T) {
	engine, store := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)

	approval := &domain.PendingApproval{
		ID:         "APPR-1",
		Intent:     domain.NewFundRelease("t-1:release", "t-1", "bob", "USDT", d(10)),
		Status:     domain.ApprovalApproved,
		Signatures: []domain.ApprovalSignature{{SignerID: "alice-ops"}, {SignerID: "bob-ops"}},
	}
	require.NoError(t, engine.RecordReview(context.Background(), approval, domain.ReviewOutcomeApproved))

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.ComplianceReviewCompleted, records[0].EventType)
	assert.Equal(t, "t-1", records[0].CorrelationID)
	assert.Equal(t, "alice-ops,bob-ops", records[0].Payload["signers"])
	assert.Equal(t, domain.DecisionAllow, records[0].Decision)
}

func TestComplianceLedger_LoadRejectsTampering(t *testing.T) {
	engine, store := newTestComplianceEngine(usecase.DefaultComplianceConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, engine.RecordRuleSet(ctx))
	require.NoError(t, engine.RecordWatchlistChange(ctx, "mallory", true))

	records := store.Records()
	records[0].Payload["ctr"] = "1"

	reloaded := usecase.NewComplianceLedger(store, nil)
	assert.ErrorIs(t, reloaded.Load(ctx), domain.ErrBrokenHashChain)
}

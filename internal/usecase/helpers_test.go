package usecase_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
	"github.com/maithanhduyan/bibank/internal/usecase/mocks"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var baseTime = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(dd time.Duration) { c.now = c.now.Add(dd) }

// testSigner is an ed25519 approver with a deterministic key.
type testSigner struct {
	id   string
	priv ed25519.PrivateKey
}

func newTestSigner(id string, seed byte) testSigner {
	return testSigner{id: id, priv: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))}
}

func (s testSigner) publicHex() string {
	return hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

func (s testSigner) sign(approval *domain.PendingApproval) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(approval.OperationHash)))
}

var (
	signerA = newTestSigner("alice-ops", 1)
	signerB = newTestSigner("bob-ops", 2)
	signerC = newTestSigner("carol-ops", 3)
)

func testPolicy() usecase.ApprovalPolicy {
	return usecase.ApprovalPolicy{
		Required: 2,
		Signers: map[string]string{
			signerA.id: signerA.publicHex(),
			signerB.id: signerB.publicHex(),
			signerC.id: signerC.publicHex(),
		},
		TTL:                 24 * time.Hour,
		WithdrawalThreshold: d(100000),
	}
}

// harness wires an executor over in-memory stores.
type harness struct {
	clock      *fakeClock
	store      *mocks.MockJournalStore
	compStore  *mocks.MockComplianceStore
	approvals  *mocks.MockApprovalRepository
	outbox     *mocks.MockOutbox
	watchlist  *usecase.Watchlist
	journal    *usecase.Journal
	risk       *usecase.RiskEngine
	hooks      *usecase.HookRegistry
	compliance *usecase.ComplianceEngine
	workflow   *usecase.ApprovalWorkflow
	executor   *usecase.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:     newFakeClock(),
		store:     mocks.NewMockJournalStore(),
		compStore: mocks.NewMockComplianceStore(),
		approvals: mocks.NewMockApprovalRepository(),
		outbox:    mocks.NewMockOutbox(),
		watchlist: usecase.NewWatchlist(),
	}
	logger := zerolog.Nop()

	h.journal = usecase.NewJournal(h.store, nil, nil)
	h.journal.SetClock(h.clock.Now)
	h.risk = usecase.NewRiskEngine(nil)

	h.hooks = usecase.NewHookRegistry(domain.FailClosed, logger, nil)
	h.hooks.RegisterPre(usecase.NewSanctionsHook(h.watchlist))
	h.hooks.RegisterPost(usecase.NewLargeTxHook(d(10000)))

	ledger := usecase.NewComplianceLedger(h.compStore, nil)
	ledger.SetClock(h.clock.Now)
	h.compliance = usecase.NewComplianceEngine(usecase.DefaultComplianceConfig(), h.watchlist, nil, ledger, logger, nil)
	h.compliance.SetClock(h.clock.Now)

	workflow, err := usecase.NewApprovalWorkflow(h.approvals, testPolicy(), &mocks.MockIDGenerator{}, logger, nil)
	if err != nil {
		t.Fatalf("NewApprovalWorkflow() error = %v", err)
	}
	workflow.SetClock(h.clock.Now)
	h.workflow = workflow

	h.executor = usecase.NewExecutor(usecase.ExecutorDeps{
		Journal:    h.journal,
		Risk:       h.risk,
		Hooks:      h.hooks,
		Compliance: h.compliance,
		Approvals:  h.workflow,
		Outbox:     h.outbox,
		IDGen:      &mocks.MockIDGenerator{Prefix: "EVT-"},
		Logger:     logger,
	})
	h.executor.SetClock(h.clock.Now)

	if err := h.executor.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h
}

// fund capitalises the vault and credits amount to user, bypassing hooks and compliance.
func (h *harness) fund(t *testing.T, user string, amount decimal.Decimal) {
	t.Helper()
	ctx := context.Background()

	for _, intent := range []*domain.TransactionIntent{
		domain.NewGenesis("genesis-"+user, "USDT", amount),
		domain.NewDeposit("deposit-"+user, user, "USDT", amount),
	} {
		entry, err := h.journal.Append(ctx, intent)
		if err != nil {
			t.Fatalf("seed %s: %v", intent.CorrelationID, err)
		}
		if err := h.risk.Apply(entry); err != nil {
			t.Fatalf("apply %s: %v", intent.CorrelationID, err)
		}
	}
}

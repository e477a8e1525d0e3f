package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/adapter/repository/jsonl"
	pgrepo "github.com/maithanhduyan/bibank/internal/adapter/repository/postgres"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/postgres"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// TestDB provides isolated test database connections.
type TestDB struct {
	Pool *pgxpool.Pool
	t    *testing.T
}

// NewTestDB connects to DATABASE_URL and applies the migrations. The test is
// skipped in short mode or when no database is configured.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	migrationsPath := "migrations"
	for _, candidate := range []string{"migrations", "../../migrations", "../../../migrations"} {
		if _, err := os.Stat(candidate); err == nil {
			migrationsPath = candidate
			break
		}
	}

	if err := postgres.RunMigrations(dbURL, migrationsPath, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	return &TestDB{Pool: pool, t: t}
}

// Cleanup closes the database connection.
func (db *TestDB) Cleanup() {
	db.Pool.Close()
}

// TruncateAll removes all data from tables.
func (db *TestDB) TruncateAll(ctx context.Context) {
	db.t.Helper()

	if _, err := db.Pool.Exec(ctx, "TRUNCATE pending_approvals, outbox_events"); err != nil {
		db.t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Approver is a deterministic ed25519 approval signer.
type Approver struct {
	ID   string
	priv ed25519.PrivateKey
}

// NewApprover derives a key from a single repeated seed byte.
func NewApprover(id string, seed byte) Approver {
	return Approver{ID: id, priv: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))}
}

// PublicKeyHex returns the hex-encoded public key.
func (a Approver) PublicKeyHex() string {
	return hex.EncodeToString(a.priv.Public().(ed25519.PublicKey))
}

// Sign signs the approval's operation hash.
func (a Approver) Sign(approval *domain.PendingApproval) string {
	return hex.EncodeToString(ed25519.Sign(a.priv, []byte(approval.OperationHash)))
}

// Approvers used by every stack.
var Approvers = []Approver{
	NewApprover("alice-ops", 1),
	NewApprover("bob-ops", 2),
	NewApprover("carol-ops", 3),
}

// Policy is a 2-of-3 policy over Approvers with a 100000 withdrawal threshold.
func Policy() usecase.ApprovalPolicy {
	signers := make(map[string]string, len(Approvers))
	for _, a := range Approvers {
		signers[a.ID] = a.PublicKeyHex()
	}
	return usecase.ApprovalPolicy{
		Required:            2,
		Signers:             signers,
		TTL:                 24 * time.Hour,
		WithdrawalThreshold: decimal.NewFromInt(100000),
	}
}

// Stack is an executor wired to JSONL ledgers in dir and Postgres-backed
// approvals and outbox.
type Stack struct {
	Dir       string
	Approvals *pgrepo.ApprovalRepository
	Outbox    *pgrepo.OutboxRepository
	Watchlist *usecase.Watchlist
	Executor  *usecase.Executor
}

// NewStack builds and starts an executor. Reusing dir restarts over the same ledgers.
func (db *TestDB) NewStack(ctx context.Context, dir string) *Stack {
	db.t.Helper()

	logger := zerolog.Nop()
	journalStore, err := jsonl.NewJournalStore(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		db.t.Fatalf("journal store: %v", err)
	}
	complianceStore, err := jsonl.NewComplianceStore(filepath.Join(dir, "compliance.jsonl"))
	if err != nil {
		db.t.Fatalf("compliance store: %v", err)
	}

	s := &Stack{
		Dir:       dir,
		Approvals: pgrepo.NewApprovalRepository(db.Pool, pgrepo.NewRetrier(logger)),
		Outbox:    pgrepo.NewOutboxRepository(db.Pool),
		Watchlist: usecase.NewWatchlist(),
	}

	hooks := usecase.NewHookRegistry(domain.FailClosed, logger, nil)
	hooks.RegisterPre(usecase.NewSanctionsHook(s.Watchlist))

	ledger := usecase.NewComplianceLedger(complianceStore, nil)
	compliance := usecase.NewComplianceEngine(usecase.DefaultComplianceConfig(), s.Watchlist, nil, ledger, logger, nil)

	idGen := pgrepo.NewULIDGenerator()
	workflow, err := usecase.NewApprovalWorkflow(s.Approvals, Policy(), idGen, logger, nil)
	if err != nil {
		db.t.Fatalf("approval workflow: %v", err)
	}

	s.Executor = usecase.NewExecutor(usecase.ExecutorDeps{
		Journal:    usecase.NewJournal(journalStore, nil, nil),
		Risk:       usecase.NewRiskEngine(nil),
		Hooks:      hooks,
		Compliance: compliance,
		Approvals:  workflow,
		Outbox:     s.Outbox,
		IDGen:      idGen,
		Logger:     logger,
	})
	if err := s.Executor.Start(ctx); err != nil {
		db.t.Fatalf("start executor: %v", err)
	}
	return s
}

// Fund capitalises the vault and deposits amount for user, bypassing hooks.
func (s *Stack) Fund(t *testing.T, ctx context.Context, user, asset string, amount decimal.Decimal) {
	t.Helper()

	for _, intent := range []*domain.TransactionIntent{
		domain.NewGenesis("genesis-"+user+"-"+asset, asset, amount),
		domain.NewDeposit("deposit-"+user+"-"+asset, user, asset, amount),
	} {
		entry, err := s.Executor.Journal().Append(ctx, intent)
		if err != nil {
			t.Fatalf("seed %s: %v", intent.CorrelationID, err)
		}
		if err := s.Executor.Risk().Apply(entry); err != nil {
			t.Fatalf("apply %s: %v", intent.CorrelationID, err)
		}
	}
}

// GenerateID returns a fresh ULID.
func GenerateID() string {
	return pgrepo.NewULIDGenerator().Generate()
}

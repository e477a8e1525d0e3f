package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// ExecutionStatus is the outcome of a submitted intent.
type ExecutionStatus string

const (
	StatusCommitted       ExecutionStatus = "committed"
	StatusPendingApproval ExecutionStatus = "pending_approval"
)

// SubmitInput is a transaction intent submitted for execution.
type SubmitInput struct {
	Intent *domain.TransactionIntent
}

// ExecutionResult is what callers see after Submit, Sign or Resume.
type ExecutionResult struct {
	Status       ExecutionStatus           `json:"status"`
	Entry        *domain.JournalEntry      `json:"entry,omitempty"`
	Approval     *domain.PendingApproval   `json:"approval,omitempty"`
	Decision     domain.AmlDecision        `json:"decision"`
	Rules        []string                  `json:"rules,omitempty"`
	Compensating []*domain.JournalEntry    `json:"compensating,omitempty"`
	Reviews      []*domain.PendingApproval `json:"reviews,omitempty"`
}

// ExecutorDeps wires the executor. Compliance, Approvals and Outbox are optional.
type ExecutorDeps struct {
	Journal    *Journal
	Risk       *RiskEngine
	Hooks      *HookRegistry
	Compliance *ComplianceEngine
	Approvals  *ApprovalWorkflow
	Outbox     OutboxRepository
	IDGen      IDGenerator
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Executor is the single entry point for ledger writes. Every commit, including
// compensating locks and resumed approvals, passes through one writer gate.
type Executor struct {
	commitMu sync.Mutex

	journal    *Journal
	risk       *RiskEngine
	hooks      *HookRegistry
	compliance *ComplianceEngine
	approvals  *ApprovalWorkflow
	outbox     OutboxRepository
	idGen      IDGenerator
	clock      Clock
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewExecutor creates an executor and subscribes to abandoned approvals.
func NewExecutor(deps ExecutorDeps) *Executor {
	e := &Executor{
		journal:    deps.Journal,
		risk:       deps.Risk,
		hooks:      deps.Hooks,
		compliance: deps.Compliance,
		approvals:  deps.Approvals,
		outbox:     deps.Outbox,
		idGen:      deps.IDGen,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if e.approvals != nil {
		e.approvals.OnAbandoned(e.handleAbandoned)
	}
	return e
}

// SetClock overrides the time source used for hook contexts and events.
func (e *Executor) SetClock(c Clock) {
	e.clock = c
}

// Journal returns the underlying journal.
func (e *Executor) Journal() *Journal { return e.journal }

// Risk returns the risk engine.
func (e *Executor) Risk() *RiskEngine { return e.risk }

// Compliance returns the compliance engine, or nil.
func (e *Executor) Compliance() *ComplianceEngine { return e.compliance }

// Approvals returns the approval workflow, or nil.
func (e *Executor) Approvals() *ApprovalWorkflow { return e.approvals }

// Start loads and verifies both ledgers, rebuilds balances and restores holds for
// open approvals. An integrity error is returned and must halt the process.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.journal.Load(ctx); err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if err := e.risk.Rebuild(ctx, e.journal); err != nil {
		return fmt.Errorf("rebuild risk state: %w", err)
	}
	if e.compliance != nil {
		if err := e.compliance.Ledger().Load(ctx); err != nil {
			return fmt.Errorf("load compliance ledger: %w", err)
		}
		entries, _ := e.journal.ReadAll(ctx)
		e.compliance.Warm(entries)
	}
	if e.approvals != nil {
		if err := e.Recover(ctx); err != nil {
			return fmt.Errorf("recover approvals: %w", err)
		}
	}

	e.logger.Info().
		Uint64("journal_height", e.journal.Height()).
		Uint64("risk_last_applied", e.risk.LastApplied()).
		Msg("executor started")
	return nil
}

// Recover re-registers holds for open approvals and finishes approved operations
// that were not executed before a restart.
func (e *Executor) Recover(ctx context.Context) error {
	open, err := e.approvals.List(ctx, []domain.ApprovalStatus{domain.ApprovalPending, domain.ApprovalCollecting}, 0, 0)
	if err != nil {
		return err
	}
	for _, a := range open {
		if a.Kind == domain.ApprovalKindThreshold && a.Intent != nil {
			e.risk.Hold(a.ID, a.Intent)
		}
	}

	approved, err := e.approvals.List(ctx, []domain.ApprovalStatus{domain.ApprovalApproved}, 0, 0)
	if err != nil {
		return err
	}
	for _, a := range approved {
		if a.ExecutedSequence != nil || a.Intent == nil {
			continue
		}
		if entry, ok := e.journal.FindByCorrelation(a.Intent.CorrelationID); ok {
			if err := e.approvals.MarkExecuted(ctx, a.ID, entry.Sequence); err != nil {
				return err
			}
			continue
		}
		if _, err := e.Resume(ctx, a.ID); err != nil {
			e.logger.Error().Err(err).Str("approval_id", a.ID).Msg("resume of approved operation failed")
		}
	}
	return nil
}

// Submit runs an intent through pre-validation hooks, the risk precheck and the
// approval gate, then commits it and runs post-commit processing.
func (e *Executor) Submit(ctx context.Context, in SubmitInput) (*ExecutionResult, error) {
	intent := in.Intent
	if intent == nil {
		return nil, fmt.Errorf("%w: missing intent", domain.ErrUnknownIntent)
	}
	if err := intent.Validate(); err != nil {
		e.countOutcome(intent.Intent, "invalid")
		return nil, err
	}
	if entry, ok := e.journal.FindByCorrelation(intent.CorrelationID); ok {
		e.countOutcome(intent.Intent, "duplicate")
		return nil, fmt.Errorf("%w: %s at sequence %d", domain.ErrDuplicateCorrelation, intent.CorrelationID, entry.Sequence)
	}

	hc := domain.NewHookContext(intent, e.clock())
	if err := e.hooks.RunPre(ctx, hc); err != nil {
		e.countOutcome(intent.Intent, "blocked")
		return nil, err
	}

	if err := e.risk.Precheck(intent); err != nil {
		e.countOutcome(intent.Intent, "rejected")
		return nil, err
	}

	if e.approvals != nil {
		if gated, reason := e.approvals.Policy().RequiresApproval(intent); gated {
			return e.gate(ctx, intent, reason)
		}
	}

	entry, err := e.commit(ctx, intent, "")
	if err != nil {
		e.countOutcome(intent.Intent, "failed")
		return nil, err
	}

	result := &ExecutionResult{Status: StatusCommitted, Entry: entry}
	e.afterCommit(ctx, entry, hc, result)
	e.countOutcome(intent.Intent, string(StatusCommitted))

	return result, nil
}

// gate parks intent behind a threshold approval and holds the funds it would debit.
func (e *Executor) gate(ctx context.Context, intent *domain.TransactionIntent, reason string) (*ExecutionResult, error) {
	approval, err := e.approvals.Create(ctx, CreateApprovalInput{
		Kind:   domain.ApprovalKindThreshold,
		Intent: intent,
		Reason: reason,
	})
	if err != nil {
		e.countOutcome(intent.Intent, "failed")
		return nil, fmt.Errorf("create approval: %w", err)
	}
	e.risk.Hold(approval.ID, intent)

	e.emitApprovalCreated(ctx, approval)
	e.countOutcome(intent.Intent, string(StatusPendingApproval))

	return &ExecutionResult{Status: StatusPendingApproval, Approval: approval}, nil
}

// commit is the writer gate: precheck, append and apply happen under one lock so
// no other commit can interleave between the balance check and the write.
// holdRef names an approval hold the intent is allowed to consume.
func (e *Executor) commit(ctx context.Context, intent *domain.TransactionIntent, holdRef string) (*domain.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCommitTimeout)
	defer cancel()

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	var err error
	if holdRef != "" {
		err = e.risk.PrecheckExcluding(intent, holdRef)
	} else {
		err = e.risk.Precheck(intent)
	}
	if err != nil {
		return nil, err
	}

	entry, err := e.journal.Append(ctx, intent)
	if err != nil {
		e.countCommitError(err)
		return nil, err
	}

	if err := e.risk.Apply(entry); err != nil {
		e.logger.Error().Err(err).Uint64("sequence", entry.Sequence).Msg("risk state out of step with journal, rebuilding")
		if rerr := e.risk.Rebuild(ctx, e.journal); rerr != nil {
			return entry, fmt.Errorf("rebuild risk state: %w", rerr)
		}
	}
	if holdRef != "" {
		e.risk.Release(holdRef)
	}

	e.logger.Info().
		Uint64("sequence", entry.Sequence).
		Str("intent", string(entry.Intent)).
		Str("correlation_id", entry.CorrelationID).
		Msg("entry committed")

	return entry, nil
}

// afterCommit runs post-commit hooks and compliance, applies compensating locks
// and emits events. Nothing here can undo the committed entry.
func (e *Executor) afterCommit(ctx context.Context, entry *domain.JournalEntry, hc *domain.HookContext, result *ExecutionResult) {
	hc.Sequence = entry.Sequence
	hc.Timestamp = entry.Timestamp

	if isInternalMovement(entry.Intent) {
		e.emitEntryCommitted(ctx, entry)
		return
	}

	post := e.hooks.RunPost(ctx, hc)
	result.Rules = append(result.Rules, post.Rules...)

	review := false
	if e.compliance != nil {
		cr := e.compliance.Evaluate(ctx, hc)
		result.Decision = cr.Decision
		result.Rules = append(result.Rules, cr.RuleNames()...)
		if err := e.compliance.Record(ctx, cr, hc); err != nil {
			e.logger.Error().Err(err).Str("correlation_id", entry.CorrelationID).Msg("compliance record failed")
		}
		review = e.compliance.RequiresReview(cr.Decision)
	} else if post.Flagged() {
		result.Decision = domain.DecisionFlag
	}

	if post.Flagged() || review {
		locks, reviews := e.compensate(ctx, entry, result.Rules)
		result.Compensating = locks
		result.Reviews = reviews
	}

	e.emitEntryCommitted(ctx, entry)
	for _, lock := range result.Compensating {
		e.emitEntryCommitted(ctx, lock)
	}
	if post.Flagged() || review {
		e.emitEntryFlagged(ctx, entry, result)
	}
	for _, r := range result.Reviews {
		e.emitApprovalCreated(ctx, r)
	}
}

// compensate locks the funds credited to users by entry, capped at what is still
// available, and opens a compliance review whose approval releases them.
func (e *Executor) compensate(ctx context.Context, entry *domain.JournalEntry, rules []string) ([]*domain.JournalEntry, []*domain.PendingApproval) {
	credits := creditedUserFunds(entry.Postings)
	if len(credits) == 0 {
		e.logger.Warn().
			Uint64("sequence", entry.Sequence).
			Str("correlation_id", entry.CorrelationID).
			Msg("flagged entry credited no user funds, nothing to lock")
		return nil, nil
	}

	var locks []*domain.JournalEntry
	var reviews []*domain.PendingApproval
	for i, c := range credits {
		amount := decimal.Min(c.amount, e.risk.Available(c.account))
		if !amount.IsPositive() {
			continue
		}

		suffix := ""
		if i > 0 {
			suffix = fmt.Sprintf(":%d", i+1)
		}
		lock := domain.NewFundLock(entry.CorrelationID+lockSuffix+suffix, entry.CorrelationID, c.account.ID, c.account.Asset, amount)

		lockEntry, err := e.commit(ctx, lock, "")
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateCorrelation) {
				continue
			}
			e.logger.Error().Err(err).
				Str("correlation_id", entry.CorrelationID).
				Str("account", c.account.String()).
				Msg("compensating lock failed")
			continue
		}
		locks = append(locks, lockEntry)
		if e.metrics != nil {
			e.metrics.CompensatingLocks.Inc()
		}
		e.logger.Warn().
			Uint64("sequence", lockEntry.Sequence).
			Str("causality_id", entry.CorrelationID).
			Str("account", c.account.String()).
			Str("amount", amount.String()).
			Msg("funds locked pending review")

		if e.approvals == nil {
			continue
		}
		release := domain.NewFundRelease(entry.CorrelationID+releaseSuffix+suffix, entry.CorrelationID, c.account.ID, c.account.Asset, amount)
		review, err := e.approvals.Create(ctx, CreateApprovalInput{
			Kind:   domain.ApprovalKindComplianceReview,
			Intent: release,
			Reason: strings.Join(rules, ","),
		})
		if err != nil {
			e.logger.Error().Err(err).Str("correlation_id", entry.CorrelationID).Msg("create compliance review failed")
			continue
		}
		reviews = append(reviews, review)
	}
	return locks, reviews
}

type userCredit struct {
	account domain.AccountKey
	amount  decimal.Decimal
}

// creditedUserFunds sums credits to user AVAILABLE accounts, in first-seen order.
func creditedUserFunds(postings []domain.Posting) []userCredit {
	var out []userCredit
	idx := make(map[domain.AccountKey]int)
	for _, p := range postings {
		if p.Side != domain.SideCredit || !p.Account.IsUser() || p.Account.SubAccount != domain.SubAccountAvailable {
			continue
		}
		if i, ok := idx[p.Account]; ok {
			out[i].amount = out[i].amount.Add(p.Amount)
			continue
		}
		idx[p.Account] = len(out)
		out = append(out, userCredit{account: p.Account, amount: p.Amount})
	}
	return out
}

// Sign adds a signature to an approval. When the quorum is reached the gated
// intent is executed immediately.
func (e *Executor) Sign(ctx context.Context, approvalID, signerID, signatureHex string) (*domain.PendingApproval, *ExecutionResult, error) {
	if e.approvals == nil {
		return nil, nil, domain.ErrApprovalNotFound
	}
	approval, err := e.approvals.AddSignature(ctx, approvalID, signerID, signatureHex)
	if err != nil {
		return approval, nil, err
	}
	if approval.Status != domain.ApprovalApproved {
		return approval, nil, nil
	}

	result, err := e.Resume(ctx, approvalID)
	if err != nil {
		return approval, nil, err
	}
	return result.Approval, result, nil
}

// Resume commits the intent of an approved operation. Pre-validation hooks and
// the risk precheck run again; the approval gate does not.
func (e *Executor) Resume(ctx context.Context, approvalID string) (*ExecutionResult, error) {
	approval, err := e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != domain.ApprovalApproved {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrApprovalNotApproved, approvalID, approval.Status)
	}
	if approval.ExecutedSequence != nil {
		entry, _ := e.journal.Get(*approval.ExecutedSequence)
		return &ExecutionResult{Status: StatusCommitted, Entry: entry, Approval: approval}, nil
	}

	intent := approval.Intent
	hc := domain.NewHookContext(intent, e.clock())
	if err := e.hooks.RunPre(ctx, hc); err != nil {
		e.countOutcome(intent.Intent, "blocked")
		return nil, e.failApproval(ctx, approval.ID, err)
	}

	entry, err := e.commit(ctx, intent, approval.ID)
	if err != nil {
		e.countOutcome(intent.Intent, "failed")
		return nil, e.failApproval(ctx, approval.ID, err)
	}

	if err := e.approvals.MarkExecuted(ctx, approval.ID, entry.Sequence); err != nil {
		e.logger.Error().Err(err).Str("approval_id", approval.ID).Msg("mark approval executed failed")
	}
	seq := entry.Sequence
	approval.ExecutedSequence = &seq

	result := &ExecutionResult{Status: StatusCommitted, Entry: entry, Approval: approval}
	if approval.Kind == domain.ApprovalKindComplianceReview && e.compliance != nil {
		if err := e.compliance.RecordReview(ctx, approval, domain.ReviewOutcomeApproved); err != nil {
			e.logger.Error().Err(err).Str("approval_id", approval.ID).Msg("record review failed")
		}
	}
	e.afterCommit(ctx, entry, hc, result)
	e.emitApprovalResolved(ctx, approval)
	e.countOutcome(intent.Intent, string(StatusCommitted))

	return result, nil
}

// failApproval makes a failed execution terminal. A cancelled context leaves the
// approval open for the next Resume or Recover.
func (e *Executor) failApproval(ctx context.Context, approvalID string, cause error) error {
	e.risk.Release(approvalID)
	if ctx.Err() != nil {
		return cause
	}
	if _, err := e.approvals.MarkFailed(ctx, approvalID, cause); err != nil {
		e.logger.Error().Err(err).Str("approval_id", approvalID).Msg("mark approval failed")
	}
	return cause
}

// Reject abandons an approval. Held funds are released; funds locked for a
// compliance review stay locked.
func (e *Executor) Reject(ctx context.Context, approvalID, signerID, reason string) (*domain.PendingApproval, error) {
	if e.approvals == nil {
		return nil, domain.ErrApprovalNotFound
	}
	return e.approvals.Reject(ctx, approvalID, signerID, reason)
}

// ExpireApprovals expires every overdue approval. It is the sweeper's tick.
func (e *Executor) ExpireApprovals(ctx context.Context) (int, error) {
	if e.approvals == nil {
		return 0, nil
	}
	expired, err := e.approvals.SweepExpired(ctx)
	return len(expired), err
}

// handleAbandoned runs when an approval expires or is rejected.
func (e *Executor) handleAbandoned(ctx context.Context, approval *domain.PendingApproval) {
	e.risk.Release(approval.ID)

	if approval.Kind == domain.ApprovalKindComplianceReview && e.compliance != nil {
		outcome := domain.ReviewOutcomeExpired
		if approval.Status == domain.ApprovalRejected {
			outcome = domain.ReviewOutcomeRejected
		}
		if err := e.compliance.RecordReview(ctx, approval, outcome); err != nil {
			e.logger.Error().Err(err).Str("approval_id", approval.ID).Msg("record review failed")
		}
	}
	e.emitApprovalResolved(ctx, approval)
}

func (e *Executor) emitEntryCommitted(ctx context.Context, entry *domain.JournalEntry) {
	e.emit(ctx, domain.AggregateTypeEntry, entry.CorrelationID, domain.EventTypeEntryCommitted, domain.EntryCommittedEvent{
		Sequence:      entry.Sequence,
		Hash:          entry.Hash,
		Intent:        string(entry.Intent),
		CorrelationID: entry.CorrelationID,
		CausalityID:   entry.CausalityID,
		Postings:      entry.Postings,
		Timestamp:     entry.Timestamp.Format(time.RFC3339Nano),
	})
}

func (e *Executor) emitEntryFlagged(ctx context.Context, entry *domain.JournalEntry, result *ExecutionResult) {
	var lockSeqs []uint64
	for _, l := range result.Compensating {
		lockSeqs = append(lockSeqs, l.Sequence)
	}
	e.emit(ctx, domain.AggregateTypeEntry, entry.CorrelationID, domain.EventTypeEntryFlagged, domain.EntryFlaggedEvent{
		Sequence:      entry.Sequence,
		CorrelationID: entry.CorrelationID,
		Decision:      result.Decision.String(),
		Rules:         result.Rules,
		LockSequences: lockSeqs,
	})
}

func (e *Executor) emitApprovalCreated(ctx context.Context, approval *domain.PendingApproval) {
	e.emit(ctx, domain.AggregateTypeApproval, approval.ID, domain.EventTypeApprovalCreated, domain.ApprovalCreatedEvent{
		ApprovalID:    approval.ID,
		Kind:          string(approval.Kind),
		CorrelationID: approval.Intent.CorrelationID,
		RequiredSigs:  approval.RequiredSigs,
		ExpiresAt:     approval.ExpiresAt.Format(time.RFC3339),
	})
}

func (e *Executor) emitApprovalResolved(ctx context.Context, approval *domain.PendingApproval) {
	e.emit(ctx, domain.AggregateTypeApproval, approval.ID, domain.EventTypeApprovalResolved, domain.ApprovalResolvedEvent{
		ApprovalID:       approval.ID,
		Status:           string(approval.Status),
		ExecutedSequence: approval.ExecutedSequence,
	})
}

// emit writes an event to the outbox. Failures are logged; the ledger is the source of truth.
func (e *Executor) emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) {
	if e.outbox == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		return
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Msg("decode event payload")
		return
	}

	event := &domain.OutboxEvent{
		ID:            e.idGen.Generate(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     e.clock(),
	}
	if err := e.outbox.Create(ctx, event); err != nil {
		e.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("aggregate_id", aggregateID).
			Msg("write outbox event failed")
	}
}

func (e *Executor) countOutcome(intent domain.IntentType, outcome string) {
	if e.metrics != nil {
		e.metrics.IntentsSubmitted.WithLabelValues(string(intent), outcome).Inc()
	}
}

func (e *Executor) countCommitError(err error) {
	if e.metrics == nil {
		return
	}
	kind := "store"
	switch {
	case errors.Is(err, domain.ErrDuplicateCorrelation):
		kind = "duplicate"
	case errors.Is(err, domain.ErrUnbalancedEntry), errors.Is(err, domain.ErrInvalidIntentPosting):
		kind = "invalid"
	}
	e.metrics.CommitErrors.WithLabelValues(kind).Inc()
}

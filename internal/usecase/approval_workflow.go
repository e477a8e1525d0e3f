package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// ApprovalPolicy is the K-of-N signer configuration.
type ApprovalPolicy struct {
	Required            int
	Signers             map[string]string // signer id -> hex ed25519 public key
	TTL                 time.Duration
	WithdrawalThreshold decimal.Decimal
}

// Validate checks that the quorum can be reached.
func (p ApprovalPolicy) Validate() error {
	if len(p.Signers) == 0 {
		return fmt.Errorf("%w: no authorized signers", domain.ErrInvalidPolicy)
	}
	if p.Required < 1 || p.Required > len(p.Signers) {
		return fmt.Errorf("%w: required %d of %d signers", domain.ErrInvalidPolicy, p.Required, len(p.Signers))
	}
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", domain.ErrInvalidPolicy)
	}
	return nil
}

// RequiresApproval reports whether intent must be gated and why. Adjustments are
// always gated; withdrawals are gated when any user debit reaches the threshold.
func (p ApprovalPolicy) RequiresApproval(intent *domain.TransactionIntent) (bool, string) {
	switch intent.Intent {
	case domain.IntentAdjustment:
		return true, "adjustments require approval"
	case domain.IntentWithdrawal:
		if p.WithdrawalThreshold.IsZero() {
			return false, ""
		}
		for _, p2 := range intent.Postings {
			if p2.Side == domain.SideDebit && p2.Account.Category == domain.CategoryLiability &&
				p2.Amount.GreaterThanOrEqual(p.WithdrawalThreshold) {
				return true, fmt.Sprintf("withdrawal of %s %s reaches threshold %s", p2.Amount, p2.Asset, p.WithdrawalThreshold)
			}
		}
	}
	return false, ""
}

// SignerIDs lists authorized signers, sorted.
func (p ApprovalPolicy) SignerIDs() []string {
	ids := make([]string, 0, len(p.Signers))
	for id := range p.Signers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CreateApprovalInput describes a gated operation. Zero Required and TTL take policy defaults.
type CreateApprovalInput struct {
	Kind     domain.ApprovalKind
	Intent   *domain.TransactionIntent
	Reason   string
	Required int
	TTL      time.Duration
}

// ApprovalWorkflow drives the pending -> collecting -> approved|expired|rejected state machine.
// State lives in the repository so collection survives restarts.
type ApprovalWorkflow struct {
	mu      sync.Mutex
	repo    ApprovalRepository
	policy  ApprovalPolicy
	idGen   IDGenerator
	clock   Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	onAbandoned func(ctx context.Context, approval *domain.PendingApproval)
}

// NewApprovalWorkflow creates a workflow. The policy must be valid.
func NewApprovalWorkflow(
	repo ApprovalRepository,
	policy ApprovalPolicy,
	idGen IDGenerator,
	logger zerolog.Logger,
	m *metrics.Metrics,
) (*ApprovalWorkflow, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &ApprovalWorkflow{
		repo:    repo,
		policy:  policy,
		idGen:   idGen,
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger,
		metrics: m,
	}, nil
}

// SetClock overrides the time source.
func (w *ApprovalWorkflow) SetClock(c Clock) {
	w.clock = c
}

// OnAbandoned registers fn to run whenever an approval expires or is rejected.
// fn runs with the workflow lock held and must not call back into the workflow.
func (w *ApprovalWorkflow) OnAbandoned(fn func(ctx context.Context, approval *domain.PendingApproval)) {
	w.onAbandoned = fn
}

// Policy returns the active policy.
func (w *ApprovalWorkflow) Policy() ApprovalPolicy {
	return w.policy
}

// Create opens a pending approval for the given intent.
func (w *ApprovalWorkflow) Create(ctx context.Context, in CreateApprovalInput) (*domain.PendingApproval, error) {
	if in.Intent == nil {
		return nil, fmt.Errorf("%w: missing intent", domain.ErrInvalidPolicy)
	}
	required := in.Required
	if required == 0 {
		required = w.policy.Required
	}
	if required < 1 || required > len(w.policy.Signers) {
		return nil, fmt.Errorf("%w: required %d of %d signers", domain.ErrInvalidPolicy, required, len(w.policy.Signers))
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = w.policy.TTL
	}

	opHash, err := in.Intent.OperationHash()
	if err != nil {
		return nil, fmt.Errorf("hash operation: %w", err)
	}

	now := w.clock()
	approval := &domain.PendingApproval{
		ID:             "APPR-" + w.idGen.Generate(),
		Kind:           in.Kind,
		Intent:         in.Intent,
		OperationHash:  opHash,
		Reason:         in.Reason,
		RequiredSigs:   required,
		AuthorizedSigs: len(w.policy.Signers),
		Status:         domain.ApprovalPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		UpdatedAt:      now,
	}

	if err := w.repo.Create(ctx, approval); err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.ApprovalsCreated.WithLabelValues(string(in.Kind)).Inc()
	}
	w.logger.Info().
		Str("approval_id", approval.ID).
		Str("kind", string(approval.Kind)).
		Str("correlation_id", in.Intent.CorrelationID).
		Int("required", required).
		Time("expires_at", approval.ExpiresAt).
		Msg("approval created")

	return approval, nil
}

// Get loads an approval, expiring it first if its deadline has passed.
func (w *ApprovalWorkflow) Get(ctx context.Context, id string) (*domain.PendingApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.loadLocked(ctx, id)
}

func (w *ApprovalWorkflow) loadLocked(ctx context.Context, id string) (*domain.PendingApproval, error) {
	approval, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := w.expireIfDueLocked(ctx, approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// expireIfDueLocked transitions an open, overdue approval to Expired.
func (w *ApprovalWorkflow) expireIfDueLocked(ctx context.Context, approval *domain.PendingApproval) (bool, error) {
	if approval.Status.IsTerminal() || !approval.IsExpired(w.clock()) {
		return false, nil
	}
	approval.Status = domain.ApprovalExpired
	approval.UpdatedAt = w.clock()
	if err := w.repo.Update(ctx, approval); err != nil {
		return false, err
	}
	w.resolved(ctx, approval)
	return true, nil
}

// AddSignature verifies and records a signature over the operation hash.
// Duplicate signers are rejected with domain.ErrDuplicateSignature and leave the count unchanged.
func (w *ApprovalWorkflow) AddSignature(ctx context.Context, id, signerID, signatureHex string) (*domain.PendingApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	approval, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expired, err := w.expireIfDueLocked(ctx, approval)
	if err != nil {
		return nil, err
	}
	if expired || approval.Status == domain.ApprovalExpired {
		return approval, fmt.Errorf("%w: %s", domain.ErrApprovalExpired, id)
	}
	if approval.Status.IsTerminal() {
		return approval, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyResolved, id, approval.Status)
	}

	publicKey, ok := w.policy.Signers[signerID]
	if !ok {
		w.countSignature("unauthorized")
		return approval, fmt.Errorf("%w: %s", domain.ErrUnauthorizedSigner, signerID)
	}
	if approval.HasSigned(signerID) {
		w.countSignature("duplicate")
		return approval, fmt.Errorf("%w: %s", domain.ErrDuplicateSignature, signerID)
	}
	if err := domain.VerifyEd25519(publicKey, strings.ToLower(signatureHex), []byte(approval.OperationHash)); err != nil {
		w.countSignature("invalid")
		return approval, err
	}

	now := w.clock()
	approval.Signatures = append(approval.Signatures, domain.ApprovalSignature{
		SignerID:  signerID,
		PublicKey: publicKey,
		Signature: strings.ToLower(signatureHex),
		SignedAt:  now,
	})
	approval.Status = domain.ApprovalCollecting
	if approval.CollectedSigs() >= approval.RequiredSigs {
		approval.Status = domain.ApprovalApproved
	}
	approval.UpdatedAt = now

	if err := w.repo.Update(ctx, approval); err != nil {
		return nil, err
	}

	w.countSignature("accepted")
	w.logger.Info().
		Str("approval_id", id).
		Str("signer", signerID).
		Int("collected", approval.CollectedSigs()).
		Int("required", approval.RequiredSigs).
		Str("status", string(approval.Status)).
		Msg("approval signature recorded")
	if approval.Status == domain.ApprovalApproved {
		w.resolved(ctx, approval)
	}

	return approval, nil
}

// Reject abandons an open approval at the request of an authorized signer.
func (w *ApprovalWorkflow) Reject(ctx context.Context, id, signerID, reason string) (*domain.PendingApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	approval, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expired, err := w.expireIfDueLocked(ctx, approval)
	if err != nil {
		return nil, err
	}
	if expired || approval.Status == domain.ApprovalExpired {
		return approval, fmt.Errorf("%w: %s", domain.ErrApprovalExpired, id)
	}
	if approval.Status.IsTerminal() {
		return approval, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyResolved, id, approval.Status)
	}
	if _, ok := w.policy.Signers[signerID]; !ok {
		return approval, fmt.Errorf("%w: %s", domain.ErrUnauthorizedSigner, signerID)
	}

	approval.Status = domain.ApprovalRejected
	approval.RejectionReason = fmt.Sprintf("%s: %s", signerID, reason)
	approval.UpdatedAt = w.clock()
	if err := w.repo.Update(ctx, approval); err != nil {
		return nil, err
	}
	w.resolved(ctx, approval)

	return approval, nil
}

// MarkExecuted stores the sequence under which an approved operation was committed.
func (w *ApprovalWorkflow) MarkExecuted(ctx context.Context, id string, sequence uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	approval, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if approval.Status != domain.ApprovalApproved {
		return fmt.Errorf("%w: %s is %s", domain.ErrApprovalNotApproved, id, approval.Status)
	}
	approval.ExecutedSequence = &sequence
	approval.UpdatedAt = w.clock()
	return w.repo.Update(ctx, approval)
}

// MarkFailed closes an approved operation whose execution failed. It becomes
// Rejected so that recovery does not retry it.
func (w *ApprovalWorkflow) MarkFailed(ctx context.Context, id string, cause error) (*domain.PendingApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	approval, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if approval.Status != domain.ApprovalApproved {
		return approval, fmt.Errorf("%w: %s is %s", domain.ErrApprovalNotApproved, id, approval.Status)
	}
	if approval.ExecutedSequence != nil {
		return approval, fmt.Errorf("%w: %s already executed at sequence %d", domain.ErrAlreadyResolved, id, *approval.ExecutedSequence)
	}

	approval.Status = domain.ApprovalRejected
	approval.RejectionReason = fmt.Sprintf("%s: %v", ExecutionFailedReason, cause)
	approval.UpdatedAt = w.clock()
	if err := w.repo.Update(ctx, approval); err != nil {
		return nil, err
	}
	w.resolved(ctx, approval)

	return approval, nil
}

// ListPending returns open approvals after expiring any that are overdue.
func (w *ApprovalWorkflow) ListPending(ctx context.Context, limit, offset int) ([]*domain.PendingApproval, error) {
	if _, err := w.SweepExpired(ctx); err != nil {
		return nil, err
	}
	return w.repo.ListByStatus(ctx, []domain.ApprovalStatus{domain.ApprovalPending, domain.ApprovalCollecting}, limit, offset)
}

// List returns approvals with the given statuses.
func (w *ApprovalWorkflow) List(ctx context.Context, statuses []domain.ApprovalStatus, limit, offset int) ([]*domain.PendingApproval, error) {
	return w.repo.ListByStatus(ctx, statuses, limit, offset)
}

// SweepExpired moves every overdue open approval to Expired and returns them.
func (w *ApprovalWorkflow) SweepExpired(ctx context.Context) ([]*domain.PendingApproval, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	due, err := w.repo.ListExpired(ctx, w.clock())
	if err != nil {
		return nil, err
	}

	var expired []*domain.PendingApproval
	for _, approval := range due {
		ok, err := w.expireIfDueLocked(ctx, approval)
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, approval)
		}
	}
	return expired, nil
}

// Stats counts approvals by status.
func (w *ApprovalWorkflow) Stats(ctx context.Context) (domain.ApprovalStats, error) {
	counts, err := w.repo.CountByStatus(ctx)
	if err != nil {
		return domain.ApprovalStats{}, err
	}
	return domain.ApprovalStats{
		Pending:    counts[domain.ApprovalPending],
		Collecting: counts[domain.ApprovalCollecting],
		Approved:   counts[domain.ApprovalApproved],
		Expired:    counts[domain.ApprovalExpired],
		Rejected:   counts[domain.ApprovalRejected],
	}, nil
}

func (w *ApprovalWorkflow) resolved(ctx context.Context, approval *domain.PendingApproval) {
	if w.metrics != nil {
		w.metrics.ApprovalsResolved.WithLabelValues(string(approval.Status)).Inc()
	}
	w.logger.Info().
		Str("approval_id", approval.ID).
		Str("status", string(approval.Status)).
		Msg("approval resolved")

	if w.onAbandoned != nil && approval.Status != domain.ApprovalApproved {
		w.onAbandoned(ctx, approval)
	}
}

func (w *ApprovalWorkflow) countSignature(result string) {
	if w.metrics != nil {
		w.metrics.ApprovalSignatures.WithLabelValues(result).Inc()
	}
}

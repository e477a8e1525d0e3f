package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// ComplianceConfig holds AML thresholds.
type ComplianceConfig struct {
	LargeTxThreshold     decimal.Decimal
	CTRThreshold         decimal.Decimal
	StructuringThreshold decimal.Decimal
	StructuringTxCount   int
	NewAccountDays       int
	VelocityWindow       time.Duration
	VelocityTxThreshold  int
	ReviewExpiry         time.Duration
	FailPolicy           domain.FailPolicy
	// Decisions at or above this route the committed operation to review.
	ApprovalThreshold domain.AmlDecision
}

// DefaultComplianceConfig returns the standard thresholds.
func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		LargeTxThreshold:     decimal.NewFromInt(10000),
		CTRThreshold:         decimal.NewFromInt(10000),
		StructuringThreshold: decimal.NewFromInt(9000),
		StructuringTxCount:   3,
		NewAccountDays:       7,
		VelocityWindow:       60 * time.Minute,
		VelocityTxThreshold:  5,
		ReviewExpiry:         72 * time.Hour,
		FailPolicy:           domain.FailClosed,
		ApprovalThreshold:    domain.DecisionReview,
	}
}

// Screener checks a party against an external list.
type Screener interface {
	Screen(ctx context.Context, party string) (bool, error)
}

// ComplianceEngine evaluates AML rules and records outcomes in the compliance ledger.
type ComplianceEngine struct {
	cfg       ComplianceConfig
	velocity  *VelocityTracker
	watchlist *Watchlist
	screener  Screener
	ledger    *ComplianceLedger
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	clock     Clock
}

// NewComplianceEngine wires the engine. watchlist and screener may be nil.
func NewComplianceEngine(
	cfg ComplianceConfig,
	watchlist *Watchlist,
	screener Screener,
	ledger *ComplianceLedger,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *ComplianceEngine {
	return &ComplianceEngine{
		cfg:       cfg,
		velocity:  NewVelocityTracker(cfg.VelocityWindow, cfg.CTRThreshold),
		watchlist: watchlist,
		screener:  screener,
		ledger:    ledger,
		logger:    logger,
		metrics:   m,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (e *ComplianceEngine) SetClock(c Clock) {
	e.clock = c
}

// Config returns the active thresholds.
func (e *ComplianceEngine) Config() ComplianceConfig {
	return e.cfg
}

// Ledger exposes the compliance ledger.
func (e *ComplianceEngine) Ledger() *ComplianceLedger {
	return e.ledger
}

// RequiresReview reports whether decision meets the approval threshold.
func (e *ComplianceEngine) RequiresReview(decision domain.AmlDecision) bool {
	return decision >= e.cfg.ApprovalThreshold
}

// Evaluate runs every rule independently and joins the results. The
// transaction is recorded in the user's velocity window.
func (e *ComplianceEngine) Evaluate(ctx context.Context, hc *domain.HookContext) *domain.ComplianceResult {
	result := &domain.ComplianceResult{}
	at := hc.Timestamp
	if at.IsZero() {
		at = e.clock()
	}

	e.sanctionsRule(ctx, hc, result)

	if hc.Amount.GreaterThanOrEqual(e.cfg.LargeTxThreshold) {
		result.Add(RuleLargeTx, domain.DecisionFlag, fmt.Sprintf("amount %s >= %s", hc.Amount, e.cfg.LargeTxThreshold))
	}
	if hc.Amount.GreaterThanOrEqual(e.cfg.CTRThreshold) {
		result.Add(RuleCTRThreshold, domain.DecisionAllow, "currency transaction report required")
	}

	if hc.UserID != "" {
		stats := e.velocity.Observe(hc.UserID, hc.Amount, at)
		if stats.Count >= e.cfg.StructuringTxCount &&
			stats.Volume.GreaterThanOrEqual(e.cfg.StructuringThreshold) &&
			stats.AtOrAbove == 0 {
			result.Add(RuleStructuring, domain.DecisionReview,
				fmt.Sprintf("%d transactions totalling %s below reporting threshold", stats.Count, stats.Volume))
		}
		if stats.Count >= e.cfg.VelocityTxThreshold {
			result.Add(RuleVelocity, domain.DecisionFlag,
				fmt.Sprintf("%d transactions within %s", stats.Count, e.cfg.VelocityWindow))
		}
	}

	if hc.AccountAgeDays != nil && *hc.AccountAgeDays < e.cfg.NewAccountDays &&
		hc.Amount.GreaterThanOrEqual(e.cfg.LargeTxThreshold.Div(decimal.NewFromInt(2))) {
		result.Add(RuleNewAccountLargeTx, domain.DecisionFlag, fmt.Sprintf("account age %d days", *hc.AccountAgeDays))
	}

	if hc.IsPEP {
		result.Add(RulePEPReview, domain.DecisionReview, "politically exposed person")
	}

	if e.metrics != nil {
		e.metrics.AmlDecisions.WithLabelValues(result.Decision.String()).Inc()
	}
	return result
}

func (e *ComplianceEngine) sanctionsRule(ctx context.Context, hc *domain.HookContext, result *domain.ComplianceResult) {
	if hc.IsWatchlisted {
		result.Add(RuleSanctionsMatch, domain.DecisionBlock, "user flagged as watchlisted")
		return
	}
	for _, party := range []string{hc.UserID, hc.Destination} {
		if party == "" {
			continue
		}
		if e.watchlist != nil && e.watchlist.Contains(party) {
			result.Add(RuleSanctionsMatch, domain.DecisionBlock, "party "+party+" on watchlist")
			return
		}
		if e.screener == nil {
			continue
		}
		hit, err := e.screener.Screen(ctx, party)
		if err != nil {
			e.externalFailure(err, result)
			return
		}
		if hit {
			result.Add(RuleSanctionsMatch, domain.DecisionBlock, "party "+party+" matched external watchlist")
			return
		}
	}
}

// externalFailure applies the configured fail policy. Timeouts get their own rule.
func (e *ComplianceEngine) externalFailure(err error, result *domain.ComplianceResult) {
	kind := "unavailable"
	rule := RuleExternalUnavailable
	if errors.Is(err, domain.ErrExternalServiceTimeout) {
		kind = "timeout"
		rule = RuleExternalTimeout
	}
	if e.metrics != nil {
		e.metrics.ExternalCheckFails.WithLabelValues("watchlist", kind).Inc()
	}

	if e.cfg.FailPolicy == domain.FailOpen {
		e.logger.Warn().Err(err).Str("kind", kind).Msg("external screening failed, allowing under fail-open policy")
		result.Add(rule, domain.DecisionAllow, err.Error())
		return
	}
	e.logger.Error().Err(err).Str("kind", kind).Msg("external screening failed, blocking under fail-closed policy")
	result.Add(rule, domain.DecisionBlock, err.Error())
}

// Record writes the CheckPerformed record and, for flagged outcomes, a
// TransactionFlagged record carrying the review deadline.
func (e *ComplianceEngine) Record(ctx context.Context, result *domain.ComplianceResult, hc *domain.HookContext) error {
	_, err := e.ledger.Append(ctx, &domain.ComplianceRecord{
		EventType:     domain.ComplianceCheckPerformed,
		CorrelationID: hc.CorrelationID,
		UserID:        hc.UserID,
		Decision:      result.Decision,
		Rules:         result.RuleNames(),
		Payload: map[string]string{
			"intent":   string(hc.Intent),
			"amount":   hc.Amount.String(),
			"asset":    hc.Asset,
			"sequence": fmt.Sprint(hc.Sequence),
		},
	})
	if err != nil {
		return err
	}

	if result.Decision < domain.DecisionFlag {
		return nil
	}

	_, err = e.ledger.Append(ctx, &domain.ComplianceRecord{
		EventType:     domain.ComplianceTransactionFlagged,
		CorrelationID: hc.CorrelationID,
		UserID:        hc.UserID,
		Decision:      result.Decision,
		Rules:         result.RuleNames(),
		Payload: map[string]string{
			"expires_at": e.clock().Add(e.cfg.ReviewExpiry).Format(time.RFC3339),
		},
	})
	return err
}

// RecordReview closes a compliance review with approved, rejected or expired.
func (e *ComplianceEngine) RecordReview(ctx context.Context, approval *domain.PendingApproval, outcome string) error {
	correlationID := ""
	if approval.Intent != nil {
		correlationID = approval.Intent.CausalityID
	}
	decision := domain.DecisionAllow
	if outcome != domain.ReviewOutcomeApproved {
		decision = domain.DecisionBlock
	}

	signers := make([]string, 0, len(approval.Signatures))
	for _, s := range approval.Signatures {
		signers = append(signers, s.SignerID)
	}

	_, err := e.ledger.Append(ctx, &domain.ComplianceRecord{
		EventType:     domain.ComplianceReviewCompleted,
		CorrelationID: correlationID,
		Decision:      decision,
		Payload: map[string]string{
			"approval_id": approval.ID,
			"outcome":     outcome,
			"reason":      approval.RejectionReason,
			"signers":     strings.Join(signers, ","),
		},
	})
	return err
}

// RecordWatchlistChange logs an addition or removal on the local watchlist.
func (e *ComplianceEngine) RecordWatchlistChange(ctx context.Context, party string, added bool) error {
	action := "removed"
	if added {
		action = "added"
	}
	_, err := e.ledger.Append(ctx, &domain.ComplianceRecord{
		EventType: domain.ComplianceWatchlistUpdated,
		Payload:   map[string]string{"party": normalizeParty(party), "action": action},
	})
	return err
}

// RecordRuleSet logs the active thresholds, typically once at startup.
func (e *ComplianceEngine) RecordRuleSet(ctx context.Context) error {
	_, err := e.ledger.Append(ctx, &domain.ComplianceRecord{
		EventType: domain.ComplianceRuleSetChanged,
		Payload: map[string]string{
			"large_tx":              e.cfg.LargeTxThreshold.String(),
			"ctr":                   e.cfg.CTRThreshold.String(),
			"structuring_threshold": e.cfg.StructuringThreshold.String(),
			"structuring_tx_count":  fmt.Sprint(e.cfg.StructuringTxCount),
			"new_account_days":      fmt.Sprint(e.cfg.NewAccountDays),
			"velocity_window":       e.cfg.VelocityWindow.String(),
			"velocity_tx_threshold": fmt.Sprint(e.cfg.VelocityTxThreshold),
			"fail_policy":           string(e.cfg.FailPolicy),
			"approval_threshold":    e.cfg.ApprovalThreshold.String(),
		},
	})
	return err
}

// Warm replays recent user-side entries into the velocity windows so a restart
// does not reset them. Entries older than the window are skipped.
func (e *ComplianceEngine) Warm(entries []*domain.JournalEntry) {
	cutoff := e.clock().Add(-e.cfg.VelocityWindow)
	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) || isInternalMovement(entry.Intent) {
			continue
		}
		intent := &domain.TransactionIntent{
			Intent:        entry.Intent,
			CorrelationID: entry.CorrelationID,
			Postings:      entry.Postings,
			Metadata:      entry.Metadata,
		}
		hc := domain.NewHookContext(intent, entry.Timestamp)
		if hc.UserID != "" {
			e.velocity.Observe(hc.UserID, hc.Amount, entry.Timestamp)
		}
	}
}

// isInternalMovement reports intents that only shuffle funds between a user's
// own sub-accounts and are not evaluated after commit.
func isInternalMovement(t domain.IntentType) bool {
	return t == domain.IntentFundLock || t == domain.IntentFundRelease || t == domain.IntentGenesis ||
		t == domain.IntentInterest
}

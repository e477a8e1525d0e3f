package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// PreDecision is the verdict of a pre-validation hook.
type PreDecision struct {
	Blocked bool
	Reason  string
	Code    string
}

// Allow lets the intent continue.
func Allow() PreDecision { return PreDecision{} }

// Block stops the intent before any ledger write.
func Block(reason, code string) PreDecision {
	return PreDecision{Blocked: true, Reason: reason, Code: code}
}

// Severity grades a post-commit flag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PostDecision is the verdict of a post-commit hook.
type PostDecision struct {
	Flagged  bool
	Reason   string
	Severity Severity
}

// Pass records nothing.
func Pass() PostDecision { return PostDecision{} }

// Flag marks a committed entry for compensating action.
func Flag(reason string, severity Severity) PostDecision {
	return PostDecision{Flagged: true, Reason: reason, Severity: severity}
}

// PreValidationHook may block an intent before it reaches the journal.
type PreValidationHook interface {
	Name() string
	Priority() int
	Check(ctx context.Context, hc *domain.HookContext) (PreDecision, error)
}

// PostCommitHook inspects a committed entry and may flag it. It must be
// idempotent: the same context can be delivered more than once.
type PostCommitHook interface {
	Name() string
	Priority() int
	Check(ctx context.Context, hc *domain.HookContext) (PostDecision, error)
}

// HookFlag is a flag raised by one post-commit hook.
type HookFlag struct {
	Hook     string   `json:"hook"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// PostCommitResult collects all post-commit hook outcomes.
type PostCommitResult struct {
	Flags []HookFlag `json:"flags,omitempty"`
	Rules []string   `json:"rules,omitempty"`
}

// Flagged reports whether any hook flagged the entry.
func (r PostCommitResult) Flagged() bool { return len(r.Flags) > 0 }

// HookRegistry holds the ordered pre-validation and post-commit hooks.
type HookRegistry struct {
	mu         sync.RWMutex
	pre        []PreValidationHook
	post       []PostCommitHook
	failPolicy domain.FailPolicy
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewHookRegistry creates an empty registry. failPolicy decides how pre-hook errors resolve.
func NewHookRegistry(failPolicy domain.FailPolicy, logger zerolog.Logger, m *metrics.Metrics) *HookRegistry {
	return &HookRegistry{failPolicy: failPolicy, logger: logger, metrics: m}
}

// RegisterPre adds a pre-validation hook. Lower priority runs first; ties keep registration order.
func (r *HookRegistry) RegisterPre(h PreValidationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pre = append(r.pre, h)
	sort.SliceStable(r.pre, func(i, j int) bool { return r.pre[i].Priority() < r.pre[j].Priority() })
}

// RegisterPost adds a post-commit hook.
func (r *HookRegistry) RegisterPost(h PostCommitHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.post = append(r.post, h)
	sort.SliceStable(r.post, func(i, j int) bool { return r.post[i].Priority() < r.post[j].Priority() })
}

// PreHookNames lists pre-validation hooks in execution order.
func (r *HookRegistry) PreHookNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.pre))
	for i, h := range r.pre {
		names[i] = h.Name()
	}
	return names
}

// PostHookNames lists post-commit hooks in execution order.
func (r *HookRegistry) PostHookNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.post))
	for i, h := range r.post {
		names[i] = h.Name()
	}
	return names
}

// RunPre executes pre-validation hooks in order. The first block short-circuits
// and is returned as a *domain.HookRejectedError.
func (r *HookRegistry) RunPre(ctx context.Context, hc *domain.HookContext) error {
	r.mu.RLock()
	hooks := append([]PreValidationHook(nil), r.pre...)
	r.mu.RUnlock()

	for _, h := range hooks {
		decision, err := h.Check(ctx, hc)
		if err != nil {
			if r.failPolicy == domain.FailOpen {
				r.logger.Warn().Err(err).
					Str("hook", h.Name()).
					Str("correlation_id", hc.CorrelationID).
					Msg("pre-validation hook failed, continuing under fail-open policy")
				continue
			}
			decision = Block(err.Error(), CodeHookFailure)
		}

		if decision.Blocked {
			if r.metrics != nil {
				r.metrics.HookBlocks.WithLabelValues(h.Name(), decision.Code).Inc()
			}
			r.logger.Info().
				Str("hook", h.Name()).
				Str("code", decision.Code).
				Str("correlation_id", hc.CorrelationID).
				Msg("intent blocked by pre-validation hook")
			return &domain.HookRejectedError{Hook: h.Name(), Reason: decision.Reason, Code: decision.Code}
		}
	}

	return nil
}

// RunPost executes every post-commit hook. Errors never roll back the entry;
// they are recorded as HOOK_ERROR rules.
func (r *HookRegistry) RunPost(ctx context.Context, hc *domain.HookContext) PostCommitResult {
	r.mu.RLock()
	hooks := append([]PostCommitHook(nil), r.post...)
	r.mu.RUnlock()

	var result PostCommitResult
	for _, h := range hooks {
		decision, err := h.Check(ctx, hc)
		if err != nil {
			r.logger.Error().Err(err).
				Str("hook", h.Name()).
				Uint64("sequence", hc.Sequence).
				Msg("post-commit hook failed")
			result.Rules = append(result.Rules, RuleHookErrorPrefix+h.Name())
			continue
		}
		if !decision.Flagged {
			continue
		}
		if r.metrics != nil {
			r.metrics.HookFlags.WithLabelValues(h.Name(), string(decision.Severity)).Inc()
		}
		result.Flags = append(result.Flags, HookFlag{Hook: h.Name(), Reason: decision.Reason, Severity: decision.Severity})
		result.Rules = append(result.Rules, h.Name())
	}

	return result
}

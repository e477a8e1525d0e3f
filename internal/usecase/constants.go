package usecase

import "time"

const (
	// DefaultCommitTimeout bounds a single pass through the writer gate.
	DefaultCommitTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// DefaultHookPriority orders hooks that do not declare one.
	DefaultHookPriority = 100

	// DefaultSweepInterval is how often overdue approvals are expired.
	DefaultSweepInterval = time.Minute

	// ExecutionFailedReason prefixes the rejection reason of an approved
	// operation that could not be committed.
	ExecutionFailedReason = "execution failed"

	lockSuffix    = ":lock"
	releaseSuffix = ":release"
)

// Hook failure codes and rule names.
const (
	CodeHookFailure        = "HOOK_FAILURE"
	CodeSanctionsBlocked   = "SANCTIONS_BLOCKED"
	CodeWatchlistBlocked   = "WATCHLIST_BLOCKED"
	CodePEPThreshold       = "PEP_THRESHOLD_EXCEEDED"
	CodeExternalScreenFail = "EXTERNAL_SCREENING_FAILED"

	RuleHookErrorPrefix     = "HOOK_ERROR:"
	RuleSanctionsMatch      = "SANCTIONS_MATCH"
	RuleLargeTx             = "LARGE_TX_ALERT"
	RuleCTRThreshold        = "CTR_THRESHOLD"
	RuleStructuring         = "STRUCTURING_DETECTION"
	RuleVelocity            = "VELOCITY_ALERT"
	RuleNewAccountLargeTx   = "NEW_ACCOUNT_LARGE_TX"
	RulePEPReview           = "PEP_REVIEW"
	RuleExternalUnavailable = "EXTERNAL_UNAVAILABLE"
	RuleExternalTimeout     = "EXTERNAL_SERVICE_TIMEOUT"
)

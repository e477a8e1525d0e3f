package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Account key errors
	ErrInvalidAccountFormat = errors.New("invalid account format")
	ErrUnknownCategory      = fmt.Errorf("%w: unknown account category", ErrInvalidAccountFormat)

	// Intent validation errors
	ErrInsufficientPostings = errors.New("entry requires at least two postings")
	ErrUnbalancedEntry      = errors.New("entry is unbalanced")
	ErrEmptyCorrelationID   = errors.New("correlation id must not be empty")
	ErrNegativeAmount       = errors.New("posting amount must not be negative")
	ErrAssetMismatch        = errors.New("posting asset does not match account asset")
	ErrInvalidIntentPosting = errors.New("postings not allowed for intent")
	ErrUnknownIntent        = errors.New("unknown intent type")
	ErrDuplicateCorrelation = errors.New("correlation id already committed")

	// Chain integrity errors
	ErrInvalidGenesisSequence = errors.New("genesis entry must have sequence 1")
	ErrInvalidGenesisPrevHash = errors.New("genesis entry must reference GENESIS")
	ErrBrokenHashChain        = errors.New("broken hash chain")
	ErrInvalidSequence        = errors.New("invalid sequence")
	ErrInvalidSignature       = errors.New("invalid signature")

	// Storage errors
	ErrStoreFailed = errors.New("store failed and refuses further writes")

	// Risk errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyApplied      = errors.New("entry already applied")
	ErrExceedsMaxLeverage  = errors.New("borrow exceeds max leverage")
	ErrNotLiquidatable     = errors.New("position is not liquidatable")

	// Hook errors
	ErrHookRejected = errors.New("rejected by pre-validation hook")

	// External service errors
	ErrExternalServiceTimeout     = errors.New("external service timeout")
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	// Approval errors
	ErrApprovalNotFound    = errors.New("approval not found")
	ErrAlreadyResolved     = errors.New("approval already resolved")
	ErrApprovalExpired     = errors.New("approval expired")
	ErrUnauthorizedSigner  = errors.New("signer is not authorized")
	ErrDuplicateSignature  = errors.New("signer has already signed")
	ErrApprovalNotApproved = errors.New("approval has not reached quorum")
	ErrInvalidPolicy       = errors.New("invalid approval policy")

	// Cache errors
	ErrCacheMiss = errors.New("cache miss")
)

// UnbalancedEntryError reports the per-asset imbalance (debits minus credits).
type UnbalancedEntryError struct {
	Asset     string
	Imbalance decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("entry unbalanced for asset %s: imbalance %s", e.Asset, e.Imbalance)
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalancedEntry }

// ChainError reports the first integrity violation found while walking a chain.
type ChainError struct {
	Kind     error
	Sequence uint64
	Expected string
	Actual   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%v at sequence %d: expected %s, got %s", e.Kind, e.Sequence, e.Expected, e.Actual)
}

func (e *ChainError) Unwrap() error { return e.Kind }

// InsufficientBalanceError carries the amounts behind a risk rejection.
type InsufficientBalanceError struct {
	Account   AccountKey
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: available %s, required %s", e.Account, e.Available, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// HookRejectedError is a structured denial from a pre-validation hook.
type HookRejectedError struct {
	Hook   string
	Reason string
	Code   string
}

func (e *HookRejectedError) Error() string {
	return fmt.Sprintf("rejected by %s [%s]: %s", e.Hook, e.Code, e.Reason)
}

func (e *HookRejectedError) Unwrap() error { return ErrHookRejected }

// ExternalServiceError wraps a failed call to a remote dependency.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// IntentType classifies what a transaction does and selects its posting rules.
type IntentType string

const (
	IntentGenesis     IntentType = "Genesis"
	IntentDeposit     IntentType = "Deposit"
	IntentWithdrawal  IntentType = "Withdrawal"
	IntentTransfer    IntentType = "Transfer"
	IntentTrade       IntentType = "Trade"
	IntentFee         IntentType = "Fee"
	IntentAdjustment  IntentType = "Adjustment"
	IntentFundLock    IntentType = "FundLock"
	IntentFundRelease IntentType = "FundRelease"
	IntentBorrow      IntentType = "Borrow"
	IntentRepay       IntentType = "Repay"
	IntentInterest    IntentType = "Interest"
	IntentLiquidation IntentType = "Liquidation"
)

// ParseIntentType parses an intent name, case-insensitively.
func ParseIntentType(s string) (IntentType, error) {
	for _, t := range []IntentType{
		IntentGenesis, IntentDeposit, IntentWithdrawal, IntentTransfer, IntentTrade,
		IntentFee, IntentAdjustment, IntentFundLock, IntentFundRelease,
		IntentBorrow, IntentRepay, IntentInterest, IntentLiquidation,
	} {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, s)
}

// TransactionIntent is a candidate set of postings submitted for commit.
type TransactionIntent struct {
	Intent        IntentType        `json:"intent"`
	CorrelationID string            `json:"correlation_id"`
	CausalityID   string            `json:"causality_id,omitempty"`
	Postings      []Posting         `json:"postings"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Validate enforces the structural and double-entry rules of an intent.
func (i *TransactionIntent) Validate() error {
	if strings.TrimSpace(i.CorrelationID) == "" {
		return ErrEmptyCorrelationID
	}
	if err := ValidateCorrelationID(i.CorrelationID); err != nil {
		return err
	}
	if len(i.Postings) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientPostings, len(i.Postings))
	}
	for _, p := range i.Postings {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if err := CheckBalanced(i.Postings); err != nil {
		return err
	}
	if err := ValidateMetadata(i.Metadata); err != nil {
		return err
	}
	return validateIntentPostings(i.Intent, i.Postings)
}

// CheckBalanced verifies that debits equal credits for every asset.
// Assets are checked in sorted order so the reported asset is deterministic.
func CheckBalanced(postings []Posting) error {
	imbalance := make(map[string]decimal.Decimal)
	for _, p := range postings {
		asset := strings.ToUpper(p.Asset)
		switch p.Side {
		case SideDebit:
			imbalance[asset] = imbalance[asset].Add(p.Amount)
		case SideCredit:
			imbalance[asset] = imbalance[asset].Sub(p.Amount)
		}
	}

	for _, asset := range sortedKeys(imbalance) {
		if !imbalance[asset].IsZero() {
			return &UnbalancedEntryError{Asset: asset, Imbalance: imbalance[asset]}
		}
	}
	return nil
}

// Assets returns the distinct assets referenced by the intent, sorted.
func (i *TransactionIntent) Assets() []string {
	seen := make(map[string]decimal.Decimal)
	for _, p := range i.Postings {
		seen[strings.ToUpper(p.Asset)] = decimal.Zero
	}
	return sortedKeys(seen)
}

// OperationHash is the SHA-256 of the canonical JSON encoding of the intent.
// Approval signers sign these bytes.
func (i *TransactionIntent) OperationHash() (string, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intentPostingError(intent IntentType, account, reason string) error {
	if account == "" {
		return fmt.Errorf("%w: %s: %s", ErrInvalidIntentPosting, intent, reason)
	}
	return fmt.Errorf("%w: %s: %s: %s", ErrInvalidIntentPosting, intent, account, reason)
}

func hasPosting(postings []Posting, category AccountCategory, side Side) bool {
	for _, p := range postings {
		if p.Account.Category == category && p.Side == side {
			return true
		}
	}
	return false
}

func validateIntentPostings(intent IntentType, postings []Posting) error {
	switch intent {
	case IntentGenesis:
		for _, p := range postings {
			if p.Account.Category != CategoryAsset && p.Account.Category != CategoryEquity {
				return intentPostingError(intent, p.Account.String(), "only ASSET and EQUITY accounts allowed")
			}
		}
	case IntentDeposit:
		if !hasPosting(postings, CategoryAsset, SideDebit) || !hasPosting(postings, CategoryLiability, SideCredit) {
			return intentPostingError(intent, "", "requires ASSET debit and LIAB credit")
		}
	case IntentWithdrawal:
		if !hasPosting(postings, CategoryAsset, SideCredit) || !hasPosting(postings, CategoryLiability, SideDebit) {
			return intentPostingError(intent, "", "requires ASSET credit and LIAB debit")
		}
	case IntentTransfer:
		for _, p := range postings {
			if p.Account.Category != CategoryLiability {
				return intentPostingError(intent, p.Account.String(), "only LIAB accounts allowed")
			}
		}
	case IntentTrade:
		if len(postings) < 4 {
			return intentPostingError(intent, "", "requires at least 4 postings")
		}
		assets := make(map[string]struct{})
		for _, p := range postings {
			if p.Account.Category != CategoryLiability {
				return intentPostingError(intent, p.Account.String(), "only LIAB accounts allowed")
			}
			assets[strings.ToUpper(p.Asset)] = struct{}{}
		}
		if len(assets) != 2 {
			return intentPostingError(intent, "", "requires exactly 2 assets")
		}
	case IntentFee:
		for _, p := range postings {
			liabDebit := p.Account.Category == CategoryLiability && p.Side == SideDebit
			revCredit := p.Account.Category == CategoryRevenue && p.Side == SideCredit
			if !liabDebit && !revCredit {
				return intentPostingError(intent, p.Account.String(), "only LIAB debits and REV credits allowed")
			}
		}
	case IntentAdjustment:
	case IntentFundLock:
		return validateLockMovement(intent, postings, SubAccountAvailable, SubAccountLocked)
	case IntentFundRelease:
		return validateLockMovement(intent, postings, SubAccountLocked, SubAccountAvailable)
	case IntentBorrow:
		if !hasLoanPosting(postings, SideDebit) || !hasAvailablePosting(postings, SideCredit) {
			return intentPostingError(intent, "", "requires ASSET LOAN debit and LIAB AVAILABLE credit")
		}
		for _, p := range postings {
			if !p.Account.IsUserLoan() && !(p.Account.IsUser() && p.Account.SubAccount == SubAccountAvailable) {
				return intentPostingError(intent, p.Account.String(), "only ASSET LOAN and LIAB AVAILABLE accounts allowed")
			}
		}
	case IntentRepay:
		if !hasAvailablePosting(postings, SideDebit) || !hasLoanPosting(postings, SideCredit) {
			return intentPostingError(intent, "", "requires LIAB AVAILABLE debit and ASSET LOAN credit")
		}
	case IntentInterest:
		if !hasLoanPosting(postings, SideDebit) || !hasPosting(postings, CategoryRevenue, SideCredit) {
			return intentPostingError(intent, "", "requires ASSET LOAN debit and REV credit")
		}
	case IntentLiquidation:
		if len(postings) < 4 {
			return intentPostingError(intent, "", "requires at least 4 postings")
		}
		if !hasLoanPosting(postings, SideCredit) {
			return intentPostingError(intent, "", "requires ASSET LOAN credit")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
	return nil
}

func hasLoanPosting(postings []Posting, side Side) bool {
	for _, p := range postings {
		if p.Account.IsUserLoan() && p.Side == side {
			return true
		}
	}
	return false
}

func hasAvailablePosting(postings []Posting, side Side) bool {
	for _, p := range postings {
		if p.Account.Category == CategoryLiability && p.Account.SubAccount == SubAccountAvailable && p.Side == side {
			return true
		}
	}
	return false
}

// validateLockMovement requires every posting to be a user LIAB account, debiting
// the from sub-account and crediting the to sub-account.
func validateLockMovement(intent IntentType, postings []Posting, from, to string) error {
	for _, p := range postings {
		if !p.Account.IsUser() {
			return intentPostingError(intent, p.Account.String(), "only user LIAB accounts allowed")
		}
		switch {
		case p.Side == SideDebit && p.Account.SubAccount == from:
		case p.Side == SideCredit && p.Account.SubAccount == to:
		default:
			return intentPostingError(intent, p.Account.String(), fmt.Sprintf("must move funds from %s to %s", from, to))
		}
	}
	return nil
}

// NewDeposit credits a user's available balance against the system vault.
func NewDeposit(correlationID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentDeposit,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(SystemVault(asset), amount),
			Credit(UserAvailable(userID, asset), amount),
		},
	}
}

// NewWithdrawal debits a user's available balance and releases vault custody.
func NewWithdrawal(correlationID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentWithdrawal,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserAvailable(userID, asset), amount),
			Credit(SystemVault(asset), amount),
		},
	}
}

// NewTransfer moves available funds between two users.
func NewTransfer(correlationID, fromUser, toUser, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentTransfer,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserAvailable(fromUser, asset), amount),
			Credit(UserAvailable(toUser, asset), amount),
		},
	}
}

// NewFundLock freezes part of a user's available balance.
func NewFundLock(correlationID, causalityID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentFundLock,
		CorrelationID: correlationID,
		CausalityID:   causalityID,
		Postings: []Posting{
			Debit(UserAvailable(userID, asset), amount),
			Credit(UserLocked(userID, asset), amount),
		},
	}
}

// NewFundRelease returns locked funds to a user's available balance.
func NewFundRelease(correlationID, causalityID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentFundRelease,
		CorrelationID: correlationID,
		CausalityID:   causalityID,
		Postings: []Posting{
			Debit(UserLocked(userID, asset), amount),
			Credit(UserAvailable(userID, asset), amount),
		},
	}
}

// NewGenesis capitalises the system vault for an asset.
func NewGenesis(correlationID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentGenesis,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(SystemVault(asset), amount),
			Credit(SystemEquity(asset), amount),
		},
	}
}

package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of a posting.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// ParseSide accepts "debit"/"credit" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(s)) {
	case SideDebit:
		return SideDebit, nil
	case SideCredit:
		return SideCredit, nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// Posting is a single debit or credit against one account.
type Posting struct {
	Account AccountKey      `json:"account"`
	Asset   string          `json:"asset"`
	Side    Side            `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
}

// Debit builds a debit posting; the asset is taken from the account key.
func Debit(account AccountKey, amount decimal.Decimal) Posting {
	return Posting{Account: account, Asset: account.Asset, Side: SideDebit, Amount: amount}
}

// Credit builds a credit posting; the asset is taken from the account key.
func Credit(account AccountKey, amount decimal.Decimal) Posting {
	return Posting{Account: account, Asset: account.Asset, Side: SideCredit, Amount: amount}
}

// Validate checks a single posting in isolation.
func (p Posting) Validate() error {
	if p.Account.IsZero() {
		return fmt.Errorf("%w: missing account", ErrInvalidAccountFormat)
	}
	if p.Side != SideDebit && p.Side != SideCredit {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidAccountFormat, p.Side)
	}
	if p.Amount.IsNegative() {
		return fmt.Errorf("%w: %s on %s", ErrNegativeAmount, p.Amount, p.Account)
	}
	if !strings.EqualFold(p.Asset, p.Account.Asset) {
		return fmt.Errorf("%w: %s on %s", ErrAssetMismatch, p.Asset, p.Account)
	}
	return nil
}

// Delta is the signed change the posting makes to its account balance.
func (p Posting) Delta() decimal.Decimal {
	if p.Side == p.Account.Category.NormalSide() {
		return p.Amount
	}
	return p.Amount.Neg()
}

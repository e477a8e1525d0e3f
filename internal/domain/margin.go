package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Margin parameters. A user may borrow while available/(loan+borrow) stays at or
// above InitialMargin. A position whose available/loan ratio falls below
// LiquidationThreshold can be liquidated.
var (
	InitialMargin        = decimal.RequireFromString("0.10")
	LiquidationThreshold = decimal.NewFromInt(1)

	// NoLoanMarginRatio stands in for an unbounded ratio when nothing is borrowed.
	NoLoanMarginRatio = decimal.NewFromInt(100)

	DefaultDailyInterestRate = decimal.RequireFromString("0.0005")
	LiquidationPenaltyRate   = decimal.RequireFromString("0.05")
	LiquidationMaxRatio      = decimal.RequireFromString("0.50")
	LiquidatorBonusRate      = decimal.RequireFromString("0.01")
)

// MarginError reports a borrow that would breach the initial margin.
type MarginError struct {
	Account    AccountKey
	Requested  decimal.Decimal
	MaxAllowed decimal.Decimal
	Ratio      decimal.Decimal
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("borrow of %s on %s exceeds max leverage: max allowed %s, margin ratio %s",
		e.Requested, e.Account, e.MaxAllowed, e.Ratio.StringFixed(4))
}

func (e *MarginError) Unwrap() error { return ErrExceedsMaxLeverage }

// MarginRatio is available/loan, or NoLoanMarginRatio when loan is not positive.
func MarginRatio(available, loan decimal.Decimal) decimal.Decimal {
	if !loan.IsPositive() {
		return NoLoanMarginRatio
	}
	return available.Div(loan)
}

// NewBorrow lends amount to a user: the loan receivable and the user's available
// balance grow together.
func NewBorrow(correlationID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentBorrow,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserLoan(userID, asset), amount),
			Credit(UserAvailable(userID, asset), amount),
		},
	}
}

// NewRepay pays a loan down from the user's available balance.
func NewRepay(correlationID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentRepay,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserAvailable(userID, asset), amount),
			Credit(UserLoan(userID, asset), amount),
		},
	}
}

// NewInterest compounds accrued interest into the loan principal.
func NewInterest(correlationID, userID, asset string, amount decimal.Decimal) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentInterest,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserLoan(userID, asset), amount),
			Credit(InterestRevenue(asset), amount),
		},
		Metadata: map[string]string{MetaUserID: userID},
	}
}

// LiquidationTerms splits a forced close of a loan position.
// Seized = Repaid + InsuranceShare + LiquidatorBonus.
type LiquidationTerms struct {
	Repaid          decimal.Decimal
	Seized          decimal.Decimal
	InsuranceShare  decimal.Decimal
	LiquidatorBonus decimal.Decimal
}

// ComputeLiquidation repays at most LiquidationMaxRatio of loan and seizes the
// repaid amount plus the penalty from available, scaled down when available is short.
// ok is false when the position is healthy or nothing can be seized.
func ComputeLiquidation(available, loan decimal.Decimal) (LiquidationTerms, bool) {
	if !loan.IsPositive() || !available.IsPositive() {
		return LiquidationTerms{}, false
	}
	if !MarginRatio(available, loan).LessThan(LiquidationThreshold) {
		return LiquidationTerms{}, false
	}

	repaid := loan.Mul(LiquidationMaxRatio)
	penalty := repaid.Mul(LiquidationPenaltyRate)
	if seized := repaid.Add(penalty); seized.GreaterThan(available) {
		repaid = available.Div(decimal.NewFromInt(1).Add(LiquidationPenaltyRate)).Truncate(8)
		penalty = available.Sub(repaid)
	}
	bonus := penalty.Mul(LiquidatorBonusRate).Div(LiquidationPenaltyRate).Truncate(8)

	return LiquidationTerms{
		Repaid:          repaid,
		Seized:          repaid.Add(penalty),
		InsuranceShare:  penalty.Sub(bonus),
		LiquidatorBonus: bonus,
	}, true
}

// NewLiquidation seizes collateral from a user to settle part of their loan. The
// liquidator earns a share of the penalty; the rest goes to the insurance fund.
func NewLiquidation(correlationID, userID, liquidatorID, asset string, terms LiquidationTerms) *TransactionIntent {
	return &TransactionIntent{
		Intent:        IntentLiquidation,
		CorrelationID: correlationID,
		Postings: []Posting{
			Debit(UserAvailable(userID, asset), terms.Seized),
			Credit(UserLoan(userID, asset), terms.Repaid),
			Credit(InsuranceFund(asset), terms.InsuranceShare),
			Credit(UserAvailable(liquidatorID, asset), terms.LiquidatorBonus),
		},
		Metadata: map[string]string{
			MetaUserID:    userID,
			"liquidator":  liquidatorID,
			"loan_repaid": terms.Repaid.String(),
			"seized":      terms.Seized.String(),
		},
	}
}

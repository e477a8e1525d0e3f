package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

func TestRiskEngine_BorrowInitialMargin(t *testing.T) {
	j := seededJournal(t,
		domain.NewGenesis("g-1", "USDT", d(1000)),
		domain.NewDeposit("dep-1", "alice", "USDT", d(100)),
	)
	risk := usecase.NewRiskEngine(nil)
	require.NoError(t, risk.Rebuild(context.Background(), j))

	require.NoError(t, risk.Precheck(domain.NewBorrow("b-1", "alice", "USDT", d(1000))), "ratio exactly at initial margin")

	err := risk.Precheck(domain.NewBorrow("b-2", "alice", "USDT", d(1001)))
	require.ErrorIs(t, err, domain.ErrExceedsMaxLeverage)
	var marginErr *domain.MarginError
	require.True(t, errors.As(err, &marginErr))
	assert.True(t, marginErr.MaxAllowed.Equal(d(1000)))

	// With 500 already borrowed, available is 600.
	entry, err := j.Append(context.Background(), domain.NewBorrow("b-3", "alice", "USDT", d(500)))
	require.NoError(t, err)
	require.NoError(t, risk.Apply(entry))

	require.NoError(t, risk.Precheck(domain.NewBorrow("b-4", "alice", "USDT", d(5500))))
	err = risk.Precheck(domain.NewBorrow("b-5", "alice", "USDT", d(5501)))
	require.True(t, errors.As(err, &marginErr))
	assert.True(t, marginErr.MaxAllowed.Equal(d(5500)))

	assert.NoError(t, risk.Precheck(domain.NewRepay("r-1", "alice", "USDT", d(500))))
}

func TestRiskEngine_LoanPositions(t *testing.T) {
	j := seededJournal(t,
		domain.NewGenesis("g-1", "USDT", d(1000)),
		domain.NewDeposit("dep-1", "alice", "USDT", d(100)),
		domain.NewDeposit("dep-2", "bob", "USDT", d(100)),
		domain.NewBorrow("b-1", "alice", "USDT", d(400)),
	)
	risk := usecase.NewRiskEngine(nil)
	require.NoError(t, risk.Rebuild(context.Background(), j))

	assert.True(t, risk.MarginRatio("alice", "USDT").Equal(decimal.RequireFromString("1.25")))
	assert.False(t, risk.IsLiquidatable("alice", "USDT"))

	entry, err := j.Append(context.Background(), domain.NewWithdrawal("w-1", "alice", "USDT", d(200)))
	require.NoError(t, err)
	require.NoError(t, risk.Apply(entry))

	assert.True(t, risk.MarginRatio("alice", "USDT").Equal(decimal.RequireFromString("0.75")))
	assert.True(t, risk.IsLiquidatable("alice", "USDT"))

	assert.True(t, risk.MarginRatio("bob", "USDT").Equal(domain.NoLoanMarginRatio))
	assert.False(t, risk.IsLiquidatable("bob", "USDT"))

	positions := risk.LoanPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "ALICE", positions[0].UserID)
	assert.True(t, positions[0].Loan.Equal(d(400)))
	assert.True(t, positions[0].Available.Equal(d(300)))
	assert.True(t, positions[0].Liquidatable)
}

func TestExecutor_Liquidate(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(100))
	ctx := context.Background()

	_, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewBorrow("b-1", "alice", "USDT", d(400))})
	require.NoError(t, err)

	_, err = h.executor.Liquidate(ctx, "liq-early", "alice", "keeper", "USDT")
	require.ErrorIs(t, err, domain.ErrNotLiquidatable)

	_, err = h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewWithdrawal("w-1", "alice", "USDT", d(200))})
	require.NoError(t, err)

	_, err = h.executor.Liquidate(ctx, "liq-self", "alice", "ALICE", "USDT")
	require.ErrorIs(t, err, domain.ErrInvalidIntentPosting)

	result, err := h.executor.Liquidate(ctx, "liq-1", "alice", "keeper", "USDT")
	require.NoError(t, err)
	require.Equal(t, usecase.StatusCommitted, result.Status)
	assert.Equal(t, domain.IntentLiquidation, result.Entry.Intent)

	assert.True(t, h.risk.Balance(domain.UserAvailable("alice", "USDT")).Equal(d(90)))
	assert.True(t, h.risk.Balance(domain.UserLoan("alice", "USDT")).Equal(d(200)))
	assert.True(t, h.risk.Balance(domain.UserAvailable("keeper", "USDT")).Equal(d(2)))
	assert.True(t, h.risk.Balance(domain.InsuranceFund("USDT")).Equal(d(8)))
}

func TestExecutor_AccrueInterest(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", d(100))
	ctx := context.Background()
	loan := domain.UserLoan("alice", "USDT")

	_, err := h.executor.Submit(ctx, usecase.SubmitInput{Intent: domain.NewBorrow("b-1", "alice", "USDT", d(400))})
	require.NoError(t, err)
	records := len(h.compStore.Records())

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	accrued, err := h.executor.AccrueInterest(ctx, domain.DefaultDailyInterestRate, day)
	require.NoError(t, err)
	require.Len(t, accrued, 1)
	assert.Equal(t, domain.IntentInterest, accrued[0].Intent)
	assert.True(t, h.risk.Balance(loan).Equal(decimal.RequireFromString("400.2")))
	assert.True(t, h.risk.Balance(domain.InterestRevenue("USDT")).Equal(decimal.RequireFromString("0.2")))

	again, err := h.executor.AccrueInterest(ctx, domain.DefaultDailyInterestRate, day)
	require.NoError(t, err)
	assert.Empty(t, again, "a day accrues once")

	next, err := h.executor.AccrueInterest(ctx, domain.DefaultDailyInterestRate, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.True(t, h.risk.Balance(loan).Equal(decimal.RequireFromString("400.4001")), "interest compounds")

	assert.Len(t, h.compStore.Records(), records, "accruals skip screening")

	_, err = h.executor.AccrueInterest(ctx, decimal.Zero, day)
	assert.Error(t, err)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// AccrueInterest compounds one day of interest into every open loan. Accruals are
// keyed by user, asset and day, so a repeated run for the same day commits nothing new.
func (e *Executor) AccrueInterest(ctx context.Context, rate decimal.Decimal, day time.Time) ([]*domain.JournalEntry, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%w: interest rate must be positive", domain.ErrInvalidIntentPosting)
	}

	var accrued []*domain.JournalEntry
	for _, pos := range e.risk.LoanPositions() {
		amount := pos.Loan.Mul(rate).Truncate(8)
		if !amount.IsPositive() {
			continue
		}

		correlationID := fmt.Sprintf("interest:%s:%s:%s", day.UTC().Format(time.DateOnly), pos.UserID, pos.Asset)
		entry, err := e.commit(ctx, domain.NewInterest(correlationID, pos.UserID, pos.Asset, amount), "")
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateCorrelation) {
				continue
			}
			return accrued, fmt.Errorf("accrue interest for %s %s: %w", pos.UserID, pos.Asset, err)
		}

		e.emitEntryCommitted(ctx, entry)
		e.countOutcome(entry.Intent, string(StatusCommitted))
		accrued = append(accrued, entry)
	}

	e.logger.Info().
		Int("accrued", len(accrued)).
		Str("rate", rate.String()).
		Msg("interest accrued")
	return accrued, nil
}

// Liquidate force-closes part of an under-margined loan. The position is
// re-evaluated under the writer gate by the regular submit path.
func (e *Executor) Liquidate(ctx context.Context, correlationID, userID, liquidatorID, asset string) (*ExecutionResult, error) {
	if strings.EqualFold(userID, liquidatorID) {
		return nil, fmt.Errorf("%w: %s cannot liquidate their own position", domain.ErrInvalidIntentPosting, userID)
	}

	pos := e.risk.Position(userID, asset)
	terms, ok := domain.ComputeLiquidation(pos.Available, pos.Loan)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s margin ratio %s", domain.ErrNotLiquidatable, pos.UserID, pos.Asset, pos.MarginRatio.StringFixed(4))
	}

	e.logger.Warn().
		Str("user_id", pos.UserID).
		Str("asset", pos.Asset).
		Str("loan", pos.Loan.String()).
		Str("seized", terms.Seized.String()).
		Msg("liquidating position")

	return e.Submit(ctx, SubmitInput{
		Intent: domain.NewLiquidation(correlationID, userID, liquidatorID, asset, terms),
	})
}

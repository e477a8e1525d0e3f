package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// PostingRequest is one leg of a submitted intent.
type PostingRequest struct {
	Account string          `json:"account"`
	Side    string          `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
}

// SubmitIntentRequest represents a transaction intent submitted for execution.
type SubmitIntentRequest struct {
	Intent        string            `json:"intent"`
	CorrelationID string            `json:"correlation_id"`
	CausalityID   string            `json:"causality_id,omitempty"`
	Postings      []PostingRequest  `json:"postings"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ToDomain parses account keys, sides and the intent type. Balance and
// per-intent rules are checked later by the executor.
func (r *SubmitIntentRequest) ToDomain() (*domain.TransactionIntent, error) {
	intentType, err := domain.ParseIntentType(r.Intent)
	if err != nil {
		return nil, err
	}

	postings := make([]domain.Posting, 0, len(r.Postings))
	for i, p := range r.Postings {
		account, err := domain.ParseAccountKey(p.Account)
		if err != nil {
			return nil, fmt.Errorf("posting %d: %w", i, err)
		}
		side, err := domain.ParseSide(p.Side)
		if err != nil {
			return nil, fmt.Errorf("posting %d: %w", i, err)
		}
		postings = append(postings, domain.Posting{
			Account: account,
			Asset:   account.Asset,
			Side:    side,
			Amount:  p.Amount,
		})
	}

	return &domain.TransactionIntent{
		Intent:        intentType,
		CorrelationID: strings.TrimSpace(r.CorrelationID),
		CausalityID:   r.CausalityID,
		Postings:      postings,
		Metadata:      r.Metadata,
	}, nil
}

// SignApprovalRequest carries one signer's ed25519 signature over the operation hash.
type SignApprovalRequest struct {
	SignerID  string `json:"signer_id"`
	Signature string `json:"signature"`
}

// Validate checks required fields.
func (r *SignApprovalRequest) Validate() error {
	if r.SignerID == "" || r.Signature == "" {
		return fmt.Errorf("signer_id and signature are required")
	}
	return nil
}

// RejectApprovalRequest rejects a pending approval.
type RejectApprovalRequest struct {
	SignerID string `json:"signer_id"`
	Reason   string `json:"reason"`
}

// Validate checks required fields.
func (r *RejectApprovalRequest) Validate() error {
	if r.SignerID == "" || strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("signer_id and reason are required")
	}
	return nil
}

// WatchlistRequest adds a party to the local sanctions list.
type WatchlistRequest struct {
	Party string `json:"party"`
}

// LiquidationRequest force-closes part of an under-margined loan.
type LiquidationRequest struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	LiquidatorID  string `json:"liquidator_id"`
	Asset         string `json:"asset"`
}

// Validate checks required fields.
func (r *LiquidationRequest) Validate() error {
	if r.UserID == "" || r.LiquidatorID == "" || r.Asset == "" {
		return fmt.Errorf("user_id, liquidator_id and asset are required")
	}
	return domain.ValidateCorrelationID(r.CorrelationID)
}

// InterestRequest runs one day of interest accrual. Rate defaults to the daily
// margin rate and Day to today.
type InterestRequest struct {
	Rate string `json:"rate,omitempty"`
	Day  string `json:"day,omitempty"`
}

// Parse returns the accrual rate and day.
func (r *InterestRequest) Parse(now time.Time) (decimal.Decimal, time.Time, error) {
	rate := domain.DefaultDailyInterestRate
	if r.Rate != "" {
		v, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("invalid rate %q: %w", r.Rate, err)
		}
		rate = v
	}

	day := now
	if r.Day != "" {
		v, err := time.Parse(time.DateOnly, r.Day)
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("invalid day %q: %w", r.Day, err)
		}
		day = v
	}
	return rate, day, nil
}

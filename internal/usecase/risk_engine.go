package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
)

// AccountBalance is a read-only view of one account in the risk state.
type AccountBalance struct {
	Account   domain.AccountKey `json:"account"`
	Balance   decimal.Decimal   `json:"balance"`
	Locked    decimal.Decimal   `json:"locked"`
	Available decimal.Decimal   `json:"available"`
}

// RiskEngine keeps balances derived from committed entries plus soft holds for
// operations waiting on approval. It is never authoritative; Rebuild replays the journal.
type RiskEngine struct {
	mu          sync.RWMutex
	balances    map[domain.AccountKey]decimal.Decimal
	holds       map[string]map[domain.AccountKey]decimal.Decimal
	lastApplied uint64
	metrics     *metrics.Metrics
}

// NewRiskEngine creates an empty risk state.
func NewRiskEngine(m *metrics.Metrics) *RiskEngine {
	return &RiskEngine{
		balances: make(map[domain.AccountKey]decimal.Decimal),
		holds:    make(map[string]map[domain.AccountKey]decimal.Decimal),
		metrics:  m,
	}
}

// Precheck rejects intents that would take a liability account below its
// available balance (balance minus held amounts).
func (r *RiskEngine) Precheck(intent *domain.TransactionIntent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.precheckLocked(intent, "")
}

// PrecheckExcluding is Precheck ignoring the hold registered under ref.
func (r *RiskEngine) PrecheckExcluding(intent *domain.TransactionIntent, ref string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.precheckLocked(intent, ref)
}

func (r *RiskEngine) precheckLocked(intent *domain.TransactionIntent, excludeRef string) error {
	for _, req := range requiredDebits(intent.Postings) {
		available := r.availableLocked(req.account, excludeRef)
		if req.amount.GreaterThan(available) {
			if r.metrics != nil {
				r.metrics.RiskRejections.WithLabelValues(req.account.Asset).Inc()
			}
			return &domain.InsufficientBalanceError{
				Account:   req.account,
				Available: available,
				Required:  req.amount,
			}
		}
	}
	if intent.Intent == domain.IntentBorrow {
		return r.checkBorrowLocked(intent.Postings, excludeRef)
	}
	return nil
}

// checkBorrowLocked enforces the initial margin on every loan the intent grows.
// Borrowing raises available and loan by the same amount, so the margin is
// measured against the available balance before the borrow.
func (r *RiskEngine) checkBorrowLocked(postings []domain.Posting, excludeRef string) error {
	for _, p := range postings {
		if !p.Account.IsUserLoan() || p.Side != domain.SideDebit {
			continue
		}
		available := r.availableLocked(domain.UserAvailable(p.Account.ID, p.Account.Asset), excludeRef)
		loan := r.balances[p.Account]
		newLoan := loan.Add(p.Amount)
		if !newLoan.IsPositive() {
			continue
		}

		ratio := available.Div(newLoan)
		if ratio.LessThan(domain.InitialMargin) {
			if r.metrics != nil {
				r.metrics.RiskRejections.WithLabelValues(p.Account.Asset).Inc()
			}
			maxAllowed := decimal.Max(available.Div(domain.InitialMargin).Sub(loan), decimal.Zero)
			return &domain.MarginError{Account: p.Account, Requested: p.Amount, MaxAllowed: maxAllowed, Ratio: ratio}
		}
	}
	return nil
}

func (r *RiskEngine) availableLocked(account domain.AccountKey, excludeRef string) decimal.Decimal {
	return r.balances[account].Sub(r.heldAmount(account, excludeRef))
}

type accountRequirement struct {
	account domain.AccountKey
	amount  decimal.Decimal
}

// requiredDebits nets the postings per liability account and returns those that
// decrease, in first-seen order.
func requiredDebits(postings []domain.Posting) []accountRequirement {
	net := make(map[domain.AccountKey]decimal.Decimal)
	var order []domain.AccountKey
	for _, p := range postings {
		if p.Account.Category != domain.CategoryLiability {
			continue
		}
		if _, seen := net[p.Account]; !seen {
			order = append(order, p.Account)
		}
		net[p.Account] = net[p.Account].Add(p.Delta())
	}

	var out []accountRequirement
	for _, acc := range order {
		if net[acc].IsNegative() {
			out = append(out, accountRequirement{account: acc, amount: net[acc].Neg()})
		}
	}
	return out
}

// Apply folds a committed entry into the balances. Entries must arrive in
// sequence; re-applying an already applied sequence is rejected without effect.
func (r *RiskEngine) Apply(entry *domain.JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applyLocked(entry)
}

func (r *RiskEngine) applyLocked(entry *domain.JournalEntry) error {
	if entry.Sequence <= r.lastApplied {
		return fmt.Errorf("%w: sequence %d (last %d)", domain.ErrAlreadyApplied, entry.Sequence, r.lastApplied)
	}
	if entry.Sequence != r.lastApplied+1 {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrInvalidSequence, r.lastApplied+1, entry.Sequence)
	}

	for _, p := range entry.Postings {
		r.balances[p.Account] = r.balances[p.Account].Add(p.Delta())
	}
	r.lastApplied = entry.Sequence
	return nil
}

// Rebuild discards balances and replays every entry from sequence 1. Holds are kept.
func (r *RiskEngine) Rebuild(ctx context.Context, reader JournalReader) error {
	entries, err := reader.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.balances = make(map[domain.AccountKey]decimal.Decimal)
	r.lastApplied = 0
	for _, e := range entries {
		if err := r.applyLocked(e); err != nil {
			return fmt.Errorf("replay halted: %w", err)
		}
	}
	return nil
}

// Hold reserves the net debits of intent under ref.
func (r *RiskEngine) Hold(ref string, intent *domain.TransactionIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reqs := requiredDebits(intent.Postings)
	if len(reqs) == 0 {
		return
	}
	h := make(map[domain.AccountKey]decimal.Decimal, len(reqs))
	for _, req := range reqs {
		h[req.account] = req.amount
	}
	r.holds[ref] = h
}

// Release drops the hold registered under ref.
func (r *RiskEngine) Release(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.holds, ref)
}

func (r *RiskEngine) heldAmount(account domain.AccountKey, excludeRef string) decimal.Decimal {
	total := decimal.Zero
	for ref, h := range r.holds {
		if ref == excludeRef {
			continue
		}
		total = total.Add(h[account])
	}
	return total
}

// Balance returns the committed balance of account.
func (r *RiskEngine) Balance(account domain.AccountKey) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.balances[account]
}

// Available returns balance minus held amounts.
func (r *RiskEngine) Available(account domain.AccountKey) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.balances[account].Sub(r.heldAmount(account, ""))
}

// LastApplied is the highest applied sequence.
func (r *RiskEngine) LastApplied() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastApplied
}

// LoanPosition is a user's margin loan in one asset.
type LoanPosition struct {
	UserID       string          `json:"user_id"`
	Asset        string          `json:"asset"`
	Loan         decimal.Decimal `json:"loan"`
	Available    decimal.Decimal `json:"available"`
	MarginRatio  decimal.Decimal `json:"margin_ratio"`
	Liquidatable bool            `json:"liquidatable"`
}

// MarginRatio returns available/loan for a user, or domain.NoLoanMarginRatio
// when nothing is borrowed.
func (r *RiskEngine) MarginRatio(userID, asset string) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.positionLocked(domain.UserLoan(userID, asset)).MarginRatio
}

// IsLiquidatable reports whether the user's margin ratio is below the liquidation threshold.
func (r *RiskEngine) IsLiquidatable(userID, asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.positionLocked(domain.UserLoan(userID, asset)).Liquidatable
}

// Position returns the loan position of a user.
func (r *RiskEngine) Position(userID, asset string) LoanPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.positionLocked(domain.UserLoan(userID, asset))
}

// LoanPositions lists every open loan, sorted by user then asset.
func (r *RiskEngine) LoanPositions() []LoanPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []LoanPosition
	for acc, bal := range r.balances {
		if acc.IsUserLoan() && bal.IsPositive() {
			out = append(out, r.positionLocked(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

func (r *RiskEngine) positionLocked(loanAccount domain.AccountKey) LoanPosition {
	available := r.availableLocked(domain.UserAvailable(loanAccount.ID, loanAccount.Asset), "")
	loan := r.balances[loanAccount]
	ratio := domain.MarginRatio(available, loan)
	return LoanPosition{
		UserID:       loanAccount.ID,
		Asset:        loanAccount.Asset,
		Loan:         loan,
		Available:    available,
		MarginRatio:  ratio,
		Liquidatable: loan.IsPositive() && ratio.LessThan(domain.LiquidationThreshold),
	}
}

// Balances lists non-zero accounts whose key starts with prefix, sorted by key.
func (r *RiskEngine) Balances(prefix string) []AccountBalance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix = strings.ToUpper(prefix)
	var out []AccountBalance
	for acc, bal := range r.balances {
		if !strings.HasPrefix(acc.String(), prefix) {
			continue
		}
		locked := r.heldAmount(acc, "")
		if bal.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, AccountBalance{Account: acc, Balance: bal, Locked: locked, Available: bal.Sub(locked)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.String() < out[j].Account.String() })
	return out
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// Watchlist is a concurrency-safe set of sanctioned parties.
type Watchlist struct {
	mu      sync.RWMutex
	parties map[string]struct{}
}

// NewWatchlist creates a watchlist seeded with parties.
func NewWatchlist(parties ...string) *Watchlist {
	w := &Watchlist{parties: make(map[string]struct{}, len(parties))}
	for _, p := range parties {
		w.Add(p)
	}
	return w
}

func normalizeParty(p string) string {
	return strings.ToUpper(strings.TrimSpace(p))
}

// Add lists a party. It reports whether the list changed.
func (w *Watchlist) Add(party string) bool {
	party = normalizeParty(party)
	if party == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.parties[party]; ok {
		return false
	}
	w.parties[party] = struct{}{}
	return true
}

// Remove delists a party. It reports whether the list changed.
func (w *Watchlist) Remove(party string) bool {
	party = normalizeParty(party)
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.parties[party]; !ok {
		return false
	}
	delete(w.parties, party)
	return true
}

// Contains reports whether party is listed.
func (w *Watchlist) Contains(party string) bool {
	if party == "" {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.parties[normalizeParty(party)]
	return ok
}

// List returns the listed parties, sorted.
func (w *Watchlist) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.parties))
	for p := range w.parties {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SanctionsHook blocks intents whose user or destination is on the watchlist.
type SanctionsHook struct {
	watchlist *Watchlist
}

// NewSanctionsHook creates a sanctions hook over watchlist.
func NewSanctionsHook(watchlist *Watchlist) *SanctionsHook {
	return &SanctionsHook{watchlist: watchlist}
}

func (h *SanctionsHook) Name() string  { return "sanctions" }
func (h *SanctionsHook) Priority() int { return 10 }

func (h *SanctionsHook) Check(_ context.Context, hc *domain.HookContext) (PreDecision, error) {
	if h.watchlist.Contains(hc.Destination) {
		return Block(fmt.Sprintf("destination %s is sanctioned", hc.Destination), CodeSanctionsBlocked), nil
	}
	if hc.IsWatchlisted || h.watchlist.Contains(hc.UserID) {
		return Block(fmt.Sprintf("user %s is on watchlist", hc.UserID), CodeWatchlistBlocked), nil
	}
	return Allow(), nil
}

// PepCheckHook blocks politically exposed persons above an amount threshold.
type PepCheckHook struct {
	threshold decimal.Decimal
}

// NewPepCheckHook creates a PEP hook.
func NewPepCheckHook(threshold decimal.Decimal) *PepCheckHook {
	return &PepCheckHook{threshold: threshold}
}

func (h *PepCheckHook) Name() string  { return "pep_check" }
func (h *PepCheckHook) Priority() int { return 20 }

func (h *PepCheckHook) Check(_ context.Context, hc *domain.HookContext) (PreDecision, error) {
	if hc.IsPEP && hc.Amount.GreaterThanOrEqual(h.threshold) {
		return Block(fmt.Sprintf("PEP transaction %s %s exceeds %s", hc.Amount, hc.Asset, h.threshold), CodePEPThreshold), nil
	}
	return Allow(), nil
}

// ExternalWatchlistHook screens parties against a remote service, caching results.
type ExternalWatchlistHook struct {
	client     WatchlistClient
	cache      Cache
	cacheTTL   time.Duration
	timeout    time.Duration
	failPolicy domain.FailPolicy
	logger     zerolog.Logger
}

// ExternalWatchlistConfig configures ExternalWatchlistHook.
type ExternalWatchlistConfig struct {
	Client     WatchlistClient
	Cache      Cache // optional
	CacheTTL   time.Duration
	Timeout    time.Duration
	FailPolicy domain.FailPolicy
	Logger     zerolog.Logger
}

// NewExternalWatchlistHook creates the hook. FailPolicy must be set explicitly.
func NewExternalWatchlistHook(cfg ExternalWatchlistConfig) (*ExternalWatchlistHook, error) {
	if _, err := domain.ParseFailPolicy(string(cfg.FailPolicy)); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 300 * time.Second
	}
	return &ExternalWatchlistHook{
		client:     cfg.Client,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		timeout:    cfg.Timeout,
		failPolicy: cfg.FailPolicy,
		logger:     cfg.Logger,
	}, nil
}

func (h *ExternalWatchlistHook) Name() string  { return "external_watchlist" }
func (h *ExternalWatchlistHook) Priority() int { return 15 }

func (h *ExternalWatchlistHook) Check(ctx context.Context, hc *domain.HookContext) (PreDecision, error) {
	for _, party := range []string{hc.UserID, hc.Destination} {
		if party == "" {
			continue
		}
		hit, err := h.Screen(ctx, party)
		if err != nil {
			if h.failPolicy == domain.FailOpen {
				h.logger.Warn().Err(err).Str("party", party).Msg("watchlist unavailable, allowing under fail-open policy")
				continue
			}
			return Block(err.Error(), CodeExternalScreenFail), nil
		}
		if hit {
			return Block(fmt.Sprintf("party %s matched external watchlist", party), CodeSanctionsBlocked), nil
		}
	}
	return Allow(), nil
}

// Screen checks one party, consulting the cache first. Timeouts are reported
// as domain.ErrExternalServiceTimeout.
func (h *ExternalWatchlistHook) Screen(ctx context.Context, party string) (bool, error) {
	key := "watchlist:" + normalizeParty(party)
	if h.cache != nil {
		if v, err := h.cache.Get(ctx, key); err == nil && len(v) == 1 {
			return v[0] == '1', nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	hit, err := h.client.Screen(callCtx, normalizeParty(party))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrExternalServiceTimeout, err)
		}
		return false, &domain.ExternalServiceError{Service: "watchlist", Err: err}
	}

	if h.cache != nil {
		v := []byte{'0'}
		if hit {
			v[0] = '1'
		}
		if err := h.cache.Set(ctx, key, v, h.cacheTTL); err != nil {
			h.logger.Debug().Err(err).Msg("watchlist cache write failed")
		}
	}
	return hit, nil
}

// LargeTxHook flags committed transactions at or above a threshold.
type LargeTxHook struct {
	threshold decimal.Decimal
}

// NewLargeTxHook creates a large-transaction hook.
func NewLargeTxHook(threshold decimal.Decimal) *LargeTxHook {
	return &LargeTxHook{threshold: threshold}
}

func (h *LargeTxHook) Name() string  { return RuleLargeTx }
func (h *LargeTxHook) Priority() int { return DefaultHookPriority }

func (h *LargeTxHook) Check(_ context.Context, hc *domain.HookContext) (PostDecision, error) {
	if hc.Amount.GreaterThanOrEqual(h.threshold) {
		return Flag(fmt.Sprintf("amount %s %s at or above %s", hc.Amount, hc.Asset, h.threshold), SeverityMedium), nil
	}
	return Pass(), nil
}

// NewAccountHook flags large transactions on recently opened accounts.
type NewAccountHook struct {
	maxAgeDays int
	threshold  decimal.Decimal
}

// NewNewAccountHook creates a new-account hook.
func NewNewAccountHook(maxAgeDays int, threshold decimal.Decimal) *NewAccountHook {
	return &NewAccountHook{maxAgeDays: maxAgeDays, threshold: threshold}
}

func (h *NewAccountHook) Name() string  { return RuleNewAccountLargeTx }
func (h *NewAccountHook) Priority() int { return DefaultHookPriority }

func (h *NewAccountHook) Check(_ context.Context, hc *domain.HookContext) (PostDecision, error) {
	if hc.AccountAgeDays == nil || *hc.AccountAgeDays >= h.maxAgeDays {
		return Pass(), nil
	}
	if hc.Amount.GreaterThanOrEqual(h.threshold) {
		return Flag(fmt.Sprintf("account %d days old moved %s %s", *hc.AccountAgeDays, hc.Amount, hc.Asset), SeverityHigh), nil
	}
	return Pass(), nil
}

package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// WindowStats summarises one account's sliding window.
type WindowStats struct {
	Count      int
	Volume     decimal.Decimal
	AtOrAbove  int // transactions at or above the tracker's reporting threshold
	OldestSeen time.Time
}

type windowTx struct {
	at     time.Time
	amount decimal.Decimal
}

// accountWindow is a FIFO of recent transactions with running totals.
// Expired items are dropped from the head on access.
type accountWindow struct {
	mu     sync.Mutex
	txs    []windowTx
	head   int
	volume decimal.Decimal
	above  int
}

// VelocityTracker keeps per-account sliding windows. Access to one account is
// serialized; different accounts proceed in parallel.
type VelocityTracker struct {
	window    time.Duration
	reporting decimal.Decimal

	mu       sync.Mutex
	accounts map[string]*accountWindow
}

// NewVelocityTracker creates a tracker with the given horizon. Transactions at or
// above reporting are counted separately in WindowStats.AtOrAbove.
func NewVelocityTracker(window time.Duration, reporting decimal.Decimal) *VelocityTracker {
	return &VelocityTracker{
		window:    window,
		reporting: reporting,
		accounts:  make(map[string]*accountWindow),
	}
}

func (v *VelocityTracker) account(id string) *accountWindow {
	id = strings.ToUpper(id)
	v.mu.Lock()
	defer v.mu.Unlock()

	w, ok := v.accounts[id]
	if !ok {
		w = &accountWindow{}
		v.accounts[id] = w
	}
	return w
}

// Observe records a transaction and returns the window including it.
func (v *VelocityTracker) Observe(accountID string, amount decimal.Decimal, at time.Time) WindowStats {
	w := v.account(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	v.evict(w, at)
	w.txs = append(w.txs, windowTx{at: at, amount: amount})
	w.volume = w.volume.Add(amount)
	if amount.GreaterThanOrEqual(v.reporting) {
		w.above++
	}
	return w.stats()
}

// Stats returns the current window without recording.
func (v *VelocityTracker) Stats(accountID string, now time.Time) WindowStats {
	w := v.account(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	v.evict(w, now)
	return w.stats()
}

// evict drops entries older than the horizon from the head. Each entry is
// removed at most once, so the cost is amortized constant per observation.
func (v *VelocityTracker) evict(w *accountWindow, now time.Time) {
	cutoff := now.Add(-v.window)
	for w.head < len(w.txs) && w.txs[w.head].at.Before(cutoff) {
		tx := w.txs[w.head]
		w.volume = w.volume.Sub(tx.amount)
		if tx.amount.GreaterThanOrEqual(v.reporting) {
			w.above--
		}
		w.txs[w.head] = windowTx{}
		w.head++
	}

	if w.head > 0 && w.head*2 >= len(w.txs) {
		n := copy(w.txs, w.txs[w.head:])
		w.txs = w.txs[:n]
		w.head = 0
	}
}

func (w *accountWindow) stats() WindowStats {
	s := WindowStats{
		Count:     len(w.txs) - w.head,
		Volume:    w.volume,
		AtOrAbove: w.above,
	}
	if s.Count > 0 {
		s.OldestSeen = w.txs[w.head].at
	}
	return s
}

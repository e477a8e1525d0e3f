package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Recognised risk metadata keys on intents.
const (
	MetaUserID         = "user_id"
	MetaDestination    = "destination"
	MetaAccountAgeDays = "account_age_days"
	MetaKYCLevel       = "kyc_level"
	MetaIsWatchlisted  = "is_watchlisted"
	MetaIsPEP          = "is_pep"
	MetaSourceIP       = "source_ip"
	MetaDeviceID       = "device_id"
)

// HookContext is the view of a transaction that hooks and compliance rules see.
type HookContext struct {
	CorrelationID  string
	UserID         string
	Intent         IntentType
	Amount         decimal.Decimal
	Asset          string
	Destination    string
	Timestamp      time.Time
	AccountAgeDays *int
	KYCLevel       int
	IsWatchlisted  bool
	IsPEP          bool
	SourceIP       string
	DeviceID       string
	Sequence       uint64
}

// NewHookContext derives a context from an intent. The subject user and amount come
// from the largest user-account posting; metadata keys override the derived values.
func NewHookContext(intent *TransactionIntent, now time.Time) *HookContext {
	hc := &HookContext{
		CorrelationID: intent.CorrelationID,
		Intent:        intent.Intent,
		Timestamp:     now,
	}

	var subject *Posting
	for i := range intent.Postings {
		p := &intent.Postings[i]
		if !p.Account.IsUser() {
			continue
		}
		if subject == nil || p.Amount.GreaterThan(subject.Amount) {
			subject = p
		}
	}
	if subject == nil && len(intent.Postings) > 0 {
		subject = &intent.Postings[0]
	}
	if subject != nil {
		hc.Amount = subject.Amount
		hc.Asset = subject.Asset
		if subject.Account.IsUser() {
			hc.UserID = subject.Account.ID
		}
	}

	for _, p := range intent.Postings {
		if p.Side == SideCredit && p.Account.IsUser() && p.Account.ID != hc.UserID {
			hc.Destination = p.Account.ID
			break
		}
	}

	md := intent.Metadata
	if v, ok := md[MetaUserID]; ok && v != "" {
		hc.UserID = v
	}
	if v, ok := md[MetaDestination]; ok && v != "" {
		hc.Destination = v
	}
	if v, err := strconv.Atoi(md[MetaAccountAgeDays]); err == nil {
		hc.AccountAgeDays = &v
	}
	if v, err := strconv.Atoi(md[MetaKYCLevel]); err == nil {
		hc.KYCLevel = v
	}
	hc.IsWatchlisted, _ = strconv.ParseBool(md[MetaIsWatchlisted])
	hc.IsPEP, _ = strconv.ParseBool(md[MetaIsPEP])
	hc.SourceIP = md[MetaSourceIP]
	hc.DeviceID = md[MetaDeviceID]

	return hc
}

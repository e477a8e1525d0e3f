package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAccountKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "user available", input: "LIAB:USER:ALICE:USDT:AVAILABLE", want: "LIAB:USER:ALICE:USDT:AVAILABLE"},
		{name: "lowercase is normalised", input: "asset:system:vault:btc:main", want: "ASSET:SYSTEM:VAULT:BTC:MAIN"},
		{name: "too few parts", input: "LIAB:USER:ALICE:USDT", wantErr: ErrInvalidAccountFormat},
		{name: "too many parts", input: "LIAB:USER:ALICE:USDT:AVAILABLE:X", wantErr: ErrInvalidAccountFormat},
		{name: "empty segment", input: "LIAB::ALICE:USDT:AVAILABLE", wantErr: ErrInvalidAccountFormat},
		{name: "unknown category", input: "FOO:USER:ALICE:USDT:AVAILABLE", wantErr: ErrUnknownCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseAccountKey(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, key)
			}
		})
	}
}

func TestUnknownCategoryIsFormatError(t *testing.T) {
	_, err := ParseAccountKey("XYZ:USER:A:USDT:MAIN")
	if !errors.Is(err, ErrInvalidAccountFormat) {
		t.Fatalf("expected unknown category to be an account format error, got %v", err)
	}
}

func TestAccountCategory_NormalSide(t *testing.T) {
	tests := map[AccountCategory]Side{
		CategoryAsset:     SideDebit,
		CategoryExpense:   SideDebit,
		CategoryLiability: SideCredit,
		CategoryEquity:    SideCredit,
		CategoryRevenue:   SideCredit,
	}
	for cat, want := range tests {
		if got := cat.NormalSide(); got != want {
			t.Errorf("%s: expected %s, got %s", cat, want, got)
		}
	}
}

func TestAccountKeyHelpers(t *testing.T) {
	if got := UserAvailable("alice", "usdt").String(); got != "LIAB:USER:ALICE:USDT:AVAILABLE" {
		t.Errorf("UserAvailable: got %s", got)
	}
	if got := UserLocked("alice", "usdt").String(); got != "LIAB:USER:ALICE:USDT:LOCKED" {
		t.Errorf("UserLocked: got %s", got)
	}
	if got := SystemVault("btc").String(); got != "ASSET:SYSTEM:VAULT:BTC:MAIN" {
		t.Errorf("SystemVault: got %s", got)
	}
	if got := FeeRevenue("btc").String(); got != "REV:SYSTEM:FEE:BTC:REVENUE" {
		t.Errorf("FeeRevenue: got %s", got)
	}
}

func TestAccountKey_JSON(t *testing.T) {
	key := UserAvailable("bob", "ETH")
	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"LIAB:USER:BOB:ETH:AVAILABLE"` {
		t.Fatalf("unexpected encoding %s", b)
	}

	var bad AccountKey
	if err := json.Unmarshal([]byte(`"LIAB:USER"`), &bad); !errors.Is(err, ErrInvalidAccountFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestPosting_Delta(t *testing.T) {
	amount := decimal.NewFromInt(10)

	if d := Debit(SystemVault("USDT"), amount).Delta(); !d.Equal(amount) {
		t.Errorf("asset debit should increase, got %s", d)
	}
	if d := Debit(UserAvailable("a", "USDT"), amount).Delta(); !d.Equal(amount.Neg()) {
		t.Errorf("liability debit should decrease, got %s", d)
	}
	if d := Credit(UserAvailable("a", "USDT"), amount).Delta(); !d.Equal(amount) {
		t.Errorf("liability credit should increase, got %s", d)
	}
}

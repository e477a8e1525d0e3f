package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccountCategory is the top-level classification of a ledger account.
type AccountCategory string

const (
	CategoryAsset     AccountCategory = "ASSET"
	CategoryLiability AccountCategory = "LIAB"
	CategoryEquity    AccountCategory = "EQUITY"
	CategoryRevenue   AccountCategory = "REV"
	CategoryExpense   AccountCategory = "EXP"
)

// Well-known segments and sub-accounts.
const (
	SegmentUser   = "USER"
	SegmentSystem = "SYSTEM"

	SubAccountAvailable = "AVAILABLE"
	SubAccountLocked    = "LOCKED"
	SubAccountLoan      = "LOAN"
)

const accountKeyParts = 5

// ParseAccountCategory parses a category code.
func ParseAccountCategory(s string) (AccountCategory, error) {
	switch c := AccountCategory(strings.ToUpper(s)); c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// NormalSide returns the side that increases accounts of this category.
func (c AccountCategory) NormalSide() Side {
	switch c {
	case CategoryAsset, CategoryExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// AccountKey identifies an account as CATEGORY:SEGMENT:ID:ASSET:SUB_ACCOUNT.
type AccountKey struct {
	Category   AccountCategory
	Segment    string
	ID         string
	Asset      string
	SubAccount string
}

// ParseAccountKey parses the colon separated form of an account key.
func ParseAccountKey(s string) (AccountKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != accountKeyParts {
		return AccountKey{}, fmt.Errorf("%w: expected %d parts, got %d in %q", ErrInvalidAccountFormat, accountKeyParts, len(parts), s)
	}

	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return AccountKey{}, fmt.Errorf("%w: empty segment in %q", ErrInvalidAccountFormat, s)
		}
	}

	category, err := ParseAccountCategory(parts[0])
	if err != nil {
		return AccountKey{}, err
	}

	return AccountKey{
		Category:   category,
		Segment:    strings.ToUpper(parts[1]),
		ID:         strings.ToUpper(parts[2]),
		Asset:      strings.ToUpper(parts[3]),
		SubAccount: strings.ToUpper(parts[4]),
	}, nil
}

// MustParseAccountKey is like ParseAccountKey but panics on error.
func MustParseAccountKey(s string) AccountKey {
	k, err := ParseAccountKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k AccountKey) String() string {
	return strings.Join([]string{string(k.Category), k.Segment, k.ID, k.Asset, k.SubAccount}, ":")
}

// IsZero reports whether the key is unset.
func (k AccountKey) IsZero() bool {
	return k == AccountKey{}
}

// IsUser reports whether the key belongs to a customer.
func (k AccountKey) IsUser() bool {
	return k.Category == CategoryLiability && k.Segment == SegmentUser
}

// IsUserLoan reports whether the key is a margin loan receivable, ASSET:USER:*:*:LOAN.
func (k AccountKey) IsUserLoan() bool {
	return k.Category == CategoryAsset && k.Segment == SegmentUser && k.SubAccount == SubAccountLoan
}

// MarshalJSON encodes the key in its string form.
func (k AccountKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes and validates a string account key.
func (k *AccountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountFormat, err)
	}
	parsed, err := ParseAccountKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UserAvailable is the spendable balance of a user for an asset.
func UserAvailable(userID, asset string) AccountKey {
	return AccountKey{
		Category:   CategoryLiability,
		Segment:    SegmentUser,
		ID:         strings.ToUpper(userID),
		Asset:      strings.ToUpper(asset),
		SubAccount: SubAccountAvailable,
	}
}

// UserLocked holds user funds frozen by orders or compliance.
func UserLocked(userID, asset string) AccountKey {
	k := UserAvailable(userID, asset)
	k.SubAccount = SubAccountLocked
	return k
}

// UserLoan is the exchange's receivable for what a user has borrowed.
func UserLoan(userID, asset string) AccountKey {
	return AccountKey{
		Category:   CategoryAsset,
		Segment:    SegmentUser,
		ID:         strings.ToUpper(userID),
		Asset:      strings.ToUpper(asset),
		SubAccount: SubAccountLoan,
	}
}

// SystemVault is the custody asset account for an asset.
func SystemVault(asset string) AccountKey {
	return AccountKey{Category: CategoryAsset, Segment: SegmentSystem, ID: "VAULT", Asset: strings.ToUpper(asset), SubAccount: "MAIN"}
}

// SystemEquity is the capital account funded at genesis.
func SystemEquity(asset string) AccountKey {
	return AccountKey{Category: CategoryEquity, Segment: SegmentSystem, ID: "CAPITAL", Asset: strings.ToUpper(asset), SubAccount: "MAIN"}
}

// FeeRevenue collects fees charged in an asset.
func FeeRevenue(asset string) AccountKey {
	return AccountKey{Category: CategoryRevenue, Segment: SegmentSystem, ID: "FEE", Asset: strings.ToUpper(asset), SubAccount: "REVENUE"}
}

// InterestRevenue collects interest accrued on margin loans.
func InterestRevenue(asset string) AccountKey {
	return AccountKey{Category: CategoryRevenue, Segment: SegmentSystem, ID: "INTEREST", Asset: strings.ToUpper(asset), SubAccount: "INCOME"}
}

// InsuranceFund absorbs liquidation penalties.
func InsuranceFund(asset string) AccountKey {
	return AccountKey{Category: CategoryEquity, Segment: SegmentSystem, ID: "INSURANCE", Asset: strings.ToUpper(asset), SubAccount: "MAIN"}
}

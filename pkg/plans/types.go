package plans

// Tier identifies a plan tier. Tiers are totally ordered by Rank.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Rank returns the tier's position in the upgrade order.
// Unknown tiers rank below free so they never pass as upgrades.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPro:
		return 1
	case TierEnterprise:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the tier is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Dimension represents a countable tenant resource type.
type Dimension string

const (
	DimStorehouses         Dimension = "storehouses"
	DimUsers               Dimension = "users"
	DimItems               Dimension = "items"
	DimMonthlyTransactions Dimension = "monthly_transactions"
)

// Dimensions lists all limit dimensions in display order.
func Dimensions() []Dimension {
	return []Dimension{DimStorehouses, DimUsers, DimItems, DimMonthlyTransactions}
}

const (
	// Unlimited indicates no limit for a dimension (-1 chosen for SQL compatibility).
	Unlimited int64 = -1
)

// Feature represents a plan-specific capability that can be enabled/disabled.
type Feature string

const (
	FeatureTransfers       Feature = "transfers"
	FeatureCustomRoles     Feature = "custom_roles"
	FeatureAdvancedReports Feature = "advanced_reports"
)

// Features lists all known feature flags.
func Features() []Feature {
	return []Feature{FeatureTransfers, FeatureCustomRoles, FeatureAdvancedReports}
}

// Money represents a monetary amount in the smallest currency unit.
// $29.00 USD is Money{Amount: 2900, Currency: "USD"}.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

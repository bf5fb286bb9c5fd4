package plans

// DefaultCatalog returns the built-in plan catalog. Deployments normally load
// the catalog from a YAML file; this is the fallback and the fixture used in
// tests.
func DefaultCatalog() []Plan {
	return []Plan{
		{
			Tier:        TierFree,
			Name:        "Free",
			Description: "Single storehouse for small teams getting started.",
			Limits: map[Dimension]int64{
				DimStorehouses:         1,
				DimUsers:               2,
				DimItems:               100,
				DimMonthlyTransactions: 100,
			},
			Features:     map[Feature]bool{},
			MonthlyPrice: Money{Amount: 0, Currency: "USD"},
			AnnualPrice:  Money{Amount: 0, Currency: "USD"},
		},
		{
			Tier:        TierPro,
			Name:        "Pro",
			Description: "Growing businesses with multiple storehouses and transfers.",
			Limits: map[Dimension]int64{
				DimStorehouses:         2,
				DimUsers:               5,
				DimItems:               5000,
				DimMonthlyTransactions: 2000,
			},
			Features: map[Feature]bool{
				FeatureTransfers: true,
			},
			MonthlyPrice: Money{Amount: 2900, Currency: "USD"},
			AnnualPrice:  Money{Amount: 29000, Currency: "USD"},
		},
		{
			Tier:        TierEnterprise,
			Name:        "Enterprise",
			Description: "Full platform: unlimited inventory, custom roles, advanced reporting.",
			Limits: map[Dimension]int64{
				DimStorehouses:         5,
				DimUsers:               25,
				DimItems:               Unlimited,
				DimMonthlyTransactions: Unlimited,
			},
			Features: map[Feature]bool{
				FeatureTransfers:       true,
				FeatureCustomRoles:     true,
				FeatureAdvancedReports: true,
			},
			MonthlyPrice: Money{Amount: 9900, Currency: "USD"},
			AnnualPrice:  Money{Amount: 99000, Currency: "USD"},
		},
	}
}

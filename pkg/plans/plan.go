package plans

import "maps"

// Plan describes a subscription tier and its resource/feature constraints.
// One immutable Plan exists per tier.
type Plan struct {
	Tier         Tier                `json:"tier" yaml:"tier"`
	Name         string              `json:"name" yaml:"name"`
	Description  string              `json:"description,omitempty" yaml:"description,omitempty"`
	Limits       map[Dimension]int64 `json:"limits" yaml:"limits"`     // -1 represents unlimited
	Features     map[Feature]bool    `json:"features" yaml:"features"` // absent means disabled
	MonthlyPrice Money               `json:"monthly_price" yaml:"monthly_price"`
	AnnualPrice  Money               `json:"annual_price" yaml:"annual_price"`
}

// Limit returns the plan's limit for a dimension.
// Dimensions missing from the catalog are treated as unlimited.
func (p Plan) Limit(dim Dimension) int64 {
	if limit, ok := p.Limits[dim]; ok {
		return limit
	}
	return Unlimited
}

// HasFeature reports whether the plan enables the feature.
func (p Plan) HasFeature(f Feature) bool {
	return p.Features[f]
}

// IsFree reports whether the plan is the unpaid tier.
func (p Plan) IsFree() bool {
	return p.Tier == TierFree
}

func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Features = maps.Clone(p.Features)
	return p
}

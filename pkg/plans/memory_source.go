package plans

import "context"

type inMemSource struct {
	plans []Plan
}

// NewInMemSource returns a Source backed by a deep copy of the given plans.
// Panics if no plans are provided so the registry always has a catalog.
func NewInMemSource(list ...Plan) Source {
	if len(list) < 1 {
		panic("plans: at least one plan is required")
	}
	plansCopy := make([]Plan, 0, len(list))
	for _, plan := range list {
		plansCopy = append(plansCopy, plan.clone())
	}
	return &inMemSource{plans: plansCopy}
}

// Load returns a copy of the catalog so callers cannot mutate the source.
func (s *inMemSource) Load(ctx context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, plan.clone())
	}
	return out, nil
}

package plans

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads the plan catalog from a YAML file.
//
// Expected document shape:
//
//	plans:
//	  - tier: free
//	    name: Free
//	    limits:
//	      storehouses: 1
//	      users: 2
//	    features:
//	      transfers: false
//	    monthly_price: {amount: 0, currency: USD}
//	    annual_price: {amount: 0, currency: USD}
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(ctx context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	return doc.Plans, nil
}

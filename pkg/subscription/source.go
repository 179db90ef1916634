package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory source holding a copy of the given plans.
// Panics if no plans are provided to ensure the engine always has at least one valid plan.
func NewInMemSource(plans ...Plan) PlansListSource {
	if len(plans) < 1 {
		panic("subscription: at least one plan is required")
	}
	byID := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		byID[plan.ID] = plan
	}
	return &inMemSource{plans: byID}
}

// Load returns a copy of all available plans from memory.
func (s *inMemSource) Load(_ context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plans), nil
}

// plansFile is the on-disk layout of a plan catalog.
//
//	plans:
//	  - id: price_pro_monthly
//	    name: Pro
//	    price: {amount: 2900, currency: USD}
//	    interval: monthly
//	    trial_days: 14
type plansFile struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a source that reads the plan catalog from a YAML file on every Load.
func NewYAMLSource(path string) PlansListSource {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(_ context.Context) (map[string]Plan, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plans file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodePlansYAML(f)
}

// DecodePlansYAML decodes a plan catalog. Duplicate plan IDs are rejected.
func DecodePlansYAML(r io.Reader) (map[string]Plan, error) {
	var file plansFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make(map[string]Plan, len(file.Plans))
	for _, plan := range file.Plans {
		if _, exists := plans[plan.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan ID %q", plan.ID))
		}
		plans[plan.ID] = plan
	}
	return plans, nil
}

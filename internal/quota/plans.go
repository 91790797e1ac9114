package quota

import (
	_ "embed"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/carrier-cli/internal/model"
)

//go:embed plans.yaml
var plansYAML []byte

// PlanSpec describes one subscription plan.
type PlanSpec struct {
	Name       model.Plan `yaml:"name"`
	DailyLimit int        `yaml:"daily_limit"`
	Price      string     `yaml:"price"`
}

var loadPlans = sync.OnceValues(func() ([]PlanSpec, error) {
	var doc struct {
		Plans []PlanSpec `yaml:"plans"`
	}
	if err := yaml.Unmarshal(plansYAML, &doc); err != nil {
		return nil, err
	}
	return doc.Plans, nil
})

// Plans returns the plan catalog in ascending order of ceiling.
func Plans() []PlanSpec {
	plans, err := loadPlans()
	if err != nil {
		panic("quota: invalid embedded plan catalog: " + err.Error())
	}
	return plans
}

// LimitFor returns the daily ceiling for plan. Unknown plans get the Free
// ceiling.
func LimitFor(plan model.Plan) int {
	plans := Plans()
	for _, p := range plans {
		if p.Name == plan {
			return p.DailyLimit
		}
	}
	for _, p := range plans {
		if p.Name == model.PlanFree {
			return p.DailyLimit
		}
	}
	return 0
}

package setup

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/devlab-cloud/labctl/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed plan.yaml
var defaultPlan []byte

// LoadPlan returns the embedded default setup plan, or the plan from
// path when one is given.
func LoadPlan(path string) (models.SetupPlan, error) {
	content := defaultPlan

	if path != "" {
		var err error
		content, err = os.ReadFile(path)
		if err != nil {
			return models.SetupPlan{}, fmt.Errorf("failed to read setup plan: %w", err)
		}
	}

	plan := models.SetupPlan{}
	if err := yaml.Unmarshal(content, &plan); err != nil {
		return models.SetupPlan{}, fmt.Errorf("failed to unmarshal setup plan: %w", err)
	}

	if plan.User.Name == "" {
		plan.User.Name = "dev"
	}

	return plan, nil
}

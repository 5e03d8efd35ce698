package scenario

import (
	"github.com/samber/lo"

	"chatline/internal/config"
	"chatline/internal/scope"
)

// Models resolves per-scenario models from scope overrides and the global
// configuration.
type Models struct {
	cfg config.ModelsConfig
}

// NewModels creates a resolver over the global model configuration.
func NewModels(cfg config.ModelsConfig) *Models {
	return &Models{cfg: cfg}
}

// Configured returns the scope override or the global model for scenario,
// or "" when neither is set.
func (m *Models) Configured(scenario string, s scope.Settings) string {
	if model := s.ScenarioModel(scenario); model != "" {
		return model
	}
	return m.cfg.Scenario(scenario)
}

// ForScenario is Configured falling back to the default model.
func (m *Models) ForScenario(scenario string, s scope.Settings) string {
	if model := m.Configured(scenario, s); model != "" {
		return model
	}
	return m.cfg.Default
}

// Candidates returns primary followed by the configured fallbacks, without
// blanks or duplicates.
func (m *Models) Candidates(primary string) []string {
	return lo.Uniq(lo.Compact(append([]string{primary}, m.cfg.Fallbacks...)))
}

// Default returns the global default model.
func (m *Models) Default() string {
	return m.cfg.Default
}

package policy

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/steward/internal/model"
)

//go:embed templates/minimal.yaml
var minimalYAML []byte

//go:embed templates/conservative.yaml
var conservativeYAML []byte

//go:embed templates/standard.yaml
var standardYAML []byte

//go:embed templates/elevated.yaml
var elevatedYAML []byte

//go:embed templates/full.yaml
var fullYAML []byte

// builtinTemplates maps autonomy levels to their embedded YAML content.
var builtinTemplates = map[model.AutonomyLevel][]byte{
	model.AutonomyMinimal:      minimalYAML,
	model.AutonomyConservative: conservativeYAML,
	model.AutonomyStandard:     standardYAML,
	model.AutonomyElevated:     elevatedYAML,
	model.AutonomyFull:         fullYAML,
}

// TemplateFor returns the policy template for a named autonomy level.
// Unknown levels fall back to the system default — absence of data never
// increases autonomy.
func TemplateFor(level model.AutonomyLevel) model.AutonomyPolicy {
	raw, ok := builtinTemplates[level]
	if !ok {
		return SystemDefault()
	}
	var p model.AutonomyPolicy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return SystemDefault()
	}
	return p
}

// SystemDefault is the maximally restrictive policy used when nothing else
// resolves: near-zero auto risk and approval required for every mutating
// action type.
func SystemDefault() model.AutonomyPolicy {
	return model.AutonomyPolicy{
		Level:       model.AutonomyMinimal,
		MaxAutoRisk: 0.1,
		RequireApprovalFor: []string{
			"write_file", "edit_code", "update_config",
			"deploy_staging", "deploy_prod", "migrate_schema",
			"delete_data", "manage_access", "send_notification",
			"run_tests",
		},
		Blocked: nil,
	}
}

// DefaultRoleLevels maps actor roles to autonomy levels. Unknown roles map to
// minimal.
func DefaultRoleLevels() map[string]model.AutonomyLevel {
	return map[string]model.AutonomyLevel{
		"owner":      model.AutonomyElevated,
		"admin":      model.AutonomyElevated,
		"engineer":   model.AutonomyStandard,
		"operator":   model.AutonomyConservative,
		"contractor": model.AutonomyConservative,
		"agent":      model.AutonomyMinimal,
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyInitCmd)
	policyCmd.AddCommand(policyShowCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Autonomy policy operations",
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a starter policy file with comments",
	Long:  "Writes a commented policy file at the --policy path. Edit it to grant or\nrestrict autonomy per actor, org, and scope.",
	RunE:  runPolicyInit,
}

var policyShowCmd = &cobra.Command{
	Use:   "show <actor> <org> [scope]",
	Short: "Print the effective policy for an actor",
	Long:  "Resolves the policy the gate would use: scoped policy, then actor+org,\nthen role template, then the system default.",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runPolicyShow,
}

const starterPolicyYAML = `# steward autonomy policy
#
# Resolution order per evaluation: scoped policy, actor+org policy, role
# template, system default (minimal).
#
# Levels: minimal, conservative, standard, elevated, full.

policies:
  - actor: agent-1
    org: example
    level: standard
    max_auto_risk: 0.4
    auto_allowed:
      - read_data
      - run_tests
    require_approval_for:
      - deploy_prod
      - migrate_schema
      - manage_access
    blocked:
      - delete_data

# Optional role-to-level overrides, merged over the built-in defaults.
roles:
  engineer: standard
  contractor: conservative
`

func runPolicyInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(policyPath); err == nil {
		return fmt.Errorf("policy file already exists at %s", policyPath)
	}
	if err := os.WriteFile(policyPath, []byte(starterPolicyYAML), 0o644); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}
	fmt.Printf("Created %s\n", policyPath)
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	scope := ""
	if len(args) == 3 {
		scope = args[2]
	}

	p := e.policies.GetPolicy(args[0], args[1], scope)
	out, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("policy file hash: %s\n", e.policyHash)
	return nil
}

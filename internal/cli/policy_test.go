package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/steward/internal/policy"
)

func TestRunPolicyInit(t *testing.T) {
	tmpDir := t.TempDir()

	origPolicy := policyPath
	policyPath = filepath.Join(tmpDir, "steward-policy.yaml")
	defer func() { policyPath = origPolicy }()

	if err := runPolicyInit(nil, nil); err != nil {
		t.Fatalf("runPolicyInit failed: %v", err)
	}

	data, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("policy file not created: %v", err)
	}
	if !strings.Contains(string(data), "max_auto_risk") {
		t.Error("starter policy missing max_auto_risk")
	}
	if !strings.Contains(string(data), "roles:") {
		t.Error("starter policy missing roles section")
	}

	// The starter file must parse and load cleanly.
	cfg, _, err := policy.LoadConfigWithHash(policyPath)
	if err != nil {
		t.Fatalf("starter policy does not parse: %v", err)
	}
	cfg.Apply(policy.NewStore(nil))
}

func TestRunPolicyInitNoOverwrite(t *testing.T) {
	tmpDir := t.TempDir()

	origPolicy := policyPath
	policyPath = filepath.Join(tmpDir, "steward-policy.yaml")
	defer func() { policyPath = origPolicy }()

	sentinel := "# existing config\n"
	if err := os.WriteFile(policyPath, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runPolicyInit(nil, nil); err == nil {
		t.Fatal("init must refuse to overwrite an existing policy file")
	}

	data, _ := os.ReadFile(policyPath)
	if string(data) != sentinel {
		t.Error("existing policy file was modified")
	}
}

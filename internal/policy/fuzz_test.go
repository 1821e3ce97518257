package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzLoadConfig(f *testing.F) {
	f.Add([]byte(`policies:
  - actor: deploy-bot
    org: acme
    level: standard
    max_auto_risk: 0.3
    blocked: [delete_data]
roles:
  engineer: elevated
`))
	f.Add([]byte{})
	f.Add([]byte(`{{{not yaml at all`))
	f.Add([]byte(`policies: "wrong type"`))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Skip()
		}

		// Must not panic on any input; a parsed config must be applicable.
		cfg, _, err := LoadConfigWithHash(path)
		if err != nil {
			return
		}
		cfg.Apply(NewStore(nil))
	})
}

package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/steward/internal/model"
)

// FileConfig is the on-disk policy document: explicit per-actor policies plus
// an optional role-to-level override map.
type FileConfig struct {
	Policies []model.AutonomyPolicy         `yaml:"policies"`
	Roles    map[string]model.AutonomyLevel `yaml:"roles,omitempty"`
}

// LoadConfig loads stored policies from a YAML file. A missing file yields an
// empty config; invalid YAML returns an error.
func LoadConfig(path string) (*FileConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the policy file and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk; when no file exists
// the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*FileConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) || path == "" {
			h := sha256.Sum256(nil)
			return &FileConfig{}, "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}
	return &cfg, hash, nil
}

// Apply loads the file config into a store: stored policies first, then role
// overrides.
func (c *FileConfig) Apply(s *Store) {
	for _, p := range c.Policies {
		s.Put(p)
	}
	if len(c.Roles) > 0 {
		merged := DefaultRoleLevels()
		for role, level := range c.Roles {
			merged[role] = level
		}
		s.SetRoleLevels(merged)
	}
}

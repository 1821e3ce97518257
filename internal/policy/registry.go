package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoleResolver looks up the role an actor holds within an org. Used only for
// deriving default policies when nothing is stored for the actor.
type RoleResolver interface {
	RoleOf(actor, org string) string
}

// ActorConfig describes one registered actor in the registry file.
type ActorConfig struct {
	Role string   `yaml:"role" json:"role"`
	Orgs []string `yaml:"orgs,omitempty" json:"orgs,omitempty"`
}

// Registry maps actor IDs to their configurations and implements
// RoleResolver. An actor restricted to specific orgs has no role elsewhere.
type Registry struct {
	actors map[string]*ActorConfig
}

// NewRegistry creates a Registry from an actors config map.
func NewRegistry(actors map[string]*ActorConfig) *Registry {
	if actors == nil {
		actors = make(map[string]*ActorConfig)
	}
	return &Registry{actors: actors}
}

// LoadRegistry reads an actor registry YAML file. A missing file yields an
// empty registry, not an error.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil), nil
		}
		return nil, fmt.Errorf("failed to read actor registry: %w", err)
	}

	var doc struct {
		Actors map[string]*ActorConfig `yaml:"actors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor registry: %w", err)
	}
	return NewRegistry(doc.Actors), nil
}

// RoleOf returns the actor's role in the given org, or "" when the actor is
// unknown or not a member of the org.
func (r *Registry) RoleOf(actor, org string) string {
	cfg := r.actors[actor]
	if cfg == nil {
		return ""
	}
	if len(cfg.Orgs) == 0 {
		return cfg.Role
	}
	for _, o := range cfg.Orgs {
		if o == org {
			return cfg.Role
		}
	}
	return ""
}

// IsRegistered reports whether the actor exists in the registry.
func (r *Registry) IsRegistered(actor string) bool {
	_, ok := r.actors[actor]
	return ok
}

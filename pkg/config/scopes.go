// pkg/config/scopes.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScopeProfiles maps a profile name to the space-delimited PAT scope string it
// grants. Loaded from an optional YAML file:
//
//	profiles:
//	  code-ro: "vso.code"
//	  ci: "vso.code_write vso.build_execute"
type ScopeProfiles struct {
	Profiles map[string]string `yaml:"profiles"`
}

// LoadScopeProfiles reads the profile file; an empty path yields an empty set.
func LoadScopeProfiles(path string) (ScopeProfiles, error) {
	if path == "" {
		return ScopeProfiles{Profiles: map[string]string{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ScopeProfiles{}, fmt.Errorf("scope profiles: %w", err)
	}
	var sp ScopeProfiles
	if err := yaml.Unmarshal(raw, &sp); err != nil {
		return ScopeProfiles{}, fmt.Errorf("scope profiles: %w", err)
	}
	if sp.Profiles == nil {
		sp.Profiles = map[string]string{}
	}
	return sp, nil
}

// Resolve returns the scope string for name, or def when the profile does not
// exist (including the empty name).
func (sp ScopeProfiles) Resolve(name, def string) string {
	if s, ok := sp.Profiles[name]; ok && s != "" {
		return s
	}
	return def
}

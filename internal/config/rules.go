package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/studiovault/internal/catalog"
)

// rulesFile is the on-disk layout of CLEANUP_RULES_FILE:
//
//	rules:
//	  - table: download_entitlements
//	    match: [session_id, filename]
//	    required: true
type rulesFile struct {
	Rules []struct {
		Table    string   `yaml:"table"`
		Match    []string `yaml:"match"`
		Required bool     `yaml:"required"`
	} `yaml:"rules"`
}

// LoadCleanupRules returns the ancillary-table cleanup rules for this
// deployment. An empty path yields catalog.DefaultCleanupRules.
func LoadCleanupRules(path string) ([]catalog.CleanupRule, error) {
	if path == "" {
		return catalog.DefaultCleanupRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cleanup rules: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cleanup rules %s: %w", path, err)
	}

	rules := make([]catalog.CleanupRule, 0, len(f.Rules))
	for i, r := range f.Rules {
		rule := catalog.CleanupRule{
			Table:        r.Table,
			MatchColumns: r.Match,
			Required:     r.Required,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("cleanup rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

package botpolicy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yml
var defaultRulesYAML []byte

// Category groups patterns for operators reading the rules file.
type Category struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// Rules is the on-disk shape of a bot classification policy.
type Rules struct {
	Categories []Category `yaml:"categories"`
	Regexes    []string   `yaml:"regexes"`
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse bot rules: %w", err)
	}
	return rules, nil
}

// LoadRulesFile reads and decodes a rules file.
func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read bot rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// DefaultRules returns the rules shipped with the binary.
func DefaultRules() Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(err)
	}
	return rules
}

// Patterns flattens all categories into one lowercase, de-duplicated list.
func (r Rules) Patterns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, category := range r.Categories {
		for _, p := range category.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

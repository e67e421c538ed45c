// Package guard gates navigation targets by session state and a static role allow-list.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const subtreeSuffix = "/*"

// Rule maps a path pattern to the roles allowed to view it. An empty AllowedRoles
// admits any authenticated role. Patterns are exact paths or subtrees ending in "/*".
type Rule struct {
	Path         string   `yaml:"path" json:"path"`
	AllowedRoles []string `yaml:"allowed_roles,omitempty" json:"allowed_roles,omitempty"`
}

// Allows reports whether role may view the rule's path.
func (r Rule) Allows(role string) bool {
	if len(r.AllowedRoles) == 0 {
		return true
	}
	role = strings.TrimSpace(strings.ToLower(role))
	for _, allowed := range r.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

func (r Rule) matches(p string) bool {
	if base, ok := strings.CutSuffix(r.Path, subtreeSuffix); ok {
		if base == "" {
			return true
		}
		return p == base || strings.HasPrefix(p, base+"/")
	}
	return p == r.Path
}

// Table is an immutable set of rules. Paths not covered by any rule are public.
type Table struct {
	rules []Rule
}

// NewTable validates and normalises rules.
func NewTable(rules []Rule) (*Table, error) {
	seen := make(map[string]struct{}, len(rules))
	normalized := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		p := strings.TrimSpace(rule.Path)
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("guard: rule path %q must start with /", rule.Path)
		}
		if base, ok := strings.CutSuffix(p, subtreeSuffix); ok {
			p = cleanPath(base) + subtreeSuffix
			p = strings.Replace(p, "//*", "/*", 1)
		} else {
			p = cleanPath(p)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("guard: duplicate rule for %s", p)
		}
		seen[p] = struct{}{}
		normalized = append(normalized, Rule{Path: p, AllowedRoles: normalizeRoles(rule.AllowedRoles)})
	}
	// Longest pattern first so the most specific rule wins; exact before subtree.
	sort.SliceStable(normalized, func(i, j int) bool {
		bi := strings.TrimSuffix(normalized[i].Path, subtreeSuffix)
		bj := strings.TrimSuffix(normalized[j].Path, subtreeSuffix)
		if len(bi) != len(bj) {
			return len(bi) > len(bj)
		}
		return !strings.HasSuffix(normalized[i].Path, subtreeSuffix) && strings.HasSuffix(normalized[j].Path, subtreeSuffix)
	})
	return &Table{rules: normalized}, nil
}

// DefaultRules is the KINSI navigation table.
func DefaultRules() []Rule {
	return []Rule{
		{Path: "/userdashboard", AllowedRoles: []string{"user"}},
		{Path: "/vendorpage", AllowedRoles: []string{"vendor"}},
		{Path: "/admin/*", AllowedRoles: []string{"admin"}},
		{Path: "/account"},
	}
}

// DefaultTable returns the table built from DefaultRules.
func DefaultTable() *Table {
	table, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return table
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadTable reads rules from a YAML document of the form
//
//	rules:
//	  - path: /vendorpage
//	    allowed_roles: [vendor]
func LoadTable(file string) (*Table, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("guard: read rules: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("guard: decode rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, errors.New("guard: rules file defines no rules")
	}
	return NewTable(doc.Rules)
}

// Match returns the most specific rule covering p.
func (t *Table) Match(p string) (Rule, bool) {
	p = cleanPath(p)
	for _, rule := range t.rules {
		if rule.matches(p) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the normalised rules in match order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, rule := range t.rules {
		out[i] = Rule{Path: rule.Path, AllowedRoles: append([]string(nil), rule.AllowedRoles...)}
	}
	return out
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func normalizeRoles(roles []string) []string {
	unique := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(strings.ToLower(r))
		if r == "" {
			continue
		}
		if _, ok := unique[r]; ok {
			continue
		}
		unique[r] = struct{}{}
		normalized = append(normalized, r)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

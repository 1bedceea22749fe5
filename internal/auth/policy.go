package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/session-gate/internal/domain"
)

// Rule protects every path starting with Prefix.
// An empty Roles set with Authenticated means any signed-in principal is allowed.
type Rule struct {
	Prefix        string        `yaml:"prefix"`
	Roles         []domain.Role `yaml:"roles"`
	Authenticated bool          `yaml:"authenticated"`
}

// Allows reports whether role may access paths under this rule.
func (r Rule) Allows(role domain.Role) bool {
	if len(r.Roles) == 0 {
		return r.Authenticated
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// AccessPolicy is the ordered route table enforced by the gate.
type AccessPolicy struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultPolicy is the route table used when no policy file is configured.
func DefaultPolicy() AccessPolicy {
	admins := []domain.Role{domain.RoleAdmin}
	return AccessPolicy{Rules: []Rule{
		{Prefix: "/admin", Roles: admins},
		{Prefix: "/test-api", Roles: admins},
		{Prefix: "/api/admin", Roles: admins},
		{Prefix: "/users", Roles: []domain.Role{domain.RoleAdmin, domain.RoleModerator}},
		{Prefix: "/support", Roles: []domain.Role{domain.RoleAdmin, domain.RoleSupport}},
		{Prefix: "/account", Authenticated: true},
	}}
}

// Match returns the most specific rule whose prefix matches path.
// Prefixes match as plain string prefixes, so "/admin" also covers "/administration".
func (p AccessPolicy) Match(path string) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, rule := range p.Rules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		if !found || len(rule.Prefix) > len(best.Prefix) {
			best, found = rule, true
		}
	}
	return best, found
}

// Validate rejects rules that could never be satisfied or are ambiguous.
func (p AccessPolicy) Validate() error {
	seen := make(map[string]struct{}, len(p.Rules))
	for i, rule := range p.Rules {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("rule %d: prefix %q must start with /", i, rule.Prefix)
		}
		if rule.Prefix != strings.ToLower(rule.Prefix) {
			return fmt.Errorf("rule %d: prefix %q must be lowercase", i, rule.Prefix)
		}
		if _, dup := seen[rule.Prefix]; dup {
			return fmt.Errorf("rule %d: duplicate prefix %q", i, rule.Prefix)
		}
		seen[rule.Prefix] = struct{}{}
		if len(rule.Roles) == 0 && !rule.Authenticated {
			return fmt.Errorf("rule %d: %q needs roles or authenticated: true", i, rule.Prefix)
		}
		for _, role := range rule.Roles {
			if !role.Valid() {
				return fmt.Errorf("rule %d: unknown role %q", i, role)
			}
		}
	}
	return nil
}

// LoadPolicy reads a YAML route table. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (AccessPolicy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return AccessPolicy{}, fmt.Errorf("read policy: %w", err)
	}
	var policy AccessPolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return AccessPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return AccessPolicy{}, err
	}
	return policy, nil
}

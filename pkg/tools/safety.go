package tools

import "fmt"

// SafetyPolicy restricts which tools a plan may invoke. Deny rules win over
// the allowlist; an empty AllowTools means every non-denied tool is allowed.
type SafetyPolicy struct {
	AllowTools   map[string]bool
	DenyTools    map[string]bool
	DenyPrefixes []string
}

// DefaultSafetyPolicy denies the engine's own control surface so a plan can
// never launch or cancel other plans through the tool boundary.
func DefaultSafetyPolicy() *SafetyPolicy {
	return &SafetyPolicy{
		DenyTools: map[string]bool{
			"plan_execute":  true,
			"plan_validate": true,
			"plan_status":   true,
			"plan_cancel":   true,
		},
		DenyPrefixes: []string{"plan_", "planner_"},
	}
}

// Check returns an error when name must not be invoked.
func (p *SafetyPolicy) Check(name string) error {
	if p == nil {
		return nil
	}
	for _, pfx := range p.DenyPrefixes {
		if len(name) >= len(pfx) && name[:len(pfx)] == pfx {
			return fmt.Errorf("tool %q is not allowed", name)
		}
	}
	if p.DenyTools[name] {
		return fmt.Errorf("tool %q is not allowed", name)
	}
	if len(p.AllowTools) > 0 && !p.AllowTools[name] {
		return fmt.Errorf("tool %q not in allowlist", name)
	}
	return nil
}

package engine

import (
	"log"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"permhub/internal/directory"
)

// Protector decides whether a (user, resource) pair is protected: always
// resolved to the maximum level and not independently editable. Built-ins:
// admins are protected on every resource, and the profile panel is
// protected for everyone (a user must always be able to reach logout).
// Deployments can add rules as expr expressions over {user, resource}.
type Protector struct {
	rules []compiledRule
}

type compiledRule struct {
	source  string
	program *vm.Program
}

// NewProtector compiles the configured protection rules. A rule that fails
// to compile is logged and skipped; a skipped rule can only fail to protect
// a pair, never grant access, so startup proceeds.
func NewProtector(ruleExprs []string) *Protector {
	p := &Protector{}
	for _, src := range ruleExprs {
		program, err := expr.Compile(src, expr.AsBool())
		if err != nil {
			log.Printf("WARN: protection rule %q does not compile, skipping: %v", src, err)
			continue
		}
		p.rules = append(p.rules, compiledRule{source: src, program: program})
	}
	return p
}

// IsProtected reports whether the pair is protected.
func (p *Protector) IsProtected(user directory.User, res directory.Resource) bool {
	if user.IsAdmin {
		return true
	}
	if res.ID == directory.ProfilePanelID {
		return true
	}
	if len(p.rules) == 0 {
		return false
	}

	env := map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"name":     user.Name,
			"is_admin": user.IsAdmin,
		},
		"resource": map[string]any{
			"id":   res.ID,
			"name": res.Name,
			"type": string(res.Type),
		},
	}
	for _, rule := range p.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			log.Printf("WARN: protection rule %q failed: %v", rule.source, err)
			continue
		}
		if ok, _ := result.(bool); ok {
			return true
		}
	}
	return false
}

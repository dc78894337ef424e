package permit

import "time"

// ============================================================================
// FLUENT BUILDERS
// ============================================================================

// RuleBuilder assembles a PolicyRule.
type RuleBuilder struct {
	rule PolicyRule
}

func NewRule() *RuleBuilder { return &RuleBuilder{rule: PolicyRule{Effect: EffectAllow}} }

func (b *RuleBuilder) Subject(s string) *RuleBuilder    { b.rule.Subject = s; return b }
func (b *RuleBuilder) Resource(r string) *RuleBuilder   { b.rule.Resource = r; return b }
func (b *RuleBuilder) Action(a Action) *RuleBuilder     { b.rule.Action = a; return b }
func (b *RuleBuilder) Allow() *RuleBuilder              { b.rule.Effect = EffectAllow; return b }
func (b *RuleBuilder) Deny() *RuleBuilder               { b.rule.Effect = EffectDeny; return b }
func (b *RuleBuilder) Priority(p Priority) *RuleBuilder { b.rule.Priority = p; return b }
func (b *RuleBuilder) Domain(d Domain) *RuleBuilder     { b.rule.Domain = d; return b }
func (b *RuleBuilder) Build() PolicyRule                { return b.rule }

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	policy Policy
}

func NewPolicy(id string) *PolicyBuilder { return &PolicyBuilder{policy: Policy{ID: id}} }

func (b *PolicyBuilder) Domain(d Domain) *PolicyBuilder { b.policy.Domain = d; return b }

func (b *PolicyBuilder) Rule(rule PolicyRule) *PolicyBuilder {
	b.policy.Rules = append(b.policy.Rules, rule)
	return b
}

// Allow appends an allow rule for the triple.
func (b *PolicyBuilder) Allow(subject, resource string, action Action) *PolicyBuilder {
	return b.Rule(PolicyRule{Subject: subject, Resource: resource, Action: action, Effect: EffectAllow})
}

// Deny appends a deny rule for the triple.
func (b *PolicyBuilder) Deny(subject, resource string, action Action) *PolicyBuilder {
	return b.Rule(PolicyRule{Subject: subject, Resource: resource, Action: action, Effect: EffectDeny})
}

func (b *PolicyBuilder) Build() *Policy {
	p := b.policy
	return &p
}

// ScopeBuilder assembles a DelegationScope.
type ScopeBuilder struct {
	scope DelegationScope
}

func NewScope() *ScopeBuilder { return &ScopeBuilder{} }

func (b *ScopeBuilder) Resources(rs ...string) *ScopeBuilder {
	b.scope.Resources = append(b.scope.Resources, rs...)
	return b
}

func (b *ScopeBuilder) Actions(as ...Action) *ScopeBuilder {
	b.scope.Actions = append(b.scope.Actions, as...)
	return b
}

func (b *ScopeBuilder) Domain(d Domain) *ScopeBuilder { b.scope.Domain = d; return b }
func (b *ScopeBuilder) Build() DelegationScope        { return b.scope }

// Until is a convenience for WithExpiry relative to now.
func Until(d time.Duration) DelegateOption {
	return WithExpiry(time.Now().Add(d))
}

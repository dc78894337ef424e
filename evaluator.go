package permit

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// EFFECT RESOLUTION
// ============================================================================

// ResolveEffect folds a set of matched rules into a single effect. No rules
// means deny (default-deny), and a single matching deny overrides any number
// of allows regardless of rule priority or order.
func ResolveEffect(rules []PolicyRule) Effect {
	if len(rules) == 0 {
		return EffectDeny
	}
	for _, rule := range rules {
		if rule.Effect == EffectDeny {
			return EffectDeny
		}
	}
	return EffectAllow
}

// ============================================================================
// EVALUATORS
// ============================================================================

// Evaluator runs a matcher over a policy's rules and resolves the outcome.
// An IndexedMatcher gets the rule set indexed before each scan, so candidate
// narrowing and the deny short-circuit apply to per-request policies too.
type Evaluator struct {
	matcher RuleMatcher
}

func NewEvaluator(matcher RuleMatcher) *Evaluator {
	if matcher == nil {
		matcher = NewACLMatcher()
	}
	return &Evaluator{matcher: matcher}
}

// Evaluate returns the effect of a policy for a request triple.
func (e *Evaluator) Evaluate(policy *Policy, subject *Subject, resource *Resource, action Action) Effect {
	if policy == nil {
		return EffectDeny
	}
	if m, ok := e.matcher.(*IndexedMatcher); ok {
		m.IndexRules(policy.Rules)
		return m.EvaluateIndexed(subject, resource, action)
	}
	return ResolveEffect(e.MatchedRules(policy, subject, resource, action))
}

// MatchedRules returns every rule of the policy that matches the request,
// in policy order.
func (e *Evaluator) MatchedRules(policy *Policy, subject *Subject, resource *Resource, action Action) []PolicyRule {
	if policy == nil {
		return nil
	}
	rules := policy.Rules
	if m, ok := e.matcher.(*IndexedMatcher); ok {
		m.IndexRules(rules)
		rules = m.CandidateRules(subject, resource, action)
	}
	var matched []PolicyRule
	for i := range rules {
		if e.matcher.Matches(&rules[i], subject, resource, action) {
			matched = append(matched, rules[i])
		}
	}
	return matched
}

// ----------------------------------------------------------------------------
// Delegation-aware evaluation
// ----------------------------------------------------------------------------

// DelegationAwareEvaluator consults active delegations when the direct policy
// does not allow a request. A direct allow short-circuits; delegation lookup
// failures surface as errors rather than silently degrading to the direct
// result.
//
// By default a delegated grant wins even when the direct policy carried an
// explicitly matching deny rule; respectExplicitDeny restores strict
// deny-override across both sources.
type DelegationAwareEvaluator struct {
	base                *Evaluator
	manager             *DelegationManager
	respectExplicitDeny bool
}

func NewDelegationAwareEvaluator(base *Evaluator, manager *DelegationManager) *DelegationAwareEvaluator {
	if base == nil {
		base = NewEvaluator(nil)
	}
	return &DelegationAwareEvaluator{base: base, manager: manager}
}

// RespectExplicitDeny makes an explicitly matching deny rule final: no
// delegation can override it.
func (e *DelegationAwareEvaluator) RespectExplicitDeny(v bool) *DelegationAwareEvaluator {
	e.respectExplicitDeny = v
	return e
}

func (e *DelegationAwareEvaluator) Evaluate(ctx context.Context, policy *Policy, subject *Subject, resource *Resource, action Action) (Effect, error) {
	effect, _, err := e.EvaluateWithSource(ctx, policy, subject, resource, action)
	return effect, err
}

// EvaluateWithSource additionally reports whether the allow came from a
// delegation rather than the direct policy. Strict mode needs the matched
// rules to tell an explicit deny from a default deny; the default mode only
// needs the effect, letting an indexed matcher short-circuit the scan.
func (e *DelegationAwareEvaluator) EvaluateWithSource(ctx context.Context, policy *Policy, subject *Subject, resource *Resource, action Action) (Effect, bool, error) {
	if e.respectExplicitDeny {
		matched := e.base.MatchedRules(policy, subject, resource, action)
		if ResolveEffect(matched) == EffectAllow {
			return EffectAllow, false, nil
		}
		for _, rule := range matched {
			if rule.Effect == EffectDeny {
				return EffectDeny, false, nil
			}
		}
	} else if e.base.Evaluate(policy, subject, resource, action) == EffectAllow {
		return EffectAllow, false, nil
	}
	if e.manager == nil || subject == nil {
		return EffectDeny, false, nil
	}

	delegated, err := e.manager.PolicyRules(ctx, subject.ID)
	if err != nil {
		return EffectDeny, false, fmt.Errorf("delegated rules for %s: %w", subject.ID, err)
	}
	if len(delegated) == 0 {
		return EffectDeny, false, nil
	}
	delegatedPolicy := &Policy{Rules: delegated}
	if e.base.Evaluate(delegatedPolicy, subject, resource, action) == EffectAllow {
		return EffectAllow, true, nil
	}
	return EffectDeny, false, nil
}

// ----------------------------------------------------------------------------
// Batch evaluation
// ----------------------------------------------------------------------------

// BatchEvaluator evaluates one subject/action against many resources using a
// single repository round trip.
type BatchEvaluator struct {
	policies  PolicyRepository
	evaluator *Evaluator
}

func NewBatchEvaluator(policies PolicyRepository, evaluator *Evaluator) *BatchEvaluator {
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return &BatchEvaluator{policies: policies, evaluator: evaluator}
}

// EvaluateAll returns an effect per resource id. Resources the repository has
// no policy for evaluate to deny.
func (b *BatchEvaluator) EvaluateAll(ctx context.Context, subject *Subject, resources []*Resource, action Action) (map[string]Effect, error) {
	policies, err := b.policies.GetPoliciesForBatch(ctx, subject, resources)
	if err != nil {
		return nil, fmt.Errorf("batch policy fetch: %w", err)
	}
	results := make(map[string]Effect, len(resources))
	for _, resource := range resources {
		policy, ok := policies[resource.ID]
		if !ok {
			results[resource.ID] = EffectDeny
			continue
		}
		results[resource.ID] = b.evaluator.Evaluate(policy, subject, resource, action)
	}
	return results, nil
}

// ----------------------------------------------------------------------------
// Simulation
// ----------------------------------------------------------------------------

// Simulation captures a dry-run evaluation for inspection or audit tooling.
type Simulation struct {
	Effect        Effect        `json:"effect"`
	Matched       []PolicyRule  `json:"matched"`
	Subject       string        `json:"subject"`
	Resource      string        `json:"resource"`
	Action        Action        `json:"action"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Simulator answers "what would happen if" without touching live stores or
// caches.
type Simulator struct {
	evaluator *Evaluator
}

func NewSimulator(matcher RuleMatcher) *Simulator {
	return &Simulator{evaluator: NewEvaluator(matcher)}
}

func (s *Simulator) Simulate(policy *Policy, subject *Subject, resource *Resource, action Action) *Simulation {
	start := time.Now()
	matched := s.evaluator.MatchedRules(policy, subject, resource, action)
	sim := &Simulation{
		Effect:        ResolveEffect(matched),
		Matched:       matched,
		Action:        action,
		ExecutionTime: time.Since(start),
	}
	if subject != nil {
		sim.Subject = subject.ID
	}
	if resource != nil {
		sim.Resource = resource.ID
	}
	return sim
}

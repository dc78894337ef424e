package permit

import "strings"

// ============================================================================
// POLICY INHERITANCE
// ============================================================================

// ExpandInheritedRules propagates rules on ancestor resources down to a
// descendant identified by a "/"-separated hierarchical id. A rule on
// "folder:123" covers "folder:123/doc:1" because the descendant id starts
// with the ancestor id plus a separator; "folder:1234" does not inherit from
// "folder:123". Wildcard, empty and condition-expression resources never
// act as inheritance prefixes.
//
// The input policy is not modified. Synthesized rules keep every field of
// the original except the resource, which is rewritten to the concrete
// descendant id, and are inserted directly after their originals.
func ExpandInheritedRules(policy *Policy, resource *Resource) *Policy {
	if policy == nil {
		return nil
	}
	expanded := &Policy{ID: policy.ID, Domain: policy.Domain, Rules: make([]PolicyRule, 0, len(policy.Rules))}
	if resource == nil || resource.ID == "" {
		expanded.Rules = append(expanded.Rules, policy.Rules...)
		return expanded
	}
	for _, rule := range policy.Rules {
		expanded.Rules = append(expanded.Rules, rule)
		if !inheritablePrefix(rule.Resource) {
			continue
		}
		if rule.Resource == resource.ID {
			continue
		}
		if strings.HasPrefix(resource.ID, rule.Resource+"/") {
			inherited := rule
			inherited.Resource = resource.ID
			expanded.Rules = append(expanded.Rules, inherited)
		}
	}
	return expanded
}

// inheritablePrefix reports whether a rule resource can act as an ancestor
// prefix: a concrete id with no wildcard and no condition expression.
func inheritablePrefix(res string) bool {
	if res == "" || strings.Contains(res, "*") {
		return false
	}
	return !hasConditionOperator(res)
}

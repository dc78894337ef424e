package permit

// ============================================================================
// POLICY COMPARISON
// ============================================================================

// ComparePolicies diffs two policy versions by rule signature. A rule whose
// effect, priority or domain changed but whose (subject, resource, action)
// triple survived counts as unchanged; the diff answers "who can newly do
// what, and who no longer can".
func ComparePolicies(prev, next *Policy) *PolicyDiff {
	diff := &PolicyDiff{}
	prevSigs := make(map[string]bool)
	if prev != nil {
		for _, rule := range prev.Rules {
			prevSigs[rule.Signature()] = true
		}
	}
	nextSigs := make(map[string]bool)
	if next != nil {
		for _, rule := range next.Rules {
			nextSigs[rule.Signature()] = true
			if prevSigs[rule.Signature()] {
				diff.Unchanged = append(diff.Unchanged, rule)
			} else {
				diff.Added = append(diff.Added, rule)
			}
		}
	}
	if prev != nil {
		for _, rule := range prev.Rules {
			if !nextSigs[rule.Signature()] {
				diff.Removed = append(diff.Removed, rule)
			}
		}
	}
	return diff
}

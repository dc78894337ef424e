package permit

import (
	"sort"
	"strings"
	"sync"
)

// ============================================================================
// INDEXED MATCHING
// ============================================================================

// IndexedMatcher narrows a rule set to candidates via exact-key indexes
// before running the wrapped matcher. Rules with wildcard or pattern fields
// land in catch-all buckets, so the candidate set always contains every rule
// that could match. The index rebuilds atomically: lookups during a rebuild
// see the previous snapshot.
type IndexedMatcher struct {
	base         RuleMatcher
	shortCircuit bool

	mu  sync.RWMutex
	idx *ruleIndex
}

type ruleIndex struct {
	rules []PolicyRule

	bySubject   map[string][]int
	anySubject  []int
	byResource  map[string][]int
	anyResource []int
	byAction    map[Action][]int
	anyAction   []int
}

func NewIndexedMatcher(base RuleMatcher) *IndexedMatcher {
	if base == nil {
		base = NewACLMatcher()
	}
	return &IndexedMatcher{base: base, idx: &ruleIndex{}}
}

// ShortCircuit makes EvaluateIndexed stop at the first matching deny.
func (m *IndexedMatcher) ShortCircuit(v bool) *IndexedMatcher {
	m.shortCircuit = v
	return m
}

// IndexRules builds a fresh index for the rule set and swaps it in.
func (m *IndexedMatcher) IndexRules(rules []PolicyRule) {
	idx := &ruleIndex{
		rules:      append([]PolicyRule(nil), rules...),
		bySubject:  make(map[string][]int),
		byResource: make(map[string][]int),
		byAction:   make(map[Action][]int),
	}
	for i, rule := range idx.rules {
		if exactSubjectKey(rule.Subject) {
			idx.bySubject[rule.Subject] = append(idx.bySubject[rule.Subject], i)
		} else {
			idx.anySubject = append(idx.anySubject, i)
		}
		if exactResourceKey(rule.Resource) {
			idx.byResource[rule.Resource] = append(idx.byResource[rule.Resource], i)
		} else {
			idx.anyResource = append(idx.anyResource, i)
		}
		if rule.Action == "*" {
			idx.anyAction = append(idx.anyAction, i)
		} else {
			idx.byAction[rule.Action] = append(idx.byAction[rule.Action], i)
		}
	}
	m.mu.Lock()
	m.idx = idx
	m.mu.Unlock()
}

// exactSubjectKey reports whether a rule subject can be looked up by exact
// id. Wildcards, role names and condition expressions cannot: a role-carrying
// subject would miss them under its own id, so they go to the catch-all
// bucket. Role names are indistinguishable from ids here, which is why the
// subject index is only used for ACL-shaped rule sets; see CandidateRules.
func exactSubjectKey(s string) bool {
	return s != "" && s != "*" && !hasConditionOperator(s)
}

// exactResourceKey reports whether a rule resource can be looked up by exact
// id. Role names are indistinguishable from ids here, just like on the
// subject side, so resourceCandidates probes the resource's roles too.
func exactResourceKey(s string) bool {
	if s == "" || s == "*" || strings.HasSuffix(s, ":*") {
		return false
	}
	if strings.ContainsAny(s, "*:") && strings.Contains(s, "/") {
		// path pattern ("api/users/:id", "files/*")
		return false
	}
	if strings.Contains(s, "/:") || strings.Contains(s, "/*") || strings.HasPrefix(s, ":") {
		return false
	}
	return !hasConditionOperator(s)
}

// CandidateRules returns the rules whose subject, resource and action
// buckets all admit the request, in original rule order.
func (m *IndexedMatcher) CandidateRules(subject *Subject, resource *Resource, action Action) []PolicyRule {
	m.mu.RLock()
	idx := m.idx
	m.mu.RUnlock()
	if len(idx.rules) == 0 {
		return nil
	}

	subjectSet := bucketSet(idx.subjectCandidates(subject), len(idx.rules))
	resourceSet := bucketSet(idx.resourceCandidates(resource), len(idx.rules))
	actionSet := bucketSet(append(idx.byAction[action], idx.anyAction...), len(idx.rules))

	var out []int
	for i := range subjectSet {
		if subjectSet[i] && resourceSet[i] && actionSet[i] {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	rules := make([]PolicyRule, len(out))
	for n, i := range out {
		rules[n] = idx.rules[i]
	}
	return rules
}

func (idx *ruleIndex) subjectCandidates(subject *Subject) []int {
	var ids []int
	if subject != nil {
		ids = append(ids, idx.bySubject[subject.ID]...)
		for _, role := range subjectRoles(subject) {
			ids = append(ids, idx.bySubject[role]...)
		}
	}
	return append(ids, idx.anySubject...)
}

func (idx *ruleIndex) resourceCandidates(resource *Resource) []int {
	var ids []int
	if resource != nil {
		ids = append(ids, idx.byResource[resource.ID]...)
		for _, role := range toStringList(resource.Attr("roles")) {
			ids = append(ids, idx.byResource[role]...)
		}
	}
	return append(ids, idx.anyResource...)
}

func bucketSet(ids []int, n int) []bool {
	set := make([]bool, n)
	for _, i := range ids {
		set[i] = true
	}
	return set
}

// Matches runs the wrapped matcher over the candidate set only.
func (m *IndexedMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	return m.base.Matches(rule, subject, resource, action)
}

// MatchesWithShortCircuit reports whether the rule matches and, if so, its
// effect. A matched deny lets the caller stop scanning: nothing overrides it.
func (m *IndexedMatcher) MatchesWithShortCircuit(rule *PolicyRule, subject *Subject, resource *Resource, action Action) (Effect, bool) {
	if !m.base.Matches(rule, subject, resource, action) {
		return EffectDeny, false
	}
	return rule.Effect, true
}

// EvaluateIndexed resolves the effect for a request using the index. With
// short-circuiting enabled the scan stops at the first matching deny, since
// no later rule can override it. A matching allow never stops the scan.
func (m *IndexedMatcher) EvaluateIndexed(subject *Subject, resource *Resource, action Action) Effect {
	candidates := m.CandidateRules(subject, resource, action)
	var matched []PolicyRule
	for i := range candidates {
		if !m.base.Matches(&candidates[i], subject, resource, action) {
			continue
		}
		if m.shortCircuit && candidates[i].Effect == EffectDeny {
			return EffectDeny
		}
		matched = append(matched, candidates[i])
	}
	return ResolveEffect(matched)
}

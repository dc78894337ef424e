package permit

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ============================================================================
// RULE MATCHERS
// ============================================================================

// RuleMatcher decides whether a single rule applies to a request triple.
// All matchers are stateless (the path matcher only caches compiled
// patterns) and safe for concurrent use.
type RuleMatcher interface {
	Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool
}

// ----------------------------------------------------------------------------
// ACL
// ----------------------------------------------------------------------------

// ACLMatcher matches rules by literal identity. A wildcard subject only
// matches superusers: a bare "*" rule must never become an accidental
// universal grant.
type ACLMatcher struct{}

func NewACLMatcher() *ACLMatcher { return &ACLMatcher{} }

func (m *ACLMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	return matchSubjectLiteral(rule.Subject, subject) &&
		matchResourceLiteral(rule.Resource, resource) &&
		matchActionLiteral(rule.Action, action)
}

func matchSubjectLiteral(pattern string, subject *Subject) bool {
	if subject == nil {
		return false
	}
	if pattern == "*" {
		return subject.IsSuperuser()
	}
	return pattern == subject.ID
}

// matchResourceLiteral covers the literal forms: empty ("any resource"),
// "*", an exact id, or a "type:*" type wildcard.
func matchResourceLiteral(pattern string, resource *Resource) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if resource == nil {
		return false
	}
	if pattern == resource.ID {
		return true
	}
	if t, ok := strings.CutSuffix(pattern, ":*"); ok {
		return t == resource.Type
	}
	return false
}

func matchActionLiteral(pattern, actual Action) bool {
	return pattern == "*" || pattern == actual
}

// ----------------------------------------------------------------------------
// RBAC
// ----------------------------------------------------------------------------

// RBACMatcher matches a rule subject against the subject's role set, with a
// direct-id fallback so literal subject ids keep working in role-based
// policies. When the subject carries a domain, roles are drawn from
// attrs.domain_roles[domain] instead of attrs.roles.
type RBACMatcher struct{}

func NewRBACMatcher() *RBACMatcher { return &RBACMatcher{} }

func (m *RBACMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	if !m.matchesSubject(rule.Subject, subject) {
		return false
	}
	if !matchResourceLiteral(rule.Resource, resource) && !resourceHasRole(resource, rule.Resource) {
		return false
	}
	return matchActionLiteral(rule.Action, action)
}

func (m *RBACMatcher) matchesSubject(pattern string, subject *Subject) bool {
	if subject == nil {
		return false
	}
	for _, role := range subjectRoles(subject) {
		if role == pattern {
			return true
		}
	}
	return pattern == subject.ID
}

// subjectRoles returns the effective role set. A non-list roles value is
// treated as "no roles", never as an error.
func subjectRoles(s *Subject) []string {
	if s == nil || s.Attrs == nil {
		return nil
	}
	if domain, ok := s.Attrs["domain"].(string); ok && domain != "" {
		if dr, ok := s.Attrs["domain_roles"]; ok {
			return domainRoles(dr, domain)
		}
	}
	return toStringList(s.Attrs["roles"])
}

func domainRoles(v any, domain string) []string {
	switch m := v.(type) {
	case map[string][]string:
		return m[domain]
	case map[string]any:
		return toStringList(m[domain])
	}
	return nil
}

// resourceHasRole treats a non-literal rule resource as a role name the
// resource itself must carry in attrs.roles.
func resourceHasRole(resource *Resource, role string) bool {
	if resource == nil || role == "" {
		return false
	}
	for _, r := range toStringList(resource.Attr("roles")) {
		if r == role {
			return true
		}
	}
	return false
}

func toStringList(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ----------------------------------------------------------------------------
// ABAC
// ----------------------------------------------------------------------------

// ABACMatcher interprets rule subject/resource fields that contain a
// condition operator as expressions for the attribute resolver, and falls
// back to literal ACL matching otherwise.
type ABACMatcher struct {
	resolver *AttributeResolver
}

func NewABACMatcher(resolver *AttributeResolver) *ABACMatcher {
	if resolver == nil {
		resolver = NewAttributeResolver()
	}
	return &ABACMatcher{resolver: resolver}
}

func (m *ABACMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	if hasConditionOperator(rule.Subject) {
		if !m.resolver.EvaluateCondition(rule.Subject, subject, resource) {
			return false
		}
	} else if !matchSubjectLiteral(rule.Subject, subject) {
		return false
	}

	if rule.Resource != "" && hasConditionOperator(rule.Resource) {
		if !m.resolver.EvaluateCondition(rule.Resource, subject, resource) {
			return false
		}
	} else if !matchResourceLiteral(rule.Resource, resource) {
		return false
	}

	return matchActionLiteral(rule.Action, action)
}

// ----------------------------------------------------------------------------
// PATH-BASED (RESTful)
// ----------------------------------------------------------------------------

var httpVerbs = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "DELETE": {},
	"PATCH": {}, "HEAD": {}, "OPTIONS": {},
}

func isHTTPVerb(a Action) bool {
	_, ok := httpVerbs[strings.ToUpper(string(a))]
	return ok
}

// PathMatcher matches rule resources written as path patterns with ":name"
// parameter segments and "*" wildcard segments against hierarchical resource
// ids, e.g. "api/users/:id/documents/*". HTTP verbs match case-insensitively;
// rules with non-HTTP actions are handed to the composed ACL matcher.
// Compiled patterns are cached; a pattern that fails to compile degrades to
// "no match" rather than surfacing the regexp error.
type PathMatcher struct {
	acl      *ACLMatcher
	patterns sync.Map // pattern -> *regexp.Regexp (nil for uncompilable)
}

func NewPathMatcher() *PathMatcher {
	return &PathMatcher{acl: NewACLMatcher()}
}

func (m *PathMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	if !isHTTPVerb(rule.Action) {
		return m.acl.Matches(rule, subject, resource, action)
	}
	if !matchSubjectLiteral(rule.Subject, subject) {
		return false
	}
	if !strings.EqualFold(string(rule.Action), string(action)) {
		return false
	}
	if rule.Resource == "" || rule.Resource == "*" {
		return true
	}
	if resource == nil {
		return false
	}
	re := m.compiled(rule.Resource)
	return re != nil && re.MatchString(resource.ID)
}

func (m *PathMatcher) compiled(pattern string) *regexp.Regexp {
	if v, ok := m.patterns.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re := compilePathPattern(pattern)
	m.patterns.Store(pattern, re)
	return re
}

var pathParamName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compilePathPattern turns a path pattern into an anchored regexp: each
// ":name" segment matches one path segment (as a named capture), each "*"
// segment matches greedily. Returns nil when compilation fails.
func compilePathPattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i, seg := range strings.Split(pattern, "/") {
		if i > 0 {
			b.WriteString("/")
		}
		switch {
		case seg == "*":
			b.WriteString(".*")
		case strings.HasPrefix(seg, ":"):
			if name := seg[1:]; pathParamName.MatchString(name) {
				fmt.Fprintf(&b, "(?P<%s>[^/]+)", name)
			} else {
				b.WriteString("([^/]+)")
			}
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

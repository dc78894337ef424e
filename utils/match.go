package utils

import "strings"

// ExtractType returns the type component of a "type:id" resource identifier.
// For hierarchical ids ("folder:12/doc:9") the type of the last segment is
// returned. Identifiers without a type component yield "".
func ExtractType(resourceID string) string {
	last := resourceID
	if i := strings.LastIndex(resourceID, "/"); i >= 0 {
		last = resourceID[i+1:]
	}
	if i := strings.Index(last, ":"); i >= 0 {
		return last[:i]
	}
	return ""
}

// CouldApply reports whether a stored rule resource could possibly apply to
// the given resource id/type. It is a coarse pre-filter for repository
// candidate selection: it may say yes for rules the matcher later rejects,
// but must never say no for one it would accept. Condition expressions and
// path patterns therefore always pass.
func CouldApply(ruleResource, resourceID, resourceType string) bool {
	switch {
	case ruleResource == "", ruleResource == "*":
		return true
	case ruleResource == resourceID:
		return true
	}
	if t, ok := strings.CutSuffix(ruleResource, ":*"); ok && !strings.Contains(t, "/") {
		return t == resourceType
	}
	// ancestor of a hierarchical id
	if strings.HasPrefix(resourceID, ruleResource+"/") {
		return true
	}
	// anything non-literal is left to the matcher
	if strings.Contains(ruleResource, "*") || hasExpressionShape(ruleResource) {
		return true
	}
	for _, seg := range strings.Split(ruleResource, "/") {
		if strings.HasPrefix(seg, ":") {
			return true
		}
	}
	return false
}

// hasExpressionShape is a cheap test for "looks like a condition expression"
// without pulling in the condition grammar: expressions always contain
// spaces, literal resource ids never do.
func hasExpressionShape(s string) bool {
	return strings.Contains(s, " ")
}

// MatchPattern matches a value against a pattern containing '*' wildcards
// and ':' parameter segments. A parameter matches a single path segment; a
// trailing "/*" matches the whole subtree.
func MatchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if rest, ok := strings.CutSuffix(pattern, "/*"); ok {
		return value == rest || strings.HasPrefix(value, rest+"/")
	}
	vSegs := strings.Split(value, "/")
	pSegs := strings.Split(pattern, "/")
	if len(vSegs) != len(pSegs) {
		return false
	}
	for i, p := range pSegs {
		switch {
		case p == "*" || strings.HasPrefix(p, ":"):
		case p != vSegs[i]:
			return false
		}
	}
	return true
}

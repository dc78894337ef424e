package permit

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// ATTRIBUTE RESOLUTION
// ============================================================================

// AttributeProvider supplies attributes not present on the subject/resource
// itself (e.g. fetched from a directory). Lookups are keyed by object id.
type AttributeProvider interface {
	Attribute(objectID, name string) (any, bool)
}

// AttributeResolver resolves dotted attribute paths ("subject.name",
// "resource.owner", "request.time") and evaluates flat condition expressions.
// Unresolvable paths yield nil and malformed expressions evaluate to false;
// the resolver never errors, because evaluation must always produce an answer.
type AttributeResolver struct {
	providers []AttributeProvider
}

func NewAttributeResolver(providers ...AttributeProvider) *AttributeResolver {
	return &AttributeResolver{providers: providers}
}

// RegisterProvider appends an attribute provider consulted after direct
// fields and the attribute map.
func (r *AttributeResolver) RegisterProvider(p AttributeProvider) {
	r.providers = append(r.providers, p)
}

// Resolve resolves a dotted path against the subject/resource pair. Paths
// must have exactly two segments; "request.time" yields the current time,
// re-evaluated on every call.
func (r *AttributeResolver) Resolve(path string, subject *Subject, resource *Resource) any {
	parts := strings.Split(path, ".")
	if len(parts) != 2 {
		return nil
	}
	root, attr := parts[0], parts[1]
	switch root {
	case "request":
		if attr == "time" {
			return time.Now()
		}
	case "subject":
		if subject == nil {
			return nil
		}
		if attr == "id" {
			return subject.ID
		}
		if subject.Attrs != nil {
			if v, ok := subject.Attrs[attr]; ok {
				return v
			}
		}
		return r.provided(subject.ID, attr)
	case "resource":
		if resource == nil {
			return nil
		}
		switch attr {
		case "id":
			return resource.ID
		case "type":
			return resource.Type
		}
		if resource.Attrs != nil {
			if v, ok := resource.Attrs[attr]; ok {
				return v
			}
		}
		return r.provided(resource.ID, attr)
	}
	return nil
}

func (r *AttributeResolver) provided(objectID, attr string) any {
	for _, p := range r.providers {
		if v, ok := p.Attribute(objectID, attr); ok {
			return v
		}
	}
	return nil
}

// ============================================================================
// CONDITION MINI-LANGUAGE
// ============================================================================

// conditionOperators is the fixed precedence table. Compound tokens come
// before the shorter tokens they contain ("not in" before "in"), and ">="
// before ">". The grammar is deliberately flat: no parentheses, no boolean
// connectives.
var conditionOperators = []string{
	"not in",
	"not contains",
	"startsWith",
	"endsWith",
	"between",
	">=",
	"<=",
	"!=",
	"==",
	">",
	"<",
	"in",
	"contains",
}

// splitCondition splits an expression on the first operator token found when
// scanning the precedence table. Operators must be space-delimited.
func splitCondition(expr string) (left, op, right string, ok bool) {
	for _, tok := range conditionOperators {
		if i := strings.Index(expr, " "+tok+" "); i >= 0 {
			left = strings.TrimSpace(expr[:i])
			right = strings.TrimSpace(expr[i+len(tok)+2:])
			return left, tok, right, true
		}
	}
	return "", "", "", false
}

// hasConditionOperator reports whether s looks like a condition expression
// rather than a literal subject/resource value.
func hasConditionOperator(s string) bool {
	_, _, _, ok := splitCondition(s)
	return ok
}

// EvaluateCondition evaluates a single flat condition such as
// "subject.level >= resource.required_level" or
// "subject.dept in resource.allowed_depts". Expressions with no recognized
// operator evaluate to false.
func (r *AttributeResolver) EvaluateCondition(expr string, subject *Subject, resource *Resource) bool {
	left, op, right, ok := splitCondition(expr)
	if !ok || left == "" || right == "" {
		return false
	}
	lv := r.operand(left, subject, resource)

	switch op {
	case "between":
		bounds := strings.SplitN(right, " and ", 2)
		if len(bounds) != 2 {
			return false
		}
		val, ok1 := toFloat(lv)
		lo, ok2 := toFloat(r.operand(strings.TrimSpace(bounds[0]), subject, resource))
		hi, ok3 := toFloat(r.operand(strings.TrimSpace(bounds[1]), subject, resource))
		return ok1 && ok2 && ok3 && val >= lo && val <= hi
	}

	rv := r.operand(right, subject, resource)
	switch op {
	case "==":
		return strictEqual(lv, rv)
	case "!=":
		return !strictEqual(lv, rv)
	case ">", "<", ">=", "<=":
		cmp, comparable := compareOrdered(lv, rv)
		if !comparable {
			return false
		}
		switch op {
		case ">":
			return cmp > 0
		case "<":
			return cmp < 0
		case ">=":
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case "contains":
		return sliceContains(lv, rv)
	case "not contains":
		arr, ok := toSlice(lv)
		return ok && !containsValue(arr, rv)
	case "in":
		return sliceContains(rv, lv)
	case "not in":
		arr, ok := toSlice(rv)
		return ok && !containsValue(arr, lv)
	case "startsWith":
		ls, ok1 := lv.(string)
		rs, ok2 := rv.(string)
		return ok1 && ok2 && strings.HasPrefix(ls, rs)
	case "endsWith":
		ls, ok1 := lv.(string)
		rs, ok2 := rv.(string)
		return ok1 && ok2 && strings.HasSuffix(ls, rs)
	}
	return false
}

// operand resolves a single operand token: attribute paths are resolved,
// true/false become booleans, numeric literals become int or float64, and
// everything else is a literal string (surrounding quotes stripped).
func (r *AttributeResolver) operand(tok string, subject *Subject, resource *Resource) any {
	if strings.HasPrefix(tok, "subject.") || strings.HasPrefix(tok, "resource.") || strings.HasPrefix(tok, "request.") {
		return r.Resolve(tok, subject, resource)
	}
	switch tok {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f
	}
	return strings.Trim(tok, `"'`)
}

// ============================================================================
// VALUE COMPARISON
// ============================================================================

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// strictEqual mirrors ===-style equality: nil equals nil, numbers compare by
// value across int/float representations, and everything else requires
// matching types.
func strictEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if af, ok := toFloat(a); ok {
		bf, ok2 := toFloat(b)
		return ok2 && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered orders two values when both are numeric or both are strings.
// Numeric strings compare lexicographically; they are not coerced to numbers.
func compareOrdered(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok2 := toFloat(b); ok2 {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch arr := v.(type) {
	case []any:
		return arr, true
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, true
	case []Action:
		out := make([]any, len(arr))
		for i, a := range arr {
			out[i] = string(a)
		}
		return out, true
	case []int:
		out := make([]any, len(arr))
		for i, n := range arr {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(arr))
		for i, f := range arr {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func containsValue(arr []any, v any) bool {
	for _, item := range arr {
		if strictEqual(item, v) {
			return true
		}
	}
	return false
}

func sliceContains(container, v any) bool {
	arr, ok := toSlice(container)
	return ok && containsValue(arr, v)
}

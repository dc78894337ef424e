package stores

import (
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/permit"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqlNullTimeOrNil(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

// scanTime normalizes the driver-dependent timestamp representations sqlite
// and friends hand back.
func scanTime(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t, true
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cloneDelegation(d *permit.Delegation) *permit.Delegation {
	if d == nil {
		return nil
	}
	dup := *d
	if d.ExpiresAt != nil {
		e := *d.ExpiresAt
		dup.ExpiresAt = &e
	}
	if d.RevokedAt != nil {
		r := *d.RevokedAt
		dup.RevokedAt = &r
	}
	dup.Scope.Resources = append([]string(nil), d.Scope.Resources...)
	dup.Scope.Actions = append([]permit.Action(nil), d.Scope.Actions...)
	if d.Metadata != nil {
		md := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			md[k] = v
		}
		dup.Metadata = md
	}
	return &dup
}

func clonePolicy(p *permit.Policy) *permit.Policy {
	if p == nil {
		return nil
	}
	dup := *p
	dup.Rules = append([]permit.PolicyRule(nil), p.Rules...)
	return &dup
}

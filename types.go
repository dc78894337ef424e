package permit

import (
	"errors"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Subject represents who is requesting access
type Subject struct {
	ID    string         `json:"id" yaml:"id"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Attr returns a subject attribute or nil when absent.
func (s *Subject) Attr(name string) any {
	if s == nil || s.Attrs == nil {
		return nil
	}
	return s.Attrs[name]
}

// IsSuperuser reports whether the subject carries the superuser flag.
// Only a boolean true counts; any other value is ignored.
func (s *Subject) IsSuperuser() bool {
	b, ok := s.Attr("superuser").(bool)
	return ok && b
}

// Resource represents what is being accessed. The ID may encode a hierarchy
// using "/" separators (e.g. "folder:123/doc:1").
type Resource struct {
	ID    string         `json:"id" yaml:"id"`
	Type  string         `json:"type" yaml:"type"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Attr returns a resource attribute or nil when absent.
func (r *Resource) Attr(name string) any {
	if r == nil || r.Attrs == nil {
		return nil
	}
	return r.Attrs[name]
}

// Action represents how the resource is being accessed
type Action string

// Effect represents the outcome of a rule or evaluation
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Priority orders rules for comparison and inheritance passes. It never
// participates in effect resolution: a matching deny wins at any priority.
type Priority int

// DelegatedRulePriority is assigned to rules synthesized from delegations.
const DelegatedRulePriority Priority = 50

// Domain identifies an optional multi-tenant scope. The empty string means
// no domain.
type Domain string

// ============================================================================
// POLICY MODEL
// ============================================================================

// PolicyRule is a single access rule. Subject is a literal id, "*", or (for
// ABAC) a condition expression. Resource is a literal id, "*", "type:*", a
// path pattern, a condition expression, or the empty string meaning "any
// resource" (an action-scoped grant such as "create-document"). Rules are
// treated as immutable once added to a Policy.
type PolicyRule struct {
	Subject  string   `json:"subject" yaml:"subject"`
	Resource string   `json:"resource,omitempty" yaml:"resource,omitempty"`
	Action   Action   `json:"action" yaml:"action"`
	Effect   Effect   `json:"effect" yaml:"effect"`
	Priority Priority `json:"priority" yaml:"priority"`
	Domain   Domain   `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Signature identifies a rule for diffing purposes. Effect, priority and
// domain deliberately do not participate.
func (r PolicyRule) Signature() string {
	return r.Subject + "\x1f" + r.Resource + "\x1f" + string(r.Action)
}

// Policy is an ordered sequence of rules. Insertion order is preserved for
// inheritance expansion; effect resolution is order-independent.
type Policy struct {
	ID     string       `json:"id,omitempty" yaml:"id,omitempty"`
	Domain Domain       `json:"domain,omitempty" yaml:"domain,omitempty"`
	Rules  []PolicyRule `json:"rules" yaml:"rules"`
}

// Add appends rules and returns the policy for chaining.
func (p *Policy) Add(rules ...PolicyRule) *Policy {
	p.Rules = append(p.Rules, rules...)
	return p
}

// PolicyDiff is the structural difference between two policies. Rule identity
// is the (subject, resource, action) signature; rules differing only in
// effect, priority or domain count as unchanged.
type PolicyDiff struct {
	Added     []PolicyRule `json:"added"`
	Removed   []PolicyRule `json:"removed"`
	Unchanged []PolicyRule `json:"unchanged"`
}

// ============================================================================
// DELEGATION MODEL
// ============================================================================

// DelegationStatus is the lifecycle state of a delegation record.
type DelegationStatus string

const (
	DelegationActive  DelegationStatus = "active"
	DelegationExpired DelegationStatus = "expired"
	DelegationRevoked DelegationStatus = "revoked"
)

// DelegationScope bounds what a delegation grants. A "*" entry in either
// list is exempt from delegator-permission validation.
type DelegationScope struct {
	Resources []string `json:"resources" yaml:"resources"`
	Actions   []Action `json:"actions" yaml:"actions"`
	Domain    Domain   `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Delegation is a time-bounded, revocable grant of a permission subset from
// one subject to another. Revocation transitions status and stamps RevokedAt;
// records are only ever removed by the retention sweep.
type Delegation struct {
	ID          string           `json:"id" yaml:"id"`
	DelegatorID string           `json:"delegator_id" yaml:"delegator_id"`
	DelegateID  string           `json:"delegate_id" yaml:"delegate_id"`
	Scope       DelegationScope  `json:"scope" yaml:"scope"`
	CreatedAt   time.Time        `json:"created_at" yaml:"created_at"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Transitive  bool             `json:"transitive" yaml:"transitive"`
	Status      DelegationStatus `json:"status" yaml:"status"`
	Metadata    map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	RevokedAt   *time.Time       `json:"revoked_at,omitempty" yaml:"revoked_at,omitempty"`
}

// IsExpired checks if the delegation has passed its expiry
func (d *Delegation) IsExpired() bool {
	return d.ExpiresAt != nil && time.Now().After(*d.ExpiresAt)
}

// IsActive reports whether the delegation currently grants anything.
func (d *Delegation) IsActive() bool {
	return d.Status == DelegationActive && !d.IsExpired()
}

// Decision is the outcome of an Engine authorization call.
type Decision struct {
	Effect    Effect    `json:"effect"`
	Allowed   bool      `json:"allowed"`
	Delegated bool      `json:"delegated"` // granted through a delegation, not the direct policy
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrDelegationInvalid marks delegation validation failures. It prevents
	// persistence and is distinct from an authorization Deny.
	ErrDelegationInvalid = errors.New("delegation validation failed")

	// ErrDelegationNotFound is returned by repositories for unknown ids.
	ErrDelegationNotFound = errors.New("delegation not found")
)

package permit

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PolicyRepository supplies the rules applicable to a subject/resource pair.
// Implementations may filter aggressively or return everything; the evaluator
// re-checks each rule, so over-returning is safe and under-returning is not.
// Storage failures must surface as errors, never as an empty policy: "cannot
// determine" is not "denied".
type PolicyRepository interface {
	GetPoliciesFor(ctx context.Context, subject *Subject, resource *Resource) (*Policy, error)
	GetPoliciesForBatch(ctx context.Context, subject *Subject, resources []*Resource) (map[string]*Policy, error)
	SavePolicy(ctx context.Context, p *Policy) error
	SavePolicies(ctx context.Context, policies []*Policy) error
}

// DelegationRepository manages delegation records.
//
// FindActiveForDelegate and FindActiveByDelegator must return only records
// with status Active and an expiry that is nil or in the future. Revoke is a
// state transition (status Revoked, RevokedAt stamped), never a delete.
// Cleanup removes Expired/Revoked records older than the retention window and
// must never remove Active records; it returns the number removed.
type DelegationRepository interface {
	Create(ctx context.Context, d *Delegation) error
	FindByID(ctx context.Context, id string) (*Delegation, error)
	FindActiveForDelegate(ctx context.Context, delegateID string) ([]*Delegation, error)
	FindActiveByDelegator(ctx context.Context, delegatorID string) ([]*Delegation, error)
	Revoke(ctx context.Context, id string) error
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

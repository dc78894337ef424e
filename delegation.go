package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// DELEGATION VALIDATOR
// ============================================================================

const defaultMaxVisitedNodes = 10_000

// DelegationValidator gates delegation creation. A delegation is valid when
// the delegator actually holds every permission being delegated, the expiry
// is sane, and the new edge introduces no cycle into the transitive
// delegation graph.
type DelegationValidator struct {
	policies    PolicyRepository
	delegations DelegationRepository
	evaluator   *Evaluator
	maxDuration time.Duration // zero means unbounded
	maxVisited  int
}

func NewDelegationValidator(policies PolicyRepository, delegations DelegationRepository, evaluator *Evaluator) *DelegationValidator {
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return &DelegationValidator{
		policies:    policies,
		delegations: delegations,
		evaluator:   evaluator,
		maxVisited:  defaultMaxVisitedNodes,
	}
}

// MaxDuration caps how far in the future a delegation may expire.
func (v *DelegationValidator) MaxDuration(d time.Duration) *DelegationValidator {
	v.maxDuration = d
	return v
}

// MaxVisitedNodes bounds cycle-detection traversal. Each newly visited node
// costs one repository call, so an unbounded hostile graph would otherwise
// turn validation into a storage flood.
func (v *DelegationValidator) MaxVisitedNodes(n int) *DelegationValidator {
	if n > 0 {
		v.maxVisited = n
	}
	return v
}

// ValidateDelegatorPermissions verifies the delegator is allowed every
// (resource, action) pair in the scope. Wildcard entries on either side are
// exempt from the check; they widen the delegation without a concrete pair
// to test.
func (v *DelegationValidator) ValidateDelegatorPermissions(ctx context.Context, delegator *Subject, scope DelegationScope) error {
	if delegator == nil {
		return fmt.Errorf("delegator is required")
	}
	for _, res := range scope.Resources {
		if res == "*" {
			continue
		}
		resource := &Resource{ID: res, Type: utils.ExtractType(res)}
		policy, err := v.policies.GetPoliciesFor(ctx, delegator, resource)
		if err != nil {
			return fmt.Errorf("policies for delegator %s: %w", delegator.ID, err)
		}
		for _, act := range scope.Actions {
			if act == "*" {
				continue
			}
			if v.evaluator.Evaluate(policy, delegator, resource, act) != EffectAllow {
				return fmt.Errorf("%w: delegator %s lacks %s on %s", ErrDelegationInvalid, delegator.ID, act, res)
			}
		}
	}
	return nil
}

// ValidateExpiration checks a proposed expiry. Nil means the delegation
// never expires, which is always acceptable; otherwise it must lie in the
// future and within the configured maximum duration (boundary inclusive).
func (v *DelegationValidator) ValidateExpiration(expiresAt *time.Time) error {
	if expiresAt == nil {
		return nil
	}
	now := time.Now()
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: expiration %s is in the past", ErrDelegationInvalid, expiresAt.Format(time.RFC3339))
	}
	if v.maxDuration > 0 && expiresAt.After(now.Add(v.maxDuration)) {
		return fmt.Errorf("%w: expiration exceeds maximum delegation duration of %s", ErrDelegationInvalid, v.maxDuration)
	}
	return nil
}

// DetectCycle reports whether adding delegator -> delegate would close a
// loop in the transitive delegation graph. Traversal is a BFS from the
// delegate over the delegate's onward transitive delegations, fetched lazily
// one node at a time; the visited set is keyed by subject id so diamond
// patterns cost a single repository call per node. Non-transitive
// delegations contribute no edges: a delegate who cannot re-delegate cannot
// route the grant back around.
func (v *DelegationValidator) DetectCycle(ctx context.Context, delegatorID, delegateID string) (bool, error) {
	if delegatorID == delegateID {
		return true, nil
	}
	visited := map[string]bool{delegateID: true}
	queue := []string{delegateID}
	for len(queue) > 0 {
		if len(visited) > v.maxVisited {
			return false, fmt.Errorf("delegation graph traversal exceeded %d nodes", v.maxVisited)
		}
		node := queue[0]
		queue = queue[1:]
		onward, err := v.delegations.FindActiveByDelegator(ctx, node)
		if err != nil {
			return false, fmt.Errorf("delegations by %s: %w", node, err)
		}
		for _, d := range onward {
			if !d.Transitive {
				continue
			}
			if d.DelegateID == delegatorID {
				return true, nil
			}
			if !visited[d.DelegateID] {
				visited[d.DelegateID] = true
				queue = append(queue, d.DelegateID)
			}
		}
	}
	return false, nil
}

// Validate runs the full check suite for a candidate delegation. Rule
// violations carry ErrDelegationInvalid; storage failures encountered along
// the way do not, so callers can tell the two apart.
func (v *DelegationValidator) Validate(ctx context.Context, d *Delegation, delegator *Subject) error {
	if d == nil {
		return fmt.Errorf("%w: delegation is required", ErrDelegationInvalid)
	}
	if d.DelegateID == "" {
		return fmt.Errorf("%w: delegate id is required", ErrDelegationInvalid)
	}
	if err := v.ValidateExpiration(d.ExpiresAt); err != nil {
		return err
	}
	if err := v.ValidateDelegatorPermissions(ctx, delegator, d.Scope); err != nil {
		return err
	}
	cyclic, err := v.DetectCycle(ctx, d.DelegatorID, d.DelegateID)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: delegation %s -> %s would create a cycle", ErrDelegationInvalid, d.DelegatorID, d.DelegateID)
	}
	return nil
}

// ============================================================================
// DELEGATION MANAGER
// ============================================================================

// DelegationManager creates, revokes and enumerates delegations, and turns
// active delegations into synthetic policy rules for evaluation.
type DelegationManager struct {
	repo      DelegationRepository
	validator *DelegationValidator
	log       logger.Logger
}

func NewDelegationManager(repo DelegationRepository, validator *DelegationValidator, log logger.Logger) *DelegationManager {
	if log == nil {
		log = logger.NewNull()
	}
	return &DelegationManager{repo: repo, validator: validator, log: log}
}

// DelegateOption customizes a delegation at creation time.
type DelegateOption func(*Delegation)

// WithExpiry sets an expiration timestamp.
func WithExpiry(t time.Time) DelegateOption {
	return func(d *Delegation) { d.ExpiresAt = &t }
}

// WithTransitive allows the delegate to delegate the scope onward.
func WithTransitive() DelegateOption {
	return func(d *Delegation) { d.Transitive = true }
}

// WithMetadata attaches free-form metadata to the record.
func WithMetadata(md map[string]any) DelegateOption {
	return func(d *Delegation) { d.Metadata = md }
}

// Delegate validates and persists a new delegation. Validation failures wrap
// ErrDelegationInvalid and nothing is persisted; a failed delegation is not
// an authorization decision. Storage failures surface as plain errors.
func (m *DelegationManager) Delegate(ctx context.Context, delegator *Subject, delegateID string, scope DelegationScope, opts ...DelegateOption) (*Delegation, error) {
	if delegator == nil {
		return nil, fmt.Errorf("%w: delegator is required", ErrDelegationInvalid)
	}
	d := &Delegation{
		ID:          uuid.NewString(),
		DelegatorID: delegator.ID,
		DelegateID:  delegateID,
		Scope:       scope,
		CreatedAt:   time.Now(),
		Status:      DelegationActive,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := m.validator.Validate(ctx, d, delegator); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persist delegation: %w", err)
	}
	m.log.Info("delegation created",
		"delegation_id", d.ID,
		"delegator", d.DelegatorID,
		"delegate", d.DelegateID,
		"transitive", d.Transitive,
	)
	return d, nil
}

// Revoke transitions a delegation to Revoked. Who may revoke is a
// host-application concern; the revoker id is recorded in the log only.
func (m *DelegationManager) Revoke(ctx context.Context, id, revokerID string) error {
	if err := m.repo.Revoke(ctx, id); err != nil {
		return err
	}
	m.log.Info("delegation revoked", "delegation_id", id, "revoked_by", revokerID)
	return nil
}

// ActiveDelegations lists the currently effective delegations granted to a
// delegate.
func (m *DelegationManager) ActiveDelegations(ctx context.Context, delegateID string) ([]*Delegation, error) {
	return m.repo.FindActiveForDelegate(ctx, delegateID)
}

// CanDelegate reports whether a delegation would pass validation without
// persisting anything.
func (m *DelegationManager) CanDelegate(ctx context.Context, delegator *Subject, delegateID string, scope DelegationScope) bool {
	if delegator == nil {
		return false
	}
	d := &Delegation{
		DelegatorID: delegator.ID,
		DelegateID:  delegateID,
		Scope:       scope,
		Status:      DelegationActive,
	}
	return m.validator.Validate(ctx, d, delegator) == nil
}

// PolicyRules converts the delegate's active delegations into allow rules,
// one per (resource, action) pair in each scope. Synthesized rules carry the
// fixed delegated-rule priority and no domain.
func (m *DelegationManager) PolicyRules(ctx context.Context, delegateID string) ([]PolicyRule, error) {
	active, err := m.repo.FindActiveForDelegate(ctx, delegateID)
	if err != nil {
		return nil, err
	}
	var rules []PolicyRule
	for _, d := range active {
		for _, res := range d.Scope.Resources {
			for _, act := range d.Scope.Actions {
				rules = append(rules, PolicyRule{
					Subject:  delegateID,
					Resource: res,
					Action:   act,
					Effect:   EffectAllow,
					Priority: DelegatedRulePriority,
				})
			}
		}
	}
	return rules, nil
}

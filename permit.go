package permit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

const (
	defaultCacheNumCounters = 100_000
	defaultCacheMaxCost     = 10_000
	defaultCacheBufferItems = 64
	defaultDecisionTTL      = 30 * time.Second
)

// MultiMatcher tries each access-control model in turn; a rule applies when
// any model accepts it. This is what lets one rule set mix ACL ids, role
// names, condition expressions and path patterns.
type MultiMatcher struct {
	matchers []RuleMatcher
}

func NewMultiMatcher(matchers ...RuleMatcher) *MultiMatcher {
	return &MultiMatcher{matchers: matchers}
}

func (m *MultiMatcher) Matches(rule *PolicyRule, subject *Subject, resource *Resource, action Action) bool {
	for _, matcher := range m.matchers {
		if matcher.Matches(rule, subject, resource, action) {
			return true
		}
	}
	return false
}

// Engine is the composition root: repositories, matcher, evaluators,
// delegation subsystem, decision cache and logger wired together behind a
// single Authorize call.
type Engine struct {
	policies    PolicyRepository
	delegations DelegationRepository

	resolver  *AttributeResolver
	matcher   RuleMatcher
	evaluator *Evaluator
	delegated *DelegationAwareEvaluator
	manager   *DelegationManager
	validator *DelegationValidator
	batch     *BatchEvaluator

	cache    *ristretto.Cache
	cacheTTL time.Duration
	log      logger.Logger
}

type engineOptions struct {
	matcher             RuleMatcher
	log                 logger.Logger
	providers           []AttributeProvider
	cacheNumCounters    int64
	cacheMaxCost        int64
	cacheBufferItems    int64
	cacheDisabled       bool
	decisionTTL         time.Duration
	maxDelegation       time.Duration
	maxVisitedNodes     int
	respectExplicitDeny bool
}

// Option configures an Engine at construction time.
type Option func(*engineOptions)

// WithMatcher replaces the default multi-model matcher.
func WithMatcher(m RuleMatcher) Option {
	return func(o *engineOptions) { o.matcher = m }
}

// WithLogger sets the engine logger. Decisions and delegation lifecycle
// events are logged through it.
func WithLogger(log logger.Logger) Option {
	return func(o *engineOptions) { o.log = log }
}

// WithAttributeProvider registers an external attribute source for condition
// evaluation.
func WithAttributeProvider(p AttributeProvider) Option {
	return func(o *engineOptions) { o.providers = append(o.providers, p) }
}

// WithDecisionCache sizes the ristretto decision cache.
func WithDecisionCache(numCounters, maxCost, bufferItems int64) Option {
	return func(o *engineOptions) {
		o.cacheNumCounters = numCounters
		o.cacheMaxCost = maxCost
		o.cacheBufferItems = bufferItems
	}
}

// WithoutDecisionCache disables decision caching entirely.
func WithoutDecisionCache() Option {
	return func(o *engineOptions) { o.cacheDisabled = true }
}

// WithDecisionTTL sets how long a cached decision stays valid.
func WithDecisionTTL(ttl time.Duration) Option {
	return func(o *engineOptions) { o.decisionTTL = ttl }
}

// WithMaxDelegationDuration caps delegation lifetimes.
func WithMaxDelegationDuration(d time.Duration) Option {
	return func(o *engineOptions) { o.maxDelegation = d }
}

// WithMaxVisitedNodes bounds cycle-detection traversal.
func WithMaxVisitedNodes(n int) Option {
	return func(o *engineOptions) { o.maxVisitedNodes = n }
}

// WithRespectExplicitDeny makes an explicitly matching deny rule final even
// when an active delegation would otherwise grant the request.
func WithRespectExplicitDeny() Option {
	return func(o *engineOptions) { o.respectExplicitDeny = true }
}

// New wires an Engine from the two repositories.
func New(policies PolicyRepository, delegations DelegationRepository, opts ...Option) (*Engine, error) {
	if policies == nil {
		return nil, fmt.Errorf("policy repository is required")
	}
	o := &engineOptions{
		log:              logger.NewNull(),
		cacheNumCounters: defaultCacheNumCounters,
		cacheMaxCost:     defaultCacheMaxCost,
		cacheBufferItems: defaultCacheBufferItems,
		decisionTTL:      defaultDecisionTTL,
	}
	for _, opt := range opts {
		opt(o)
	}

	resolver := NewAttributeResolver(o.providers...)
	matcher := o.matcher
	if matcher == nil {
		matcher = NewMultiMatcher(NewRBACMatcher(), NewABACMatcher(resolver), NewPathMatcher())
	}
	evaluator := NewEvaluator(matcher)

	e := &Engine{
		policies:    policies,
		delegations: delegations,
		resolver:    resolver,
		matcher:     matcher,
		evaluator:   evaluator,
		batch:       NewBatchEvaluator(policies, evaluator),
		cacheTTL:    o.decisionTTL,
		log:         o.log,
	}

	if delegations != nil {
		e.validator = NewDelegationValidator(policies, delegations, evaluator)
		if o.maxDelegation > 0 {
			e.validator.MaxDuration(o.maxDelegation)
		}
		if o.maxVisitedNodes > 0 {
			e.validator.MaxVisitedNodes(o.maxVisitedNodes)
		}
		e.manager = NewDelegationManager(delegations, e.validator, o.log)
	}
	e.delegated = NewDelegationAwareEvaluator(evaluator, e.manager).RespectExplicitDeny(o.respectExplicitDeny)

	if !o.cacheDisabled {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: o.cacheNumCounters,
			MaxCost:     o.cacheMaxCost,
			BufferItems: o.cacheBufferItems,
		})
		if err != nil {
			return nil, fmt.Errorf("decision cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Close releases the decision cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Delegations exposes the delegation manager, or nil when the engine was
// built without a delegation repository.
func (e *Engine) Delegations() *DelegationManager { return e.manager }

// Batch exposes the batch evaluator.
func (e *Engine) Batch() *BatchEvaluator { return e.batch }

// Simulate dry-runs a policy without repositories, caching or logging.
func (e *Engine) Simulate(policy *Policy, subject *Subject, resource *Resource, action Action) *Simulation {
	return NewSimulator(e.matcher).Simulate(policy, subject, resource, action)
}

// Authorize answers whether subject may perform action on resource.
// Repository failures surface as errors; only an evaluated deny (or an
// empty rule set) produces a deny decision.
func (e *Engine) Authorize(ctx context.Context, subject *Subject, resource *Resource, action Action) (*Decision, error) {
	if subject == nil || resource == nil {
		return nil, fmt.Errorf("subject and resource are required")
	}
	key := decisionKey(subject, resource, action)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if d, ok := v.(*Decision); ok {
				return d, nil
			}
		}
	}

	policy, err := e.policies.GetPoliciesFor(ctx, subject, resource)
	if err != nil {
		return nil, fmt.Errorf("policies for %s on %s: %w", subject.ID, resource.ID, err)
	}
	if strings.Contains(resource.ID, "/") {
		policy = ExpandInheritedRules(policy, resource)
	}

	effect, viaDelegation, err := e.delegated.EvaluateWithSource(ctx, policy, subject, resource, action)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Effect:    effect,
		Allowed:   effect == EffectAllow,
		Delegated: viaDelegation,
		Reason:    decisionReason(effect, viaDelegation, policy),
		Timestamp: time.Now(),
	}
	e.log.Info("authorization decision",
		"subject", subject.ID,
		"resource", resource.ID,
		"action", string(action),
		"effect", string(effect),
		"delegated", viaDelegation,
	)
	if e.cache != nil {
		e.cache.SetWithTTL(key, decision, 1, e.cacheTTL)
	}
	return decision, nil
}

// InvalidateCache drops all cached decisions. Call after policy or
// delegation changes.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func decisionKey(subject *Subject, resource *Resource, action Action) string {
	domain, _ := subject.Attr("domain").(string)
	return subject.ID + "|" + resource.ID + "|" + string(action) + "|" + domain
}

func decisionReason(effect Effect, viaDelegation bool, policy *Policy) string {
	switch {
	case viaDelegation:
		return "allowed through active delegation"
	case effect == EffectAllow:
		return "allowed by policy rule"
	case policy == nil || len(policy.Rules) == 0:
		return "no applicable rules, default deny"
	default:
		return "denied by policy"
	}
}

package permit_test

import (
	"context"
	"testing"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/stores"
)

func TestResolveEffectDefaultDeny(t *testing.T) {
	if got := permit.ResolveEffect(nil); got != permit.EffectDeny {
		t.Fatalf("empty rule set should resolve to deny, got %s", got)
	}
}

func TestResolveEffectDenyOverride(t *testing.T) {
	rules := []permit.PolicyRule{
		rule("alice", "document:1", "read", permit.EffectAllow),
		rule("alice", "document:1", "read", permit.EffectAllow),
		rule("alice", "document:1", "read", permit.EffectDeny),
	}
	if got := permit.ResolveEffect(rules); got != permit.EffectDeny {
		t.Fatalf("one deny must override any allows, got %s", got)
	}
	if got := permit.ResolveEffect(rules[:2]); got != permit.EffectAllow {
		t.Fatalf("all-allow set should resolve to allow, got %s", got)
	}
}

func TestEvaluatorEditorAuditorScenario(t *testing.T) {
	policy := permit.NewPolicy("docs").
		Rule(permit.NewRule().Subject("editor").Resource("document:*").Action("edit").Allow().Priority(1).Build()).
		Rule(permit.NewRule().Subject("auditor").Resource("document:*").Action("delete").Deny().Priority(10).Build()).
		Build()
	subject := &permit.Subject{ID: "alice", Attrs: map[string]any{"roles": []any{"editor", "auditor"}}}
	doc := &permit.Resource{ID: "document:42", Type: "document"}

	e := permit.NewEvaluator(permit.NewRBACMatcher())
	if got := e.Evaluate(policy, subject, doc, "edit"); got != permit.EffectAllow {
		t.Fatalf("edit should be allowed, got %s", got)
	}
	if got := e.Evaluate(policy, subject, doc, "delete"); got != permit.EffectDeny {
		t.Fatalf("delete should be denied, got %s", got)
	}
	if got := e.Evaluate(policy, subject, doc, "share"); got != permit.EffectDeny {
		t.Fatalf("unmatched action should default-deny, got %s", got)
	}
}

func TestBatchEvaluatorAbsentResourcesDeny(t *testing.T) {
	ctx := context.Background()
	repo := stores.NewMemoryPolicyRepository()
	policy := permit.NewPolicy("p1").Allow("alice", "document:1", "read").Build()
	if err := repo.SavePolicy(ctx, policy); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	batch := permit.NewBatchEvaluator(repo, permit.NewEvaluator(permit.NewACLMatcher()))
	resources := []*permit.Resource{
		{ID: "document:1", Type: "document"},
		{ID: "document:2", Type: "document"},
	}
	results, err := batch.EvaluateAll(ctx, &permit.Subject{ID: "alice"}, resources, "read")
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if results["document:1"] != permit.EffectAllow {
		t.Fatalf("document:1 should be allowed, got %s", results["document:1"])
	}
	if results["document:2"] != permit.EffectDeny {
		t.Fatalf("document:2 should be denied, got %s", results["document:2"])
	}
}

func TestSimulatorReportsMatchesAndTiming(t *testing.T) {
	policy := permit.NewPolicy("p").
		Allow("alice", "document:1", "read").
		Deny("alice", "document:1", "read").
		Build()
	sim := permit.NewSimulator(permit.NewACLMatcher()).
		Simulate(policy, &permit.Subject{ID: "alice"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")

	if sim.Effect != permit.EffectDeny {
		t.Fatalf("expected deny, got %s", sim.Effect)
	}
	if len(sim.Matched) != 2 {
		t.Fatalf("expected 2 matched rules, got %d", len(sim.Matched))
	}
	if sim.Subject != "alice" || sim.Resource != "document:1" || sim.Action != "read" {
		t.Fatalf("simulation should echo the request triple, got %+v", sim)
	}
	if sim.ExecutionTime < 0 {
		t.Fatalf("execution time should be non-negative, got %s", sim.ExecutionTime)
	}
}

func TestDelegationAwareEvaluatorDirectAllowShortCircuits(t *testing.T) {
	ctx := context.Background()
	policyRepo := stores.NewMemoryPolicyRepository()
	countingRepo := &countingDelegationRepo{MemoryDelegationRepository: stores.NewMemoryDelegationRepository()}

	evaluator := permit.NewEvaluator(permit.NewACLMatcher())
	validator := permit.NewDelegationValidator(policyRepo, countingRepo, evaluator)
	manager := permit.NewDelegationManager(countingRepo, validator, nil)
	aware := permit.NewDelegationAwareEvaluator(evaluator, manager)

	policy := permit.NewPolicy("p").Allow("bob", "document:1", "read").Build()
	effect, err := aware.Evaluate(ctx, policy, &permit.Subject{ID: "bob"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if effect != permit.EffectAllow {
		t.Fatalf("expected allow, got %s", effect)
	}
	if countingRepo.findForDelegate != 0 {
		t.Fatalf("direct allow must not consult delegations, got %d lookups", countingRepo.findForDelegate)
	}
}

func TestDelegationAwareEvaluatorConsultsDelegationsOnDeny(t *testing.T) {
	ctx := context.Background()
	policyRepo := stores.NewMemoryPolicyRepository()
	delegationRepo := stores.NewMemoryDelegationRepository()

	// alice owns the document and delegates read to bob
	ownerPolicy := permit.NewPolicy("owner").Allow("alice", "document:1", "read").Build()
	if err := policyRepo.SavePolicy(ctx, ownerPolicy); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	evaluator := permit.NewEvaluator(permit.NewACLMatcher())
	validator := permit.NewDelegationValidator(policyRepo, delegationRepo, evaluator)
	manager := permit.NewDelegationManager(delegationRepo, validator, nil)

	alice := &permit.Subject{ID: "alice"}
	scope := permit.NewScope().Resources("document:1").Actions("read").Build()
	if _, err := manager.Delegate(ctx, alice, "bob", scope); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	aware := permit.NewDelegationAwareEvaluator(evaluator, manager)
	policy, err := policyRepo.GetPoliciesFor(ctx, &permit.Subject{ID: "bob"}, &permit.Resource{ID: "document:1", Type: "document"})
	if err != nil {
		t.Fatalf("get policies: %v", err)
	}
	effect, delegated, err := aware.EvaluateWithSource(ctx, policy, &permit.Subject{ID: "bob"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if effect != permit.EffectAllow || !delegated {
		t.Fatalf("expected delegated allow, got effect=%s delegated=%v", effect, delegated)
	}
	// the delegation covers read only
	effect, _, err = aware.EvaluateWithSource(ctx, policy, &permit.Subject{ID: "bob"}, &permit.Resource{ID: "document:1", Type: "document"}, "edit")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if effect != permit.EffectDeny {
		t.Fatalf("delegation must not grant actions outside its scope, got %s", effect)
	}
}

func TestDelegationAwareEvaluatorRespectExplicitDeny(t *testing.T) {
	ctx := context.Background()
	policyRepo := stores.NewMemoryPolicyRepository()
	delegationRepo := stores.NewMemoryDelegationRepository()

	seed := permit.NewPolicy("seed").
		Allow("alice", "document:1", "read").
		Deny("bob", "document:1", "read").
		Build()
	if err := policyRepo.SavePolicy(ctx, seed); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	evaluator := permit.NewEvaluator(permit.NewACLMatcher())
	validator := permit.NewDelegationValidator(policyRepo, delegationRepo, evaluator)
	manager := permit.NewDelegationManager(delegationRepo, validator, nil)

	alice := &permit.Subject{ID: "alice"}
	scope := permit.NewScope().Resources("document:1").Actions("read").Build()
	if _, err := manager.Delegate(ctx, alice, "bob", scope); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	bob := &permit.Subject{ID: "bob"}
	doc := &permit.Resource{ID: "document:1", Type: "document"}
	policy, _ := policyRepo.GetPoliciesFor(ctx, bob, doc)

	// default behavior: the delegation wins over the explicit deny
	aware := permit.NewDelegationAwareEvaluator(evaluator, manager)
	effect, err := aware.Evaluate(ctx, policy, bob, doc, "read")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if effect != permit.EffectAllow {
		t.Fatalf("default mode lets delegation override a direct deny, got %s", effect)
	}

	// strict mode: explicit deny is final
	strict := permit.NewDelegationAwareEvaluator(evaluator, manager).RespectExplicitDeny(true)
	effect, err = strict.Evaluate(ctx, policy, bob, doc, "read")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if effect != permit.EffectDeny {
		t.Fatalf("strict mode must keep the explicit deny, got %s", effect)
	}
}

func TestEvaluatorShortCircuitsThroughIndexedMatcher(t *testing.T) {
	counter := &callCountingMatcher{base: permit.NewACLMatcher()}
	e := permit.NewEvaluator(permit.NewIndexedMatcher(counter).ShortCircuit(true))
	policy := &permit.Policy{Rules: []permit.PolicyRule{
		rule("alice", "document:1", "read", permit.EffectDeny),
		rule("alice", "document:1", "read", permit.EffectAllow),
	}}
	alice := &permit.Subject{ID: "alice"}
	doc := &permit.Resource{ID: "document:1", Type: "document"}

	if got := e.Evaluate(policy, alice, doc, "read"); got != permit.EffectDeny {
		t.Fatalf("expected deny, got %s", got)
	}
	if counter.calls != 1 {
		t.Fatalf("the matching deny should stop the scan, got %d matcher calls", counter.calls)
	}
}

type callCountingMatcher struct {
	base  permit.RuleMatcher
	calls int
}

func (m *callCountingMatcher) Matches(rule *permit.PolicyRule, subject *permit.Subject, resource *permit.Resource, action permit.Action) bool {
	m.calls++
	return m.base.Matches(rule, subject, resource, action)
}

type countingDelegationRepo struct {
	*stores.MemoryDelegationRepository
	findForDelegate int
}

func (r *countingDelegationRepo) FindActiveForDelegate(ctx context.Context, delegateID string) ([]*permit.Delegation, error) {
	r.findForDelegate++
	return r.MemoryDelegationRepository.FindActiveForDelegate(ctx, delegateID)
}

package permit_test

import (
	"context"
	"testing"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/stores"
)

func newEngine(t *testing.T, opts ...permit.Option) (*permit.Engine, *stores.MemoryPolicyRepository, *stores.MemoryDelegationRepository) {
	t.Helper()
	policyRepo := stores.NewMemoryPolicyRepository()
	delegationRepo := stores.NewMemoryDelegationRepository()
	opts = append([]permit.Option{permit.WithoutDecisionCache()}, opts...)
	engine, err := permit.New(policyRepo, delegationRepo, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, policyRepo, delegationRepo
}

func TestEngineAuthorizeRoleBasedPolicy(t *testing.T) {
	ctx := context.Background()
	engine, policyRepo, _ := newEngine(t)
	policy := permit.NewPolicy("docs").
		Rule(permit.NewRule().Subject("editor").Resource("document:*").Action("edit").Allow().Priority(1).Build()).
		Rule(permit.NewRule().Subject("auditor").Resource("document:*").Action("delete").Deny().Priority(10).Build()).
		Build()
	if err := policyRepo.SavePolicy(ctx, policy); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	subject := &permit.Subject{ID: "alice", Attrs: map[string]any{"roles": []string{"editor", "auditor"}}}
	doc := &permit.Resource{ID: "document:42", Type: "document"}

	d, err := engine.Authorize(ctx, subject, doc, "edit")
	if err != nil {
		t.Fatalf("authorize edit: %v", err)
	}
	if !d.Allowed || d.Delegated {
		t.Fatalf("edit should be directly allowed, got %+v", d)
	}

	d, err = engine.Authorize(ctx, subject, doc, "delete")
	if err != nil {
		t.Fatalf("authorize delete: %v", err)
	}
	if d.Allowed {
		t.Fatalf("delete should be denied, got %+v", d)
	}
}

func TestEngineAuthorizeDefaultDenyReason(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newEngine(t)
	d, err := engine.Authorize(ctx, &permit.Subject{ID: "nobody"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("empty policy must deny")
	}
	if d.Reason == "" {
		t.Fatal("decision should carry a reason")
	}
	if d.Timestamp.IsZero() {
		t.Fatal("decision should be timestamped")
	}
}

func TestEngineAuthorizeThroughDelegation(t *testing.T) {
	ctx := context.Background()
	engine, policyRepo, _ := newEngine(t)
	if err := policyRepo.SavePolicy(ctx, permit.NewPolicy("seed").Allow("alice", "document:1", "read").Build()); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	alice := &permit.Subject{ID: "alice"}
	scope := permit.NewScope().Resources("document:1").Actions("read").Build()
	if _, err := engine.Delegations().Delegate(ctx, alice, "bob", scope); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	d, err := engine.Authorize(ctx, &permit.Subject{ID: "bob"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed || !d.Delegated {
		t.Fatalf("expected delegated allow, got %+v", d)
	}
}

func TestEngineAuthorizeHierarchicalResource(t *testing.T) {
	ctx := context.Background()
	engine, policyRepo, _ := newEngine(t)
	if err := policyRepo.SavePolicy(ctx, permit.NewPolicy("p").Allow("alice", "folder:123", "read").Build()); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	d, err := engine.Authorize(ctx, &permit.Subject{ID: "alice"}, &permit.Resource{ID: "folder:123/doc:1", Type: "doc"}, "read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed {
		t.Fatal("folder grant should inherit to the contained document")
	}
	d, err = engine.Authorize(ctx, &permit.Subject{ID: "alice"}, &permit.Resource{ID: "folder:1234/doc:1", Type: "doc"}, "read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("folder:123 grant must not leak into folder:1234")
	}
}

func TestEngineAuthorizeABACCondition(t *testing.T) {
	ctx := context.Background()
	engine, policyRepo, _ := newEngine(t)
	policy := permit.NewPolicy("abac").
		Rule(permit.NewRule().Subject("subject.level >= resource.required_level").Resource("vault:*").Action("open").Allow().Build()).
		Build()
	if err := policyRepo.SavePolicy(ctx, policy); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	vault := &permit.Resource{ID: "vault:1", Type: "vault", Attrs: map[string]any{"required_level": 5}}

	d, err := engine.Authorize(ctx, &permit.Subject{ID: "alice", Attrs: map[string]any{"level": 5}}, vault, "open")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed {
		t.Fatal("level 5 meets required level 5")
	}
	d, err = engine.Authorize(ctx, &permit.Subject{ID: "bob", Attrs: map[string]any{"level": 3}}, vault, "open")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("level 3 does not meet required level 5")
	}
}

func TestEngineWithoutDelegationRepository(t *testing.T) {
	ctx := context.Background()
	policyRepo := stores.NewMemoryPolicyRepository()
	engine, err := permit.New(policyRepo, nil, permit.WithoutDecisionCache())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if engine.Delegations() != nil {
		t.Fatal("no delegation manager without a repository")
	}
	d, err := engine.Authorize(ctx, &permit.Subject{ID: "alice"}, &permit.Resource{ID: "document:1", Type: "document"}, "read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected deny")
	}
}

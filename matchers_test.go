package permit_test

import (
	"testing"

	"github.com/oarkflow/permit"
)

func rule(subject, resource string, action permit.Action, effect permit.Effect) permit.PolicyRule {
	return permit.PolicyRule{Subject: subject, Resource: resource, Action: action, Effect: effect}
}

func TestACLMatcherLiterals(t *testing.T) {
	m := permit.NewACLMatcher()
	alice := &permit.Subject{ID: "alice"}
	doc := &permit.Resource{ID: "document:1", Type: "document"}

	r := rule("alice", "document:1", "read", permit.EffectAllow)
	if !m.Matches(&r, alice, doc, "read") {
		t.Fatal("exact triple should match")
	}
	if m.Matches(&r, &permit.Subject{ID: "bob"}, doc, "read") {
		t.Fatal("other subject must not match")
	}
	if m.Matches(&r, alice, doc, "write") {
		t.Fatal("actions are case-sensitive exact matches")
	}

	anyAction := rule("alice", "document:1", "*", permit.EffectAllow)
	if !m.Matches(&anyAction, alice, doc, "delete") {
		t.Fatal("wildcard action should match")
	}

	typed := rule("alice", "document:*", "read", permit.EffectAllow)
	if !m.Matches(&typed, alice, doc, "read") {
		t.Fatal("type wildcard should match matching type")
	}
	if m.Matches(&typed, alice, &permit.Resource{ID: "image:9", Type: "image"}, "read") {
		t.Fatal("type wildcard must not match other types")
	}

	anyResource := rule("alice", "", "create-document", permit.EffectAllow)
	if !m.Matches(&anyResource, alice, doc, "create-document") {
		t.Fatal("empty resource means any resource")
	}
}

func TestACLMatcherSuperuserGate(t *testing.T) {
	m := permit.NewACLMatcher()
	r := rule("*", "*", "*", permit.EffectAllow)
	doc := &permit.Resource{ID: "document:1", Type: "document"}

	root := &permit.Subject{ID: "root", Attrs: map[string]any{"superuser": true}}
	if !m.Matches(&r, root, doc, "delete") {
		t.Fatal("wildcard rule should match superuser")
	}
	plain := &permit.Subject{ID: "alice"}
	if m.Matches(&r, plain, doc, "delete") {
		t.Fatal("wildcard rule must not match non-superuser")
	}
	falsy := &permit.Subject{ID: "bob", Attrs: map[string]any{"superuser": false}}
	if m.Matches(&r, falsy, doc, "delete") {
		t.Fatal("superuser=false must not pass the gate")
	}
	stringly := &permit.Subject{ID: "eve", Attrs: map[string]any{"superuser": "true"}}
	if m.Matches(&r, stringly, doc, "delete") {
		t.Fatal("non-boolean superuser value must not pass the gate")
	}
}

func TestRBACMatcherRoles(t *testing.T) {
	m := permit.NewRBACMatcher()
	doc := &permit.Resource{ID: "document:1", Type: "document"}
	editor := &permit.Subject{ID: "alice", Attrs: map[string]any{"roles": []string{"editor"}}}

	r := rule("editor", "document:*", "edit", permit.EffectAllow)
	if !m.Matches(&r, editor, doc, "edit") {
		t.Fatal("role member should match role rule")
	}
	if m.Matches(&r, &permit.Subject{ID: "bob", Attrs: map[string]any{"roles": []string{"viewer"}}}, doc, "edit") {
		t.Fatal("non-member must not match")
	}

	// direct-id fallback: a literal subject id matches even without roles
	direct := rule("carol", "document:1", "read", permit.EffectAllow)
	if !m.Matches(&direct, &permit.Subject{ID: "carol"}, doc, "read") {
		t.Fatal("direct id fallback should match")
	}

	// non-array roles value means no roles, not an error
	broken := &permit.Subject{ID: "dave", Attrs: map[string]any{"roles": "editor"}}
	if m.Matches(&r, broken, doc, "edit") {
		t.Fatal("non-array roles must be treated as no roles")
	}
}

func TestRBACMatcherDomainRoles(t *testing.T) {
	m := permit.NewRBACMatcher()
	doc := &permit.Resource{ID: "document:1", Type: "document"}
	r := rule("editor", "document:*", "edit", permit.EffectAllow)

	scoped := &permit.Subject{ID: "alice", Attrs: map[string]any{
		"domain": "tenant-a",
		"domain_roles": map[string][]string{
			"tenant-a": {"editor"},
			"tenant-b": {"viewer"},
		},
	}}
	if !m.Matches(&r, scoped, doc, "edit") {
		t.Fatal("domain role should match in the subject's domain")
	}

	elsewhere := &permit.Subject{ID: "alice", Attrs: map[string]any{
		"domain": "tenant-b",
		"domain_roles": map[string][]string{
			"tenant-a": {"editor"},
			"tenant-b": {"viewer"},
		},
	}}
	if m.Matches(&r, elsewhere, doc, "edit") {
		t.Fatal("roles from another domain must not apply")
	}
}

func TestRBACMatcherResourceRoles(t *testing.T) {
	m := permit.NewRBACMatcher()
	r := rule("maintainer", "maintainer", "push", permit.EffectAllow)
	subject := &permit.Subject{ID: "alice", Attrs: map[string]any{"roles": []string{"maintainer"}}}

	tagged := &permit.Resource{ID: "repo:core", Type: "repo", Attrs: map[string]any{"roles": []any{"maintainer"}}}
	if !m.Matches(&r, subject, tagged, "push") {
		t.Fatal("resource carrying the role should match a role-named rule resource")
	}
	untagged := &permit.Resource{ID: "repo:docs", Type: "repo"}
	if m.Matches(&r, subject, untagged, "push") {
		t.Fatal("resource without the role must not match")
	}
}

func TestABACMatcherConditions(t *testing.T) {
	m := permit.NewABACMatcher(permit.NewAttributeResolver())
	doc := &permit.Resource{ID: "document:1", Type: "document", Attrs: map[string]any{"required_level": 5}}

	r := rule("subject.level >= resource.required_level", "document:1", "read", permit.EffectAllow)
	cleared := &permit.Subject{ID: "alice", Attrs: map[string]any{"level": 5}}
	if !m.Matches(&r, cleared, doc, "read") {
		t.Fatal("level 5 >= 5 should match")
	}
	junior := &permit.Subject{ID: "bob", Attrs: map[string]any{"level": 3}}
	if m.Matches(&r, junior, doc, "read") {
		t.Fatal("level 3 >= 5 must not match")
	}

	// resource field as condition expression
	owned := rule("alice", "resource.owner == subject.id", "edit", permit.EffectAllow)
	mine := &permit.Resource{ID: "document:2", Type: "document", Attrs: map[string]any{"owner": "alice"}}
	theirs := &permit.Resource{ID: "document:3", Type: "document", Attrs: map[string]any{"owner": "bob"}}
	alice := &permit.Subject{ID: "alice"}
	if !m.Matches(&owned, alice, mine, "edit") {
		t.Fatal("owner should match ownership condition")
	}
	if m.Matches(&owned, alice, theirs, "edit") {
		t.Fatal("non-owner must not match ownership condition")
	}

	// literal fields fall back to ACL semantics
	literal := rule("alice", "document:1", "read", permit.EffectAllow)
	if !m.Matches(&literal, alice, doc, "read") {
		t.Fatal("literal rule should match via ACL fallback")
	}
}

func TestPathMatcherPatterns(t *testing.T) {
	m := permit.NewPathMatcher()
	alice := &permit.Subject{ID: "alice"}

	r := rule("alice", "api/users/:id/documents/*", "GET", permit.EffectAllow)
	hit := &permit.Resource{ID: "api/users/42/documents/report.pdf"}
	if !m.Matches(&r, alice, hit, "GET") {
		t.Fatal("path with param and wildcard should match")
	}
	if !m.Matches(&r, alice, hit, "get") {
		t.Fatal("HTTP verbs match case-insensitively")
	}
	miss := &permit.Resource{ID: "api/groups/42/documents/report.pdf"}
	if m.Matches(&r, alice, miss, "GET") {
		t.Fatal("different literal segment must not match")
	}
	short := &permit.Resource{ID: "api/users/42"}
	if m.Matches(&r, alice, short, "GET") {
		t.Fatal("pattern is anchored, prefix alone must not match")
	}
	if m.Matches(&r, alice, hit, "POST") {
		t.Fatal("other verb must not match")
	}

	// a :param matches exactly one segment
	single := rule("alice", "api/users/:id", "GET", permit.EffectAllow)
	if m.Matches(&single, alice, &permit.Resource{ID: "api/users/42/extra"}, "GET") {
		t.Fatal("param segment must not span multiple segments")
	}
}

func TestPathMatcherNonHTTPFallsBackToACL(t *testing.T) {
	m := permit.NewPathMatcher()
	alice := &permit.Subject{ID: "alice"}
	doc := &permit.Resource{ID: "document:1", Type: "document"}

	r := rule("alice", "document:1", "read", permit.EffectAllow)
	if !m.Matches(&r, alice, doc, "read") {
		t.Fatal("non-HTTP action should fall back to ACL matching")
	}
	if m.Matches(&r, alice, doc, "GET") {
		t.Fatal("ACL fallback keeps exact action semantics")
	}
}

func TestMultiMatcherMixedRuleSet(t *testing.T) {
	m := permit.NewMultiMatcher(
		permit.NewRBACMatcher(),
		permit.NewABACMatcher(permit.NewAttributeResolver()),
		permit.NewPathMatcher(),
	)
	subject := &permit.Subject{ID: "alice", Attrs: map[string]any{"roles": []string{"editor"}, "level": 9}}

	roleRule := rule("editor", "document:*", "edit", permit.EffectAllow)
	condRule := rule("subject.level > 5", "document:*", "publish", permit.EffectAllow)
	pathRule := rule("alice", "api/docs/:id", "GET", permit.EffectAllow)

	doc := &permit.Resource{ID: "document:1", Type: "document"}
	if !m.Matches(&roleRule, subject, doc, "edit") {
		t.Fatal("role rule should match through RBAC")
	}
	if !m.Matches(&condRule, subject, doc, "publish") {
		t.Fatal("condition rule should match through ABAC")
	}
	if !m.Matches(&pathRule, subject, &permit.Resource{ID: "api/docs/7"}, "GET") {
		t.Fatal("path rule should match through the path matcher")
	}
}

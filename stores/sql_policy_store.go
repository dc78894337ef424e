package stores

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/utils"
)

// SQLPolicyStore persists policy rules in SQL, one row per rule. Resource
// candidate filtering happens in Go because rule resources may be patterns
// or condition expressions the database cannot index.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) (*SQLPolicyStore, error) {
	return &SQLPolicyStore{db: db}, nil
}

func (s *SQLPolicyStore) SavePolicy(ctx context.Context, p *permit.Policy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.db.NamedExecContext(ctx,
		`DELETE FROM policy_rules WHERE policy_id = :policy_id`,
		map[string]any{"policy_id": id},
	); err != nil {
		return fmt.Errorf("clear policy %s: %w", id, err)
	}
	q := `INSERT INTO policy_rules(policy_id, position, domain, subject, resource, action, effect, priority)
VALUES(:policy_id, :position, :domain, :subject, :resource, :action, :effect, :priority)`
	for i, rule := range p.Rules {
		domain := rule.Domain
		if domain == "" {
			domain = p.Domain
		}
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"policy_id": id,
			"position":  i,
			"domain":    string(domain),
			"subject":   rule.Subject,
			"resource":  rule.Resource,
			"action":    string(rule.Action),
			"effect":    string(rule.Effect),
			"priority":  int(rule.Priority),
		}); err != nil {
			return fmt.Errorf("insert rule %d of policy %s: %w", i, id, err)
		}
	}
	return nil
}

func (s *SQLPolicyStore) SavePolicies(ctx context.Context, policies []*permit.Policy) error {
	for _, p := range policies {
		if err := s.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLPolicyStore) GetPoliciesFor(ctx context.Context, subject *permit.Subject, resource *permit.Resource) (*permit.Policy, error) {
	rules, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	return filterRules(rules, resource), nil
}

func (s *SQLPolicyStore) GetPoliciesForBatch(ctx context.Context, subject *permit.Subject, resources []*permit.Resource) (map[string]*permit.Policy, error) {
	rules, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*permit.Policy, len(resources))
	for _, r := range resources {
		out[r.ID] = filterRules(rules, r)
	}
	return out, nil
}

func (s *SQLPolicyStore) loadRules(ctx context.Context) ([]permit.PolicyRule, error) {
	q := `SELECT subject, resource, action, effect, priority, domain FROM policy_rules ORDER BY policy_id, position`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("load policy rules: %w", err)
	}
	defer r.Close()
	var rules []permit.PolicyRule
	for r.Next() {
		var subject, resource, action, effect, domain string
		var priority int
		if err := r.Scan(&subject, &resource, &action, &effect, &priority, &domain); err != nil {
			return nil, err
		}
		rules = append(rules, permit.PolicyRule{
			Subject:  subject,
			Resource: resource,
			Action:   permit.Action(action),
			Effect:   permit.Effect(effect),
			Priority: permit.Priority(priority),
			Domain:   permit.Domain(domain),
		})
	}
	return rules, nil
}

func filterRules(rules []permit.PolicyRule, resource *permit.Resource) *permit.Policy {
	p := &permit.Policy{}
	for _, rule := range rules {
		if resource == nil || utils.CouldApply(rule.Resource, resource.ID, resource.Type) {
			p.Rules = append(p.Rules, rule)
		}
	}
	return p
}

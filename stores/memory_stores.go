package stores

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// IN-MEMORY REPOSITORIES
// ============================================================================

// MemoryPolicyRepository keeps policies in-memory for tests and demos. Rule
// candidate filtering is coarse: it may hand back rules the matcher rejects,
// never the other way around.
type MemoryPolicyRepository struct {
	mu       sync.RWMutex
	policies map[string]*permit.Policy
	seq      atomic.Int64
}

func NewMemoryPolicyRepository() *MemoryPolicyRepository {
	return &MemoryPolicyRepository{policies: make(map[string]*permit.Policy)}
}

func (s *MemoryPolicyRepository) SavePolicy(ctx context.Context, p *permit.Policy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := clonePolicy(p)
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("policy-%d", s.seq.Add(1))
	}
	s.policies[stored.ID] = stored
	return nil
}

func (s *MemoryPolicyRepository) SavePolicies(ctx context.Context, policies []*permit.Policy) error {
	for _, p := range policies {
		if err := s.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryPolicyRepository) GetPoliciesFor(ctx context.Context, subject *permit.Subject, resource *permit.Resource) (*permit.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(resource), nil
}

func (s *MemoryPolicyRepository) GetPoliciesForBatch(ctx context.Context, subject *permit.Subject, resources []*permit.Resource) (map[string]*permit.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*permit.Policy, len(resources))
	for _, r := range resources {
		out[r.ID] = s.collect(r)
	}
	return out, nil
}

func (s *MemoryPolicyRepository) collect(resource *permit.Resource) *permit.Policy {
	merged := &permit.Policy{}
	for _, p := range s.policies {
		for _, rule := range p.Rules {
			if resource == nil || utils.CouldApply(rule.Resource, resource.ID, resource.Type) {
				merged.Rules = append(merged.Rules, rule)
			}
		}
	}
	return merged
}

// MemoryDelegationRepository keeps delegation records in-memory with
// per-delegate and per-delegator id indexes.
type MemoryDelegationRepository struct {
	mu          sync.RWMutex
	byID        map[string]*permit.Delegation
	byDelegate  map[string][]string
	byDelegator map[string][]string
}

func NewMemoryDelegationRepository() *MemoryDelegationRepository {
	return &MemoryDelegationRepository{
		byID:        make(map[string]*permit.Delegation),
		byDelegate:  make(map[string][]string),
		byDelegator: make(map[string][]string),
	}
}

func (s *MemoryDelegationRepository) Create(ctx context.Context, d *permit.Delegation) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delegation with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[d.ID]; exists {
		return fmt.Errorf("delegation %s already exists", d.ID)
	}
	s.byID[d.ID] = cloneDelegation(d)
	s.byDelegate[d.DelegateID] = append(s.byDelegate[d.DelegateID], d.ID)
	s.byDelegator[d.DelegatorID] = append(s.byDelegator[d.DelegatorID], d.ID)
	return nil
}

func (s *MemoryDelegationRepository) FindByID(ctx context.Context, id string) (*permit.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, permit.ErrDelegationNotFound
	}
	return cloneDelegation(d), nil
}

func (s *MemoryDelegationRepository) FindActiveForDelegate(ctx context.Context, delegateID string) ([]*permit.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeByIndex(s.byDelegate[delegateID]), nil
}

func (s *MemoryDelegationRepository) FindActiveByDelegator(ctx context.Context, delegatorID string) ([]*permit.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeByIndex(s.byDelegator[delegatorID]), nil
}

func (s *MemoryDelegationRepository) activeByIndex(ids []string) []*permit.Delegation {
	out := make([]*permit.Delegation, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.byID[id]; ok && d.IsActive() {
			out = append(out, cloneDelegation(d))
		}
	}
	return out
}

func (s *MemoryDelegationRepository) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return permit.ErrDelegationNotFound
	}
	now := time.Now()
	d.Status = permit.DelegationRevoked
	d.RevokedAt = &now
	return nil
}

// Cleanup removes Revoked records whose revocation, and expired records
// whose expiry, lies beyond the retention window. Active unexpired records
// are never touched.
func (s *MemoryDelegationRepository) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, d := range s.byID {
		if !purgeable(d, cutoff) {
			continue
		}
		delete(s.byID, id)
		s.byDelegate[d.DelegateID] = removeID(s.byDelegate[d.DelegateID], id)
		s.byDelegator[d.DelegatorID] = removeID(s.byDelegator[d.DelegatorID], id)
		removed++
	}
	return removed, nil
}

func purgeable(d *permit.Delegation, cutoff time.Time) bool {
	if d.Status == permit.DelegationRevoked {
		return d.RevokedAt != nil && d.RevokedAt.Before(cutoff)
	}
	if d.IsExpired() || d.Status == permit.DelegationExpired {
		return d.ExpiresAt != nil && d.ExpiresAt.Before(cutoff)
	}
	return false
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// RedisDelegationStore keeps delegation records as JSON values
// (key: delegation:{id}) with per-delegate and per-delegator set indexes.
type RedisDelegationStore struct {
	client *redis.Client
}

func NewRedisDelegationStore(client *redis.Client) *RedisDelegationStore {
	return &RedisDelegationStore{client: client}
}

func (s *RedisDelegationStore) recordKey(id string) string { return "delegation:" + id }

func (s *RedisDelegationStore) delegateKey(id string) string { return "delegation:delegate:" + id }

func (s *RedisDelegationStore) delegatorKey(id string) string { return "delegation:delegator:" + id }

const allDelegationsKey = "delegation:all"

func (s *RedisDelegationStore) Create(ctx context.Context, d *permit.Delegation) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delegation with id is required")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delegation %s: %w", d.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(d.ID), data, 0)
	pipe.SAdd(ctx, s.delegateKey(d.DelegateID), d.ID)
	pipe.SAdd(ctx, s.delegatorKey(d.DelegatorID), d.ID)
	pipe.SAdd(ctx, allDelegationsKey, d.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisDelegationStore) FindByID(ctx context.Context, id string) (*permit.Delegation, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, permit.ErrDelegationNotFound
	}
	if err != nil {
		return nil, err
	}
	var d permit.Delegation
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode delegation %s: %w", id, err)
	}
	return &d, nil
}

func (s *RedisDelegationStore) FindActiveForDelegate(ctx context.Context, delegateID string) ([]*permit.Delegation, error) {
	return s.activeByIndex(ctx, s.delegateKey(delegateID))
}

func (s *RedisDelegationStore) FindActiveByDelegator(ctx context.Context, delegatorID string) ([]*permit.Delegation, error) {
	return s.activeByIndex(ctx, s.delegatorKey(delegatorID))
}

func (s *RedisDelegationStore) activeByIndex(ctx context.Context, indexKey string) ([]*permit.Delegation, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*permit.Delegation, 0, len(ids))
	for _, id := range ids {
		d, err := s.FindByID(ctx, id)
		if err == permit.ErrDelegationNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.IsActive() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *RedisDelegationStore) Revoke(ctx context.Context, id string) error {
	d, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	d.Status = permit.DelegationRevoked
	d.RevokedAt = &now
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delegation %s: %w", id, err)
	}
	return s.client.Set(ctx, s.recordKey(id), data, 0).Err()
}

func (s *RedisDelegationStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	ids, err := s.client.SMembers(ctx, allDelegationsKey).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, id := range ids {
		d, err := s.FindByID(ctx, id)
		if err == permit.ErrDelegationNotFound {
			// record gone, drop the dangling index entry
			s.client.SRem(ctx, allDelegationsKey, id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if !purgeable(d, cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.delegateKey(d.DelegateID), id)
		pipe.SRem(ctx, s.delegatorKey(d.DelegatorID), id)
		pipe.SRem(ctx, allDelegationsKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLDelegationStore persists delegation records in SQL. Scope lists and
// metadata are stored as JSON columns; activity filtering (expiry) happens
// in Go so timestamp storage differences across drivers cannot skew it.
type SQLDelegationStore struct {
	db *squealx.DB
}

func NewSQLDelegationStore(db *squealx.DB) (*SQLDelegationStore, error) {
	return &SQLDelegationStore{db: db}, nil
}

const delegationColumns = `id, delegator_id, delegate_id, resources_json, actions_json, domain, created_at, expires_at, transitive, status, metadata_json, revoked_at`

func (s *SQLDelegationStore) Create(ctx context.Context, d *permit.Delegation) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delegation with id is required")
	}
	resB, _ := json.Marshal(d.Scope.Resources)
	actB, _ := json.Marshal(d.Scope.Actions)
	metaB, _ := json.Marshal(d.Metadata)
	q := `INSERT INTO delegations(` + delegationColumns + `)
VALUES(:id, :delegator_id, :delegate_id, :resources_json, :actions_json, :domain, :created_at, :expires_at, :transitive, :status, :metadata_json, :revoked_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             d.ID,
		"delegator_id":   d.DelegatorID,
		"delegate_id":    d.DelegateID,
		"resources_json": string(resB),
		"actions_json":   string(actB),
		"domain":         string(d.Scope.Domain),
		"created_at":     d.CreatedAt,
		"expires_at":     sqlNullTimeOrNil(d.ExpiresAt),
		"transitive":     boolToInt(d.Transitive),
		"status":         string(d.Status),
		"metadata_json":  string(metaB),
		"revoked_at":     sqlNullTimeOrNil(d.RevokedAt),
	})
	if err != nil {
		return fmt.Errorf("insert delegation %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLDelegationStore) FindByID(ctx context.Context, id string) (*permit.Delegation, error) {
	q := `SELECT ` + delegationColumns + ` FROM delegations WHERE id = :id`
	list, err := s.query(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, permit.ErrDelegationNotFound
	}
	return list[0], nil
}

func (s *SQLDelegationStore) FindActiveForDelegate(ctx context.Context, delegateID string) ([]*permit.Delegation, error) {
	q := `SELECT ` + delegationColumns + ` FROM delegations WHERE delegate_id = :delegate_id AND status = :status`
	list, err := s.query(ctx, q, map[string]any{"delegate_id": delegateID, "status": string(permit.DelegationActive)})
	if err != nil {
		return nil, err
	}
	return onlyActive(list), nil
}

func (s *SQLDelegationStore) FindActiveByDelegator(ctx context.Context, delegatorID string) ([]*permit.Delegation, error) {
	q := `SELECT ` + delegationColumns + ` FROM delegations WHERE delegator_id = :delegator_id AND status = :status`
	list, err := s.query(ctx, q, map[string]any{"delegator_id": delegatorID, "status": string(permit.DelegationActive)})
	if err != nil {
		return nil, err
	}
	return onlyActive(list), nil
}

func (s *SQLDelegationStore) Revoke(ctx context.Context, id string) error {
	q := `UPDATE delegations SET status = :status, revoked_at = :revoked_at WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         id,
		"status":     string(permit.DelegationRevoked),
		"revoked_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("revoke delegation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return permit.ErrDelegationNotFound
	}
	return nil
}

func (s *SQLDelegationStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	q := `SELECT ` + delegationColumns + ` FROM delegations WHERE status != :status`
	candidates, err := s.query(ctx, q, map[string]any{"status": string(permit.DelegationActive)})
	if err != nil {
		return 0, err
	}
	// expired-but-still-marked-active records age out too
	active, err := s.query(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE status = :status AND expires_at IS NOT NULL`,
		map[string]any{"status": string(permit.DelegationActive)})
	if err != nil {
		return 0, err
	}
	candidates = append(candidates, active...)

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, d := range candidates {
		if !purgeable(d, cutoff) {
			continue
		}
		if _, err := s.db.NamedExecContext(ctx,
			`DELETE FROM delegations WHERE id = :id`,
			map[string]any{"id": d.ID},
		); err != nil {
			return removed, fmt.Errorf("purge delegation %s: %w", d.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (s *SQLDelegationStore) query(ctx context.Context, q string, params map[string]any) ([]*permit.Delegation, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*permit.Delegation
	for r.Next() {
		var id, delegator, delegate, resourcesJSON, actionsJSON, domain, status, metaJSON string
		var createdRaw, expiresRaw, revokedRaw interface{}
		var transitive int
		if err := r.Scan(&id, &delegator, &delegate, &resourcesJSON, &actionsJSON, &domain, &createdRaw, &expiresRaw, &transitive, &status, &metaJSON, &revokedRaw); err != nil {
			return nil, err
		}
		d := &permit.Delegation{
			ID:          id,
			DelegatorID: delegator,
			DelegateID:  delegate,
			Transitive:  transitive != 0,
			Status:      permit.DelegationStatus(status),
			Scope:       permit.DelegationScope{Domain: permit.Domain(domain)},
		}
		_ = json.Unmarshal([]byte(resourcesJSON), &d.Scope.Resources)
		_ = json.Unmarshal([]byte(actionsJSON), &d.Scope.Actions)
		_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
		if t, ok := scanTime(createdRaw); ok {
			d.CreatedAt = t
		}
		if t, ok := scanTime(expiresRaw); ok {
			d.ExpiresAt = &t
		}
		if t, ok := scanTime(revokedRaw); ok {
			d.RevokedAt = &t
		}
		out = append(out, d)
	}
	return out, nil
}

func onlyActive(list []*permit.Delegation) []*permit.Delegation {
	out := make([]*permit.Delegation, 0, len(list))
	for _, d := range list {
		if d.IsActive() {
			out = append(out, d)
		}
	}
	return out
}

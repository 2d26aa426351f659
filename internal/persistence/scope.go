package persistence

import (
	"context"
	"fmt"

	"dora/internal/core"
)

// resetScope tears down every piece of state beyond the target state.
// Rows are removed dependents first: group assignments, groups,
// memberships, clusters. Resetting to Clustered clears labels in place.
func resetScope(ctx context.Context, q queryer, scope core.Scope, to core.ScopeState) error {
	if to >= core.StateGrouped {
		return nil
	}
	args := scopeArgs(scope)

	assignments := `
		DELETE FROM cluster_group_assignments
		WHERE group_id IN (SELECT id FROM cluster_groups WHERE ` + scopeWhere + `)
		   OR cluster_id IN (SELECT id FROM clusters WHERE ` + scopeWhere + `)`
	if _, err := q.ExecContext(ctx, assignments, append(args, args...)...); err != nil {
		return fmt.Errorf("failed to delete group assignments for %s: %w", scope, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM cluster_groups WHERE `+scopeWhere, args...); err != nil {
		return fmt.Errorf("failed to delete groups for %s: %w", scope, err)
	}
	if to == core.StateLabeled {
		return nil
	}

	if to == core.StateClustered {
		if _, err := q.ExecContext(ctx,
			`UPDATE clusters SET cluster_label = NULL, cluster_summary = NULL WHERE `+scopeWhere, args...); err != nil {
			return fmt.Errorf("failed to clear labels for %s: %w", scope, err)
		}
		return nil
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM cluster_memberships WHERE `+scopeWhere, args...); err != nil {
		return fmt.Errorf("failed to delete memberships for %s: %w", scope, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM clusters WHERE `+scopeWhere, args...); err != nil {
		return fmt.Errorf("failed to delete clusters for %s: %w", scope, err)
	}
	return nil
}

func (s *SQLiteDB) ScopeStatus(ctx context.Context, scope core.Scope) (*ScopeStatus, error) {
	status := &ScopeStatus{Scope: scope}
	args := scopeArgs(scope)

	var err error
	if status.Embeddings, err = s.embeddings.CountForScope(ctx, scope.Company, scope.Kind, scope.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&status.Clusters, `SELECT COUNT(*) FROM clusters WHERE ` + scopeWhere},
		{&status.Labeled, `SELECT COUNT(*) FROM clusters WHERE ` + scopeWhere + ` AND cluster_label IS NOT NULL AND cluster_label != ''`},
		{&status.Clustered, `SELECT COUNT(*) FROM cluster_memberships WHERE ` + scopeWhere + ` AND cluster_id IS NOT NULL`},
		{&status.Noise, `SELECT COUNT(*) FROM cluster_memberships WHERE ` + scopeWhere + ` AND cluster_id IS NULL`},
		{&status.Groups, `SELECT COUNT(*) FROM cluster_groups WHERE ` + scopeWhere},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to read status for %s: %w", scope, err)
		}
	}

	status.State = core.DeriveState(status.Clusters, status.Labeled, status.Groups)
	return status, nil
}

func (s *SQLiteDB) ListScopes(ctx context.Context) ([]core.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_name, kind, embedding_type, dimensions FROM clusters
		UNION
		SELECT company_name, kind, embedding_type, dimensions FROM cluster_memberships
		ORDER BY 1, 2, 4`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []core.Scope
	for rows.Next() {
		var scope core.Scope
		var kind, embeddingType string
		if err := rows.Scan(&scope.Company, &kind, &embeddingType, &scope.Dimensions); err != nil {
			return nil, err
		}
		scope.Kind = core.ItemKind(kind)
		scope.EmbeddingType = core.EmbeddingType(embeddingType)
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

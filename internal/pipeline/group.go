package pipeline

import (
	"context"
	"fmt"

	"dora/internal/core"
	"dora/internal/grouping"
	"dora/internal/logger"
	"dora/internal/render"
)

// GroupOptions selects the scope to group
type GroupOptions struct {
	Scope core.Scope
}

// GroupResult describes a grouping run
type GroupResult struct {
	Scope      core.Scope
	Clusters   int
	Unlabeled  int
	Groups     []core.ClusterGroup
	Repairs    grouping.Repairs
	ReportPath string
}

// Group asks the grouper for thematic groups over every cluster in scope,
// repairs the proposal into an exact partition and replaces the scope's
// groups with it. Fewer than two clusters leave nothing to group.
func (p *Pipeline) Group(ctx context.Context, opts GroupOptions) (*GroupResult, error) {
	if p.grouper == nil {
		return nil, ErrNoLLM
	}
	scope := opts.Scope
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := p.requireCompany(ctx, scope.Company); err != nil {
		return nil, err
	}

	clusters, err := p.db.Clusters().ListByScope(ctx, scope, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	if len(clusters) < 2 {
		return nil, fmt.Errorf("%w: %d cluster(s) in %s, need at least 2 for grouping", ErrNothingToDo, len(clusters), scope)
	}

	result := &GroupResult{Scope: scope, Clusters: len(clusters)}
	ids := make([]int64, len(clusters))
	byID := make(map[int64]core.Cluster, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID
		byID[c.ID] = c
		if !c.IsLabeled() {
			result.Unlabeled++
		}
	}
	if result.Unlabeled > 0 {
		logger.Warn("some clusters have no label; run label first for better groups", "stage", "group", "scope", scope.String(), "unlabeled", result.Unlabeled)
	}

	p.printf("🤖 Grouping %d clusters in %s...\n", len(clusters), scope)
	proposed, err := p.grouper.GroupClusters(ctx, grouping.Briefs(clusters), p.config.MinGroups, p.config.MaxGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to generate groups: %w", err)
	}

	groups, repairs := grouping.Repair(proposed, clusters)
	result.Repairs = repairs
	for _, d := range repairs.Duplicates {
		logger.Warn("cluster assigned to several groups, keeping first", "stage", "group", "cluster_id", d.ClusterID, "kept_in", d.KeptIn, "dropped_in", d.DroppedIn)
	}
	if len(repairs.Unknown) > 0 {
		logger.Warn("dropped unknown cluster ids", "stage", "group", "ids", repairs.Unknown)
	}
	if len(repairs.Missing) > 0 {
		p.printf("   ⚠️  %d clusters were not assigned; created individual groups\n", len(repairs.Missing))
	}
	if err := grouping.Verify(groups, ids); err != nil {
		return nil, fmt.Errorf("grouping does not partition the clusters: %w", err)
	}

	saved, err := p.db.Groups().ReplaceScope(ctx, scope, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to save groups: %w", err)
	}
	result.Groups = saved
	p.printf("   ✓ Saved %d groups covering %d clusters\n", len(saved), len(clusters))

	if p.config.WriteReports {
		report := render.RenderGroupingReport(scope, saved, byID)
		path, err := render.WriteReport(report, p.config.OutputDir, render.GroupingReportName(scope))
		if err != nil {
			return result, err
		}
		result.ReportPath = path
		p.printf("📄 Report saved to: %s\n", path)
	}
	return result, nil
}

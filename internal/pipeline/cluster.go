package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dora/internal/clustering"
	"dora/internal/core"
	"dora/internal/logger"
	"dora/internal/persistence"
	"dora/internal/render"
)

// ClusterOptions selects the scope to cluster
type ClusterOptions struct {
	Scope core.Scope
}

// ClusterResult describes a clustering run
type ClusterResult struct {
	Scope      core.Scope
	RunID      string
	Items      int
	Clusters   []core.Cluster
	Noise      int
	Silhouette float64
	ReportPath string
}

// Cluster runs HDBSCAN over the scope's embeddings and replaces every
// cluster, membership and group assignment of the scope with the new
// partition in one transaction. A run with only noise is not an error.
func (p *Pipeline) Cluster(ctx context.Context, opts ClusterOptions) (*ClusterResult, error) {
	scope := opts.Scope
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := p.requireCompany(ctx, scope.Company); err != nil {
		return nil, err
	}

	embeddings, err := p.db.Embeddings().ListForScope(ctx, scope.Company, scope.Kind, scope.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no %dD %s embeddings for %s", ErrNothingToDo, scope.Dimensions, scope.Kind, scope.Company)
	}

	points := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		points[i] = e.Vector
	}

	p.printf("🔗 Clustering %d %s (%s)...\n", len(points), scope.Kind, scope)
	hdb, err := clustering.HDBSCAN(points, p.config.HDBSCAN)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster %s: %w", scope, err)
	}

	assignments := make([]persistence.Assignment, len(embeddings))
	for i, e := range embeddings {
		assignments[i] = persistence.Assignment{ItemID: e.ItemID, Label: hdb.Labels[i]}
	}

	runID := uuid.NewString()
	clusters, err := p.db.Clusters().ReplaceScope(ctx, scope, runID, assignments)
	if err != nil {
		return nil, fmt.Errorf("failed to save clusters: %w", err)
	}

	result := &ClusterResult{
		Scope:      scope,
		RunID:      runID,
		Items:      len(embeddings),
		Clusters:   clusters,
		Noise:      hdb.NoiseCount,
		Silhouette: clustering.AverageSilhouetteScore(points, hdb.Labels),
	}
	p.printf("   ✓ %d clusters, %d noise items (run %s)\n", len(clusters), hdb.NoiseCount, runID)

	if p.config.WriteReports {
		report, err := p.clusterReport(ctx, result, assignments)
		if err != nil {
			return result, err
		}
		path, err := render.WriteReport(render.RenderClusterReport(*report), p.config.OutputDir, render.ClusterReportName(scope))
		if err != nil {
			return result, err
		}
		result.ReportPath = path
		p.printf("📄 Report saved to: %s\n", path)
	}
	return result, nil
}

// clusterReport resolves every member's item and source document. A source
// that cannot be resolved is logged and left out of the report.
func (p *Pipeline) clusterReport(ctx context.Context, result *ClusterResult, assignments []persistence.Assignment) (*render.ClusterReport, error) {
	items, err := p.itemsByID(ctx, result.Scope.Company, result.Scope.Kind)
	if err != nil {
		return nil, err
	}

	sources := make(map[core.SourceRef]string)
	reportItem := func(id int64) render.ReportItem {
		item := items[id]
		ri := render.ReportItem{ItemID: id, Text: item.Text, Quote: item.Quote, Source: item.Source}
		if item.Source.ID == "" {
			return ri
		}
		text, ok := sources[item.Source]
		if !ok {
			src, err := p.db.Sources().Get(ctx, item.Source)
			if err != nil {
				logger.Warn("source lookup failed", "stage", "cluster", "item_id", id, "source", item.Source.String(), "error", err.Error())
			} else {
				text = src.Text
			}
			sources[item.Source] = text
		}
		ri.SourceText = text
		return ri
	}

	report := &render.ClusterReport{
		Scope:      result.Scope,
		RunID:      result.RunID,
		Total:      result.Items,
		Clusters:   make([]render.ClusterSection, len(result.Clusters)),
		Silhouette: result.Silhouette,
	}
	for label, c := range result.Clusters {
		report.Clusters[label] = render.ClusterSection{Label: label, ClusterID: c.ID}
	}
	for _, a := range assignments {
		if a.Label == clustering.NoiseLabel {
			report.Noise = append(report.Noise, reportItem(a.ItemID))
			continue
		}
		section := &report.Clusters[a.Label]
		section.Items = append(section.Items, reportItem(a.ItemID))
	}
	return report, nil
}

package pipeline

import (
	"context"
	"fmt"

	"dora/internal/clustering"
	"dora/internal/core"
	"dora/internal/logger"
)

// LabelOptions selects the clusters to label
type LabelOptions struct {
	Scope core.Scope
	Force bool // relabel clusters that already have a label
}

// LabeledCluster is one successful labeling
type LabeledCluster struct {
	ClusterID int64
	Label     string
	Summary   string
}

// LabelResult counts the outcome per cluster
type LabelResult struct {
	Scope      core.Scope
	Candidates int
	Labeled    []LabeledCluster
	Skipped    int // clusters without member embeddings
	Failed     int
}

// Label asks the labeler for a label and summary of every unlabeled cluster
// in scope, or every cluster when Force is set. Each cluster is shown its k
// members nearest the centroid; only their texts are sent. One cluster's
// failure is logged and counted and the loop moves on; each label is stored
// as soon as it arrives.
func (p *Pipeline) Label(ctx context.Context, opts LabelOptions) (*LabelResult, error) {
	if p.labeler == nil {
		return nil, ErrNoLLM
	}
	scope := opts.Scope
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := p.requireCompany(ctx, scope.Company); err != nil {
		return nil, err
	}

	all, err := p.db.Clusters().ListByScope(ctx, scope, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no clusters in %s", ErrNothingToDo, scope)
	}

	clusters := all
	if !opts.Force {
		clusters = clusters[:0:0]
		for _, c := range all {
			if !c.IsLabeled() {
				clusters = append(clusters, c)
			}
		}
	}

	result := &LabelResult{Scope: scope, Candidates: len(clusters)}
	if len(clusters) == 0 {
		p.printf("   ✓ All %d clusters already labeled (use --force to relabel)\n", len(all))
		return result, nil
	}

	k := p.config.NearestK
	if k <= 0 {
		k = clustering.DefaultNearestK
	}

	p.printf("🏷️  Labeling %d clusters in %s...\n", len(clusters), scope)
	for i, c := range clusters {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := logger.With("stage", "label", "cluster_id", c.ID)

		members, err := p.db.Clusters().MemberEmbeddings(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load member embeddings")
			result.Failed++
			continue
		}
		if len(members) == 0 {
			log.Warn().Msg("cluster has no member embeddings, skipping")
			result.Skipped++
			continue
		}

		nearest, err := clustering.NearestToCentroid(members, k)
		if err != nil {
			log.Error().Err(err).Msg("failed to select near-centroid members")
			result.Failed++
			continue
		}
		texts := make([]string, len(nearest))
		for j, n := range nearest {
			texts[j] = n.Member.Text
		}

		label, err := p.labeler.LabelCluster(ctx, texts)
		if err != nil {
			log.Error().Err(err).Msg("labeling failed")
			result.Failed++
			continue
		}
		if err := p.db.Clusters().UpdateLabel(ctx, c.ID, label.Label, label.Summary); err != nil {
			log.Error().Err(err).Msg("failed to save label")
			result.Failed++
			continue
		}

		result.Labeled = append(result.Labeled, LabeledCluster{ClusterID: c.ID, Label: label.Label, Summary: label.Summary})
		p.printf("   [%d/%d] Cluster %d: %s\n", i+1, len(clusters), c.ID, label.Label)
	}

	p.printf("   ✓ Labeled %d, skipped %d, failed %d\n", len(result.Labeled), result.Skipped, result.Failed)
	return result, nil
}

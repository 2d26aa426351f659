package pipeline

import (
	"context"
	"fmt"

	"dora/internal/core"
	"dora/internal/logger"
	"dora/internal/reduction"
)

// ReduceOptions selects the scope to reduce
type ReduceOptions struct {
	Company    string
	Kind       core.ItemKind
	Components int
	Force      bool
}

// ReduceResult describes a reduction run
type ReduceResult struct {
	Scope     core.Scope
	Source    int // source embeddings read
	Written   int
	Deleted   int64
	Skipped   bool // every source embedding already had a reduced twin
	Neighbors int
	Init      string
}

// Reduce fits UMAP over the scope's source embeddings and stores one reduced
// vector per item. The input is always the source dimensionality, never
// another reduced embedding. All reduced vectors of a run are written in one
// transaction since they share a single fit.
func (p *Pipeline) Reduce(ctx context.Context, opts ReduceOptions) (*ReduceResult, error) {
	if opts.Components <= 0 || opts.Components == core.OriginalDimensions {
		return nil, fmt.Errorf("reduced dimensionality must be positive and differ from %d, got %d", core.OriginalDimensions, opts.Components)
	}
	scope := core.NewScope(opts.Company, opts.Kind, opts.Components)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := p.requireCompany(ctx, opts.Company); err != nil {
		return nil, err
	}

	result := &ReduceResult{Scope: scope}
	embeddings := p.db.Embeddings()

	source, err := embeddings.ListForScope(ctx, opts.Company, opts.Kind, core.OriginalDimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to load source embeddings: %w", err)
	}
	result.Source = len(source)
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: no %d-dimensional %s embeddings for %s", ErrNothingToDo, core.OriginalDimensions, opts.Kind, opts.Company)
	}

	existing, err := embeddings.CountForScope(ctx, opts.Company, opts.Kind, opts.Components)
	if err != nil {
		return nil, fmt.Errorf("failed to count reduced embeddings: %w", err)
	}
	if !opts.Force && existing >= len(source) {
		p.printf("   ✓ All %d %s already have %dD embeddings (use --force to regenerate)\n", len(source), opts.Kind, opts.Components)
		result.Skipped = true
		return result, nil
	}

	items, err := p.itemsByID(ctx, opts.Company, opts.Kind)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(source))
	for i, e := range source {
		vectors[i] = e.Vector
	}

	cfg := p.config.Reduction
	cfg.Components = opts.Components
	p.printf("🔬 Reducing %d %s from %dD to %dD...\n", len(source), opts.Kind, core.OriginalDimensions, opts.Components)
	fit, err := reduction.Reduce(vectors, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce %s: %w", scope, err)
	}
	result.Neighbors = fit.Neighbors
	result.Init = fit.Init
	if fit.Neighbors < cfg.Neighbors {
		logger.Info("clamped UMAP neighbors for small input", "stage", "reduce", "neighbors", fit.Neighbors, "points", len(source))
	}

	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A partial set comes from an older fit; replace it wholesale.
	if existing > 0 {
		deleted, err := tx.Embeddings().DeleteForScope(ctx, opts.Company, opts.Kind, opts.Components)
		if err != nil {
			return nil, fmt.Errorf("failed to delete reduced embeddings: %w", err)
		}
		result.Deleted = deleted
	}

	for i, e := range source {
		reduced := &core.Embedding{
			ItemID:     e.ItemID,
			Kind:       opts.Kind,
			Dimensions: opts.Components,
			Vector:     fit.Embedding[i],
		}
		if err := tx.Embeddings().Create(ctx, reduced, items[e.ItemID].Text); err != nil {
			return nil, fmt.Errorf("failed to store reduced embedding for item %d: %w", e.ItemID, err)
		}
		result.Written++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reduced embeddings: %w", err)
	}

	p.printf("   ✓ Stored %d %dD embeddings (neighbors=%d, init=%s)\n", result.Written, opts.Components, fit.Neighbors, fit.Init)
	return result, nil
}

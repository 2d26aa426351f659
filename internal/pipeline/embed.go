package pipeline

import (
	"context"
	"fmt"
	"strings"

	"dora/internal/core"
	"dora/internal/logger"
)

// EmbedOptions selects the items to embed
type EmbedOptions struct {
	Company string
	Kind    core.ItemKind
	Force   bool // delete existing source embeddings first
	Limit   int  // 0 means no limit
}

// EmbedResult counts the outcome per item
type EmbedResult struct {
	Missing    int // items without a source embedding
	Duplicates int // items sharing text with an earlier item
	Embedded   int
	Failed     int
	Deleted    int64
}

// Embed generates source embeddings for the company's items of a kind that
// have none. Items whose text repeats an earlier item's are skipped, the
// lowest id wins. Each vector is stored as soon as it arrives and one item's
// failure does not stop the run.
func (p *Pipeline) Embed(ctx context.Context, opts EmbedOptions) (*EmbedResult, error) {
	if p.embedder == nil {
		return nil, ErrNoLLM
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownKind, opts.Kind)
	}
	if err := p.requireCompany(ctx, opts.Company); err != nil {
		return nil, err
	}

	result := &EmbedResult{}
	if opts.Force {
		deleted, err := p.db.Embeddings().DeleteForScope(ctx, opts.Company, opts.Kind, core.OriginalDimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to delete embeddings: %w", err)
		}
		result.Deleted = deleted
	}

	missing, err := p.db.Embeddings().MissingItems(ctx, opts.Company, opts.Kind, core.OriginalDimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list items without embeddings: %w", err)
	}
	result.Missing = len(missing)
	if len(missing) == 0 {
		return nil, fmt.Errorf("%w: every %s item of %s has an embedding", ErrNothingToDo, opts.Kind.Singular(), opts.Company)
	}

	seen := make(map[string]bool, len(missing))
	todo := make([]core.Item, 0, len(missing))
	for _, item := range missing {
		key := strings.TrimSpace(item.Text)
		if seen[key] {
			result.Duplicates++
			continue
		}
		seen[key] = true
		todo = append(todo, item)
	}
	if opts.Limit > 0 && len(todo) > opts.Limit {
		todo = todo[:opts.Limit]
	}

	p.printf("🧠 Embedding %d %s for %s (%d duplicates skipped)...\n", len(todo), opts.Kind, opts.Company, result.Duplicates)
	for i, item := range todo {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := logger.With("stage", "embed", "item_id", item.ID)

		vector, err := p.embedder.Embed(ctx, item.Text)
		if err != nil {
			log.Error().Err(err).Msg("embedding failed")
			result.Failed++
			continue
		}
		if len(vector) != core.OriginalDimensions {
			log.Error().Int("dimensions", len(vector)).Msg("embedding has wrong dimensionality")
			result.Failed++
			continue
		}
		e := &core.Embedding{ItemID: item.ID, Kind: opts.Kind, Dimensions: core.OriginalDimensions, Vector: vector}
		if err := p.db.Embeddings().Create(ctx, e, item.Text); err != nil {
			log.Error().Err(err).Msg("failed to save embedding")
			result.Failed++
			continue
		}
		result.Embedded++
		if (i+1)%50 == 0 {
			p.printf("   • %d/%d\n", i+1, len(todo))
		}
	}

	p.printf("   ✓ Embedded %d, failed %d\n", result.Embedded, result.Failed)
	return result, nil
}

package pipeline

import (
	"context"
	"errors"

	"dora/internal/llm"
)

var (
	// ErrNothingToDo is a recoverable condition: the scope has no input for
	// the stage. Callers report it and exit normally.
	ErrNothingToDo = errors.New("nothing to do")
	// ErrNoLLM is returned by stages that need a model when none is configured.
	ErrNoLLM = errors.New("no LLM client configured")
)

// Labeler names one cluster from its near-centroid item texts
type Labeler interface {
	// LabelCluster returns a 2-3 word label and a one-sentence summary
	LabelCluster(ctx context.Context, texts []string) (llm.ClusterLabel, error)
}

// Grouper proposes thematic groups over the clusters of a scope
type Grouper interface {
	// GroupClusters returns between minGroups and maxGroups proposed groups.
	// The proposal may double-assign or omit clusters.
	GroupClusters(ctx context.Context, briefs []llm.ClusterBrief, minGroups, maxGroups int) (llm.Grouping, error)
}

// Embedder creates source embeddings for item texts
type Embedder interface {
	// Embed returns a vector at the source dimensionality
	Embed(ctx context.Context, text string) ([]float64, error)
}

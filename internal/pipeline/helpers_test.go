package pipeline

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dora/internal/core"
	"dora/internal/llm"
	"dora/internal/persistence"
)

const testCompany = "acme"

func newTestDB(t *testing.T) persistence.Database {
	t.Helper()
	db, err := persistence.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestPipeline(t *testing.T, db persistence.Database, labeler Labeler, grouper Grouper, embedder Embedder) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	p := NewPipeline(db, labeler, grouper, embedder, cfg)
	p.SetOutput(io.Discard)
	return p
}

// seedItems creates the test company and one review-sourced item per text.
func seedItems(t *testing.T, db persistence.Database, kind core.ItemKind, texts []string) []int64 {
	t.Helper()
	ctx := context.Background()

	c, err := db.Companies().GetByName(ctx, testCompany)
	if err != nil {
		c = &core.Company{Name: testCompany}
		if err := db.Companies().Create(ctx, c); err != nil {
			t.Fatalf("create company: %v", err)
		}
	}

	ids := make([]int64, len(texts))
	for i, text := range texts {
		ref := core.SourceRef{Kind: core.SourceReview, ID: fmt.Sprintf("%s-%d-%d", kind, i, time.Now().UnixNano())}
		if err := db.Sources().Create(ctx, &core.Source{Ref: ref, CompanyID: c.ID, Text: "review body: " + text}); err != nil {
			t.Fatalf("create source: %v", err)
		}
		item := &core.Item{Kind: kind, Text: text, Quote: text, Source: ref}
		if err := db.Items().Create(ctx, item); err != nil {
			t.Fatalf("create item: %v", err)
		}
		ids[i] = item.ID
	}
	return ids
}

func numberedTexts(prefix string, n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("%s %d", prefix, i)
	}
	return texts
}

func seedVectors(t *testing.T, db persistence.Database, kind core.ItemKind, ids []int64, vectors [][]float64) {
	t.Helper()
	for i, id := range ids {
		e := &core.Embedding{ItemID: id, Kind: kind, Dimensions: len(vectors[i]), Vector: vectors[i]}
		if err := db.Embeddings().Create(context.Background(), e, "text"); err != nil {
			t.Fatalf("create embedding: %v", err)
		}
	}
}

// blobPoints returns two dense 2D blobs of six points and two outliers.
func blobPoints() [][]float64 {
	offsets := [][]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1}, {0.05, 0.05}, {0.05, 0.12}}
	var points [][]float64
	for _, center := range [][]float64{{0, 0}, {10, 10}} {
		for _, o := range offsets {
			points = append(points, []float64{center[0] + o[0], center[1] + o[1]})
		}
	}
	return append(points, []float64{5, -20}, []float64{-20, 5})
}

func randomVectors(n, dims int) [][]float64 {
	rng := rand.New(rand.NewSource(11))
	vectors := make([][]float64, n)
	for i := range vectors {
		vectors[i] = make([]float64, dims)
		for d := range vectors[i] {
			vectors[i][d] = rng.NormFloat64()
		}
	}
	return vectors
}

// partition writes clusters directly: items[i] gets labels[i].
func partition(t *testing.T, db persistence.Database, scope core.Scope, ids []int64, labels []int) []core.Cluster {
	t.Helper()
	assignments := make([]persistence.Assignment, len(ids))
	for i := range ids {
		assignments[i] = persistence.Assignment{ItemID: ids[i], Label: labels[i]}
	}
	clusters, err := db.Clusters().ReplaceScope(context.Background(), scope, "run-test", assignments)
	if err != nil {
		t.Fatalf("ReplaceScope: %v", err)
	}
	return clusters
}

type fakeLabeler struct {
	calls  [][]string
	failOn string
}

func (f *fakeLabeler) LabelCluster(ctx context.Context, texts []string) (llm.ClusterLabel, error) {
	f.calls = append(f.calls, texts)
	for _, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return llm.ClusterLabel{}, fmt.Errorf("model unavailable")
		}
	}
	return llm.ClusterLabel{
		Label:   "Label " + texts[0],
		Summary: fmt.Sprintf("Summary of %d texts.", len(texts)),
	}, nil
}

type fakeGrouper struct {
	calls   int
	propose func(briefs []llm.ClusterBrief) llm.Grouping
	err     error
}

func (f *fakeGrouper) GroupClusters(ctx context.Context, briefs []llm.ClusterBrief, minGroups, maxGroups int) (llm.Grouping, error) {
	f.calls++
	if f.err != nil {
		return llm.Grouping{}, f.err
	}
	return f.propose(briefs), nil
}

type fakeEmbedder struct {
	calls  []string
	failOn string
	dims   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls = append(f.calls, text)
	if f.failOn != "" && text == f.failOn {
		return nil, fmt.Errorf("rate limited")
	}
	dims := f.dims
	if dims == 0 {
		dims = core.OriginalDimensions
	}
	v := make([]float64, dims)
	v[len(text)%dims] = 1
	return v, nil
}

package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dora/internal/core"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedItems creates a company with n items of the kind, each extracted from
// its own review, and returns the item ids in creation order.
func seedItems(t *testing.T, db Database, company string, kind core.ItemKind, n int) []int64 {
	t.Helper()
	ctx := context.Background()

	c, err := db.Companies().GetByName(ctx, company)
	if err != nil {
		c = &core.Company{Name: company}
		if err := db.Companies().Create(ctx, c); err != nil {
			t.Fatalf("create company: %v", err)
		}
	}

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ref := core.SourceRef{Kind: core.SourceReview, ID: fmt.Sprintf("%s-%s-review-%d", company, kind, i)}
		if err := db.Sources().Create(ctx, &core.Source{Ref: ref, CompanyID: c.ID, Text: fmt.Sprintf("review body %d", i)}); err != nil {
			t.Fatalf("create source: %v", err)
		}
		item := &core.Item{Kind: kind, Text: fmt.Sprintf("%s item %d", kind, i), Source: ref}
		if err := db.Items().Create(ctx, item); err != nil {
			t.Fatalf("create item: %v", err)
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func seedEmbeddings(t *testing.T, db Database, kind core.ItemKind, ids []int64, dims int) {
	t.Helper()
	for i, id := range ids {
		v := make([]float64, dims)
		for d := range v {
			v[d] = float64(i) + float64(d)/10
		}
		if err := db.Embeddings().Create(context.Background(), &core.Embedding{ItemID: id, Kind: kind, Dimensions: dims, Vector: v}, "text"); err != nil {
			t.Fatalf("create embedding: %v", err)
		}
	}
}

func labelsToAssignments(ids []int64, labels []int) []Assignment {
	out := make([]Assignment, len(ids))
	for i := range ids {
		out[i] = Assignment{ItemID: ids[i], Label: labels[i]}
	}
	return out
}

package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"dora/internal/core"
	"dora/internal/llm"
	"dora/internal/persistence"
	"dora/internal/reduction"
)

func TestClusterIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 14))
	seedVectors(t, db, core.KindComplaints, ids, blobPoints())
	p := newTestPipeline(t, db, nil, nil, nil)

	first, err := p.Cluster(ctx, ClusterOptions{Scope: scope})
	if err != nil {
		t.Fatalf("first Cluster: %v", err)
	}
	second, err := p.Cluster(ctx, ClusterOptions{Scope: scope})
	if err != nil {
		t.Fatalf("second Cluster: %v", err)
	}

	for _, r := range []*ClusterResult{first, second} {
		if len(r.Clusters) != 2 || r.Noise != 2 {
			t.Fatalf("expected 2 clusters and 2 noise items, got %d and %d", len(r.Clusters), r.Noise)
		}
		total := r.Noise
		for _, c := range r.Clusters {
			total += c.Size
		}
		if total != len(ids) {
			t.Errorf("clusters + noise = %d, want %d", total, len(ids))
		}
	}
	if first.RunID == second.RunID {
		t.Error("each run should get its own run id")
	}

	stored, err := db.Clusters().ListByScope(ctx, scope, false)
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected exactly 2 stored clusters, got %d", len(stored))
	}
	oldIDs := map[int64]bool{first.Clusters[0].ID: true, first.Clusters[1].ID: true}
	for _, c := range stored {
		if oldIDs[c.ID] {
			t.Errorf("cluster %d from the first run survived re-clustering", c.ID)
		}
		if c.RunID != second.RunID {
			t.Errorf("cluster %d has run %s, want %s", c.ID, c.RunID, second.RunID)
		}
	}

	status, err := db.ScopeStatus(ctx, scope)
	if err != nil {
		t.Fatalf("ScopeStatus: %v", err)
	}
	if status.Noise != 2 || status.Clustered != 12 {
		t.Errorf("status = %+v, want 12 clustered and 2 noise", status)
	}
}

func TestClusterWritesReportWithSourceText(t *testing.T) {
	db := newTestDB(t)
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 14))
	seedVectors(t, db, core.KindComplaints, ids, blobPoints())
	p := newTestPipeline(t, db, nil, nil, nil)

	result, err := p.Cluster(context.Background(), ClusterOptions{Scope: scope})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if !strings.HasSuffix(result.ReportPath, "clusters_complaints_reduced_2d_report.txt") {
		t.Errorf("report path = %q", result.ReportPath)
	}
	content, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	for _, want := range []string{"CLUSTER 0", "CLUSTER 1", "NOISE (Unclustered) - 2", "review body: complaint 13"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestClusterRecoverableConditions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := newTestPipeline(t, db, nil, nil, nil)

	_, err := p.Cluster(ctx, ClusterOptions{Scope: core.NewScope("nobody", core.KindComplaints, 5)})
	if !errors.Is(err, persistence.ErrCompanyNotFound) || !IsRecoverable(err) {
		t.Errorf("unknown company: got %v", err)
	}

	seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 3))
	_, err = p.Cluster(ctx, ClusterOptions{Scope: core.NewScope(testCompany, core.KindComplaints, 5)})
	if !errors.Is(err, ErrNothingToDo) || !IsRecoverable(err) {
		t.Errorf("no embeddings: got %v", err)
	}
}

func TestClusterAllNoiseIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	scope := core.NewScope(testCompany, core.KindInsights, 2)
	ids := seedItems(t, db, core.KindInsights, numberedTexts("insight", 3))
	seedVectors(t, db, core.KindInsights, ids, [][]float64{{0, 0}, {5, 5}, {9, 1}})
	p := newTestPipeline(t, db, nil, nil, nil)

	result, err := p.Cluster(context.Background(), ClusterOptions{Scope: scope})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(result.Clusters) != 0 || result.Noise != 3 {
		t.Errorf("expected all noise, got %d clusters, %d noise", len(result.Clusters), result.Noise)
	}
}

func TestLabelForceVersusDefault(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 9))
	seedVectors(t, db, core.KindComplaints, ids, randomVectors(9, 2))
	clusters := partition(t, db, scope, ids, []int{0, 0, 0, 1, 1, 1, 2, 2, 2})

	if err := db.Clusters().UpdateLabel(ctx, clusters[1].ID, "Existing", "Already labeled."); err != nil {
		t.Fatalf("UpdateLabel: %v", err)
	}

	labeler := &fakeLabeler{}
	p := newTestPipeline(t, db, labeler, nil, nil)

	result, err := p.Label(ctx, LabelOptions{Scope: scope})
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(labeler.calls) != 2 || len(result.Labeled) != 2 {
		t.Fatalf("default run: %d calls, %d labeled, want 2 and 2", len(labeler.calls), len(result.Labeled))
	}
	kept, err := db.Clusters().Get(ctx, clusters[1].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if kept.DisplayLabel() != "Existing" {
		t.Errorf("default run overwrote label: %q", kept.DisplayLabel())
	}

	labeler.calls = nil
	result, err = p.Label(ctx, LabelOptions{Scope: scope, Force: true})
	if err != nil {
		t.Fatalf("forced Label: %v", err)
	}
	if len(labeler.calls) != 3 || len(result.Labeled) != 3 {
		t.Fatalf("forced run: %d calls, %d labeled, want 3 and 3", len(labeler.calls), len(result.Labeled))
	}
	overwritten, _ := db.Clusters().Get(ctx, clusters[1].ID)
	if overwritten.DisplayLabel() == "Existing" {
		t.Error("forced run should overwrite the existing label")
	}

	status, _ := db.ScopeStatus(ctx, scope)
	if status.State != core.StateLabeled {
		t.Errorf("state = %s, want labeled", status.State)
	}

	labeler.calls = nil
	result, err = p.Label(ctx, LabelOptions{Scope: scope})
	if err != nil || len(labeler.calls) != 0 || result.Candidates != 0 {
		t.Errorf("fully labeled scope: calls=%d result=%+v err=%v", len(labeler.calls), result, err)
	}
}

func TestLabelSendsNearestTextsAndIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scope := core.NewScope(testCompany, core.KindUseCases, 2)

	texts := append(numberedTexts("travel", 12), numberedTexts("broken", 3)...)
	ids := seedItems(t, db, core.KindUseCases, texts)
	orphans := seedItems(t, db, core.KindUseCases, numberedTexts("orphan", 2))
	seedVectors(t, db, core.KindUseCases, ids, randomVectors(len(ids), 2))

	labels := make([]int, 0, len(ids)+len(orphans))
	for i := range ids {
		if i < 12 {
			labels = append(labels, 0)
		} else {
			labels = append(labels, 1)
		}
	}
	labels = append(labels, 2, 2)
	partition(t, db, scope, append(ids, orphans...), labels)

	labeler := &fakeLabeler{failOn: "broken"}
	p := newTestPipeline(t, db, labeler, nil, nil)
	p.config.NearestK = 10

	result, err := p.Label(ctx, LabelOptions{Scope: scope})
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(result.Labeled) != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 labeled, 1 failed, 1 skipped", result)
	}
	if len(labeler.calls) != 2 {
		t.Fatalf("expected 2 labeler calls, got %d", len(labeler.calls))
	}
	if got := len(labeler.calls[0]); got != 10 {
		t.Errorf("first cluster sent %d texts, want k=10", got)
	}
	if got := len(labeler.calls[1]); got != 3 {
		t.Errorf("small cluster sent %d texts, want all 3", got)
	}
	for _, text := range labeler.calls[0] {
		if !strings.HasPrefix(text, "travel ") {
			t.Errorf("text %q is not a member of the cluster", text)
		}
	}
}

func TestLabelRequiresClusters(t *testing.T) {
	db := newTestDB(t)
	seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 1))
	p := newTestPipeline(t, db, &fakeLabeler{}, nil, nil)

	_, err := p.Label(context.Background(), LabelOptions{Scope: core.NewScope(testCompany, core.KindComplaints, 5)})
	if !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}

	noLLM := newTestPipeline(t, db, nil, nil, nil)
	if _, err := noLLM.Label(context.Background(), LabelOptions{Scope: core.NewScope(testCompany, core.KindComplaints, 5)}); !errors.Is(err, ErrNoLLM) {
		t.Errorf("expected ErrNoLLM, got %v", err)
	}
}

func TestGroupRepairsAndCoversEveryCluster(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 8))
	clusters := partition(t, db, scope, ids, []int{0, 0, 1, 1, 2, 2, 3, 3})
	if err := db.Clusters().UpdateLabel(ctx, clusters[3].ID, "Lonely", "Not grouped by the model."); err != nil {
		t.Fatalf("UpdateLabel: %v", err)
	}

	grouper := &fakeGrouper{propose: func(briefs []llm.ClusterBrief) llm.Grouping {
		return llm.Grouping{Groups: []llm.ProposedGroup{
			{Name: "Group A", Description: "First.", ClusterIDs: []int64{briefs[0].ID, briefs[1].ID}},
			{Name: "Group B", Description: "Second.", ClusterIDs: []int64{briefs[1].ID, briefs[2].ID, 9999}},
		}}
	}}
	p := newTestPipeline(t, db, nil, grouper, nil)

	result, err := p.Group(ctx, GroupOptions{Scope: scope})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if result.Unlabeled != 3 {
		t.Errorf("Unlabeled = %d, want 3", result.Unlabeled)
	}
	if len(result.Repairs.Duplicates) != 1 || result.Repairs.Duplicates[0].ClusterID != clusters[1].ID {
		t.Errorf("duplicates = %+v", result.Repairs.Duplicates)
	}

	stored, err := db.Groups().ListByScope(ctx, scope)
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored groups, got %d", len(stored))
	}
	if stored[2].Name != "Lonely" || len(stored[2].ClusterIDs) != 1 {
		t.Errorf("singleton group = %+v", stored[2])
	}
	seen := make(map[int64]int)
	for _, g := range stored {
		for _, id := range g.ClusterIDs {
			seen[id]++
		}
	}
	for _, c := range clusters {
		if seen[c.ID] != 1 {
			t.Errorf("cluster %d appears in %d groups", c.ID, seen[c.ID])
		}
	}
	if !strings.HasSuffix(result.ReportPath, "semantic_groups_complaints_reduced_2d_report.txt") {
		t.Errorf("report path = %q", result.ReportPath)
	}

	status, _ := db.ScopeStatus(ctx, scope)
	if status.State != core.StateGrouped {
		t.Errorf("state = %s, want grouped", status.State)
	}

	// regrouping replaces instead of appending
	if _, err := p.Group(ctx, GroupOptions{Scope: scope}); err != nil {
		t.Fatalf("second Group: %v", err)
	}
	again, _ := db.Groups().ListByScope(ctx, scope)
	if len(again) != 3 {
		t.Errorf("regrouping left %d groups, want 3", len(again))
	}
}

func TestGroupNeedsTwoClusters(t *testing.T) {
	db := newTestDB(t)
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 2))
	partition(t, db, scope, ids, []int{0, 0})

	grouper := &fakeGrouper{}
	p := newTestPipeline(t, db, nil, grouper, nil)
	_, err := p.Group(context.Background(), GroupOptions{Scope: scope})
	if !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}
	if grouper.calls != 0 {
		t.Error("grouper should not be called")
	}
}

func TestGroupModelFailureLeavesGroupsUntouched(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scope := core.NewScope(testCompany, core.KindComplaints, 2)
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 4))
	clusters := partition(t, db, scope, ids, []int{0, 0, 1, 1})
	existing := []core.ClusterGroup{{Name: "Old", Description: "d", ClusterIDs: []int64{clusters[0].ID, clusters[1].ID}}}
	if _, err := db.Groups().ReplaceScope(ctx, scope, existing); err != nil {
		t.Fatalf("ReplaceScope: %v", err)
	}

	p := newTestPipeline(t, db, nil, &fakeGrouper{err: errors.New("quota exceeded")}, nil)
	if _, err := p.Group(ctx, GroupOptions{Scope: scope}); err == nil {
		t.Fatal("expected error")
	}
	groups, _ := db.Groups().ListByScope(ctx, scope)
	if len(groups) != 1 || groups[0].Name != "Old" {
		t.Errorf("groups changed after failure: %+v", groups)
	}
}

func TestReduceUsesSourceEmbeddingsOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ids := seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 10))
	source := randomVectors(10, core.OriginalDimensions)
	seedVectors(t, db, core.KindComplaints, ids, source)
	// an unrelated reduced set must not feed the new reduction
	seedVectors(t, db, core.KindComplaints, ids, randomVectors(10, 3))

	p := newTestPipeline(t, db, nil, nil, nil)
	result, err := p.Reduce(ctx, ReduceOptions{Company: testCompany, Kind: core.KindComplaints, Components: 5})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if result.Written != 10 || result.Neighbors != 9 {
		t.Fatalf("result = %+v, want 10 written with 9 neighbors", result)
	}

	cfg := p.config.Reduction
	cfg.Components = 5
	direct, err := reduction.Reduce(source, cfg)
	if err != nil {
		t.Fatalf("direct Reduce: %v", err)
	}
	stored, err := db.Embeddings().ListForScope(ctx, testCompany, core.KindComplaints, 5)
	if err != nil {
		t.Fatalf("ListForScope: %v", err)
	}
	if len(stored) != 10 {
		t.Fatalf("stored %d reduced embeddings, want 10", len(stored))
	}
	for i, e := range stored {
		for d := range e.Vector {
			if math.Abs(e.Vector[d]-direct.Embedding[i][d]) > 1e-4 {
				t.Fatalf("item %d dim %d: stored %v, direct %v", e.ItemID, d, e.Vector[d], direct.Embedding[i][d])
			}
		}
	}

	for _, dims := range []int{core.OriginalDimensions, 3} {
		n, _ := db.Embeddings().CountForScope(ctx, testCompany, core.KindComplaints, dims)
		if n != 10 {
			t.Errorf("%dD embeddings = %d after reduction, want 10", dims, n)
		}
	}

	again, err := p.Reduce(ctx, ReduceOptions{Company: testCompany, Kind: core.KindComplaints, Components: 5})
	if err != nil || !again.Skipped {
		t.Errorf("second run should skip: %+v, %v", again, err)
	}
	forced, err := p.Reduce(ctx, ReduceOptions{Company: testCompany, Kind: core.KindComplaints, Components: 5, Force: true})
	if err != nil || forced.Written != 10 || forced.Deleted != 10 {
		t.Errorf("forced run: %+v, %v", forced, err)
	}
}

func TestReduceRejectsBadInput(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedItems(t, db, core.KindComplaints, numberedTexts("complaint", 1))
	p := newTestPipeline(t, db, nil, nil, nil)

	if _, err := p.Reduce(ctx, ReduceOptions{Company: testCompany, Kind: core.KindComplaints, Components: core.OriginalDimensions}); err == nil {
		t.Error("expected error when reducing to the source dimensionality")
	}
	if _, err := p.Reduce(ctx, ReduceOptions{Company: testCompany, Kind: core.KindComplaints, Components: 5}); !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}
}

func TestEmbedSkipsDuplicatesAndIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedItems(t, db, core.KindValueDrivers, []string{"fast", "cheap", "fast", "reliable", "simple"})

	embedder := &fakeEmbedder{failOn: "reliable"}
	p := newTestPipeline(t, db, nil, nil, embedder)

	result, err := p.Embed(ctx, EmbedOptions{Company: testCompany, Kind: core.KindValueDrivers, Limit: 3})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if result.Missing != 5 || result.Duplicates != 1 {
		t.Errorf("result = %+v, want 5 missing and 1 duplicate", result)
	}
	if len(embedder.calls) != 3 || result.Embedded != 2 || result.Failed != 1 {
		t.Errorf("calls=%v result=%+v, want 3 calls, 2 embedded, 1 failed", embedder.calls, result)
	}

	n, _ := db.Embeddings().CountForScope(ctx, testCompany, core.KindValueDrivers, core.OriginalDimensions)
	if n != 2 {
		t.Errorf("stored %d embeddings, want 2", n)
	}

	embedder.calls = nil
	embedder.failOn = ""
	result, err = p.Embed(ctx, EmbedOptions{Company: testCompany, Kind: core.KindValueDrivers})
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	// the repeated "fast" is embedded now that its twin is no longer missing
	if result.Missing != 3 || result.Duplicates != 0 || result.Embedded != 3 {
		t.Errorf("second run: %+v (calls %v)", result, embedder.calls)
	}

	wrong := &fakeEmbedder{dims: 8}
	p = newTestPipeline(t, db, nil, nil, wrong)
	result, err = p.Embed(ctx, EmbedOptions{Company: testCompany, Kind: core.KindValueDrivers, Force: true})
	if err != nil {
		t.Fatalf("forced Embed: %v", err)
	}
	if result.Deleted != 5 || result.Failed != 4 || result.Embedded != 0 {
		t.Errorf("forced run with wrong dimensions: %+v", result)
	}
}

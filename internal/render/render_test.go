package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dora/internal/core"
	"dora/internal/persistence"
)

func strPtr(s string) *string { return &s }

func TestReportNames(t *testing.T) {
	tests := []struct {
		scope    core.Scope
		grouping string
		clusters string
	}{
		{
			scope:    core.NewScope("acme", core.KindComplaints, 1536),
			grouping: "semantic_groups_complaints_original_report.txt",
			clusters: "clusters_complaints_original_report.txt",
		},
		{
			scope:    core.NewScope("acme", core.KindUseCases, 5),
			grouping: "semantic_groups_use_cases_reduced_5d_report.txt",
			clusters: "clusters_use_cases_reduced_5d_report.txt",
		},
	}
	for _, tt := range tests {
		if got := GroupingReportName(tt.scope); got != tt.grouping {
			t.Errorf("GroupingReportName = %q, want %q", got, tt.grouping)
		}
		if got := ClusterReportName(tt.scope); got != tt.clusters {
			t.Errorf("ClusterReportName = %q, want %q", got, tt.clusters)
		}
	}
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")

	path, err := WriteReport("hello", dir, "report.txt")
	if err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	if path != filepath.Join(dir, "report.txt") {
		t.Errorf("path = %q", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q", content)
	}
}

func TestRenderClusterReport(t *testing.T) {
	report := RenderClusterReport(ClusterReport{
		Scope: core.NewScope("acme", core.KindComplaints, 5),
		RunID: "run-1",
		Total: 3,
		Clusters: []ClusterSection{{
			Label:     0,
			ClusterID: 42,
			Items: []ReportItem{{
				ItemID:     7,
				Text:       "Sync is slow",
				Quote:      "it takes forever",
				Source:     core.SourceRef{Kind: core.SourceReview, ID: "r1"},
				SourceText: "Sync takes forever on my phone",
			}},
		}},
		Noise: []ReportItem{{ItemID: 8, Text: "Random"}, {ItemID: 9, Text: "Other"}},
	})

	for _, want := range []string{
		"CLUSTERING RESULTS (COMPLAINTS)",
		"Number of clusters: 1",
		"Noise points (unclustered): 2",
		"CLUSTER 0 (DB ID: 42) - 1 complaints",
		"Complaint: Sync is slow",
		`Quote: "it takes forever"`,
		"Source (review:r1)",
		"NOISE (Unclustered) - 2 complaints",
		"Noise: 2 complaints",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "Silhouette") {
		t.Error("silhouette should only be shown with two or more clusters")
	}
}

func TestRenderGroupingReport(t *testing.T) {
	scope := core.NewScope("acme", core.KindComplaints, 1536)
	clusters := map[int64]core.Cluster{
		1: {ID: 1, Label: strPtr("Billing Errors"), Summary: strPtr("Charged twice."), Size: 4},
		2: {ID: 2, Size: 6},
	}
	groups := []core.ClusterGroup{
		{Name: "Money", Description: "Payment problems.", ClusterIDs: []int64{1, 2}},
	}

	report := RenderGroupingReport(scope, groups, clusters)
	for _, want := range []string{
		"SEMANTIC CLUSTER GROUPING",
		"Number of groups: 1",
		"GROUP 1: Money",
		"Clusters: 2 | Total complaints: 10",
		"• Billing Errors (4 complaints)",
		"• Cluster 2 (6 complaints)",
		"No summary available",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestStatusTable(t *testing.T) {
	if out := StatusTable(nil); !strings.Contains(out, "No clustered scopes") {
		t.Errorf("empty table = %q", out)
	}

	out := StatusTable([]persistence.ScopeStatus{{
		Scope:      core.NewScope("acme", core.KindInsights, 5),
		State:      core.StateLabeled,
		Embeddings: 20,
		Clusters:   3,
		Labeled:    3,
		Clustered:  17,
		Noise:      3,
	}})
	for _, want := range []string{"acme", "insights", "reduced", "labeled", "3/3", "17"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

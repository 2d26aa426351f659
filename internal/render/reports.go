package render

import (
	"fmt"
	"strings"

	"dora/internal/core"
)

var rule = strings.Repeat("=", 80)

// ReportItem is one item as it appears in the clustering report.
type ReportItem struct {
	ItemID     int64
	Text       string
	Quote      string
	Source     core.SourceRef
	SourceText string // empty when the source could not be resolved
}

// ClusterSection lists the members of one persisted cluster.
type ClusterSection struct {
	Label     int
	ClusterID int64
	Items     []ReportItem
}

// ClusterReport is the outcome of one clustering run.
type ClusterReport struct {
	Scope      core.Scope
	RunID      string
	Total      int
	Clusters   []ClusterSection
	Noise      []ReportItem
	Silhouette float64
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeItems(b *strings.Builder, items []ReportItem, noun string) {
	for i, item := range items {
		fmt.Fprintf(b, "\n%d. [ID: %d]\n", i+1, item.ItemID)
		fmt.Fprintf(b, "   %s: %s\n", noun, item.Text)
		if item.Quote != "" {
			fmt.Fprintf(b, "   Quote: %q\n", item.Quote)
		}
		if item.SourceText != "" {
			fmt.Fprintf(b, "   Source (%s): %q\n", item.Source, item.SourceText)
		}
	}
	b.WriteString("\n")
}

// RenderClusterReport formats a clustering run: every cluster with its
// members and their source documents, the noise set, then summary counts.
func RenderClusterReport(r ClusterReport) string {
	var b strings.Builder
	kind := string(r.Scope.Kind)
	noun := capitalize(r.Scope.Kind.Singular())

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "CLUSTERING RESULTS (%s)\n", strings.ToUpper(kind))
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Scope: %s\n", r.Scope)
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	}
	fmt.Fprintf(&b, "\nTotal %s: %d\n", kind, r.Total)
	fmt.Fprintf(&b, "Number of clusters: %d\n", len(r.Clusters))
	fmt.Fprintf(&b, "Noise points (unclustered): %d\n", len(r.Noise))
	if len(r.Clusters) > 1 {
		fmt.Fprintf(&b, "Silhouette score: %.3f\n", r.Silhouette)
	}
	b.WriteString("\n")

	for _, c := range r.Clusters {
		b.WriteString(rule + "\n")
		fmt.Fprintf(&b, "CLUSTER %d (DB ID: %d) - %d %s\n", c.Label, c.ClusterID, len(c.Items), kind)
		b.WriteString(rule + "\n")
		writeItems(&b, c.Items, noun)
	}
	if len(r.Noise) > 0 {
		b.WriteString(rule + "\n")
		fmt.Fprintf(&b, "NOISE (Unclustered) - %d %s\n", len(r.Noise), kind)
		b.WriteString(rule + "\n")
		writeItems(&b, r.Noise, noun)
	}

	b.WriteString(rule + "\n")
	b.WriteString("CLUSTER SUMMARY\n")
	b.WriteString(rule + "\n")
	for _, c := range r.Clusters {
		fmt.Fprintf(&b, "Cluster %d (DB ID: %d): %d %s\n", c.Label, c.ClusterID, len(c.Items), kind)
	}
	if len(r.Noise) > 0 {
		fmt.Fprintf(&b, "Noise: %d %s\n", len(r.Noise), kind)
	}
	b.WriteString(rule + "\n")
	return b.String()
}

// RenderGroupingReport formats the semantic groups of a scope. Clusters
// missing from the lookup are skipped.
func RenderGroupingReport(scope core.Scope, groups []core.ClusterGroup, clusters map[int64]core.Cluster) string {
	var b strings.Builder
	kind := string(scope.Kind)

	b.WriteString(rule + "\n")
	b.WriteString("SEMANTIC CLUSTER GROUPING\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Scope: %s\n", scope)
	fmt.Fprintf(&b, "Number of groups: %d\n\n", len(groups))

	for i, g := range groups {
		total := 0
		for _, id := range g.ClusterIDs {
			total += clusters[id].Size
		}

		b.WriteString(rule + "\n")
		fmt.Fprintf(&b, "GROUP %d: %s\n", i+1, g.Name)
		b.WriteString(rule + "\n")
		fmt.Fprintf(&b, "Description: %s\n", g.Description)
		fmt.Fprintf(&b, "Clusters: %d | Total %s: %d\n\n", len(g.ClusterIDs), kind, total)

		for _, id := range g.ClusterIDs {
			c, ok := clusters[id]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  • %s (%d %s)\n", c.DisplayLabel(), c.Size, kind)
			fmt.Fprintf(&b, "    %s\n\n", c.DisplaySummary())
		}
		b.WriteString("\n")
	}
	return b.String()
}
